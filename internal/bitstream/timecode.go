package bitstream

import "fmt"

// Timecode is a SMPTE 12M timecode carried in an H.264 pic_timing SEI.
type Timecode struct {
	Hours   int
	Minutes int
	Seconds int
	Frames  int
}

func (tc Timecode) String() string {
	return fmt.Sprintf("%02d:%02d:%02d:%02d", tc.Hours, tc.Minutes, tc.Seconds, tc.Frames)
}

const seiPicTiming = 1

// ParsePicTimingSEI extracts the first clock timestamp of a pic_timing SEI
// message. The SPS supplies the HRD field lengths.
func ParsePicTimingSEI(sei []byte, sps SPSInfo) (Timecode, bool) {
	if len(sei) < 2 || !sps.PicStructPresent || !sps.HRDPresent {
		return Timecode{}, false
	}
	rbsp := unescapeRBSP(sei[1:])
	for i := 0; i < len(rbsp) && rbsp[i] != 0x80; {
		var typ, size int
		var ok bool
		if typ, i, ok = seiVarint(rbsp, i); !ok {
			break
		}
		if size, i, ok = seiVarint(rbsp, i); !ok {
			break
		}
		if i+size > len(rbsp) {
			break
		}
		if typ == seiPicTiming {
			if tc, ok := parsePicTiming(rbsp[i:i+size], sps); ok {
				return tc, true
			}
		}
		i += size
	}
	return Timecode{}, false
}

// seiVarint reads an SEI payload type or size: a run of 0xFF bytes each
// worth 255, then a final byte.
func seiVarint(b []byte, i int) (val, next int, ok bool) {
	for i < len(b) && b[i] == 0xFF {
		val += 255
		i++
	}
	if i >= len(b) {
		return 0, i, false
	}
	return val + int(b[i]), i + 1, true
}

func parsePicTiming(payload []byte, sps SPSInfo) (Timecode, bool) {
	br := newBitReader(payload)
	br.readBits(sps.CpbRemovalDelayLen)
	br.readBits(sps.DpbOutputDelayLen)

	picStruct, err := br.readBits(4)
	if err != nil {
		return Timecode{}, false
	}
	clocks := 1
	switch picStruct {
	case 3, 4:
		clocks = 2
	case 5, 6, 7, 8:
		clocks = 3
	}

	for range clocks {
		if present, err := br.readFlag(); err != nil {
			return Timecode{}, false
		} else if !present {
			continue
		}
		br.readBits(2) // ct_type
		br.readBit()   // nuit_field_based_flag
		br.readBits(5) // counting_type
		full, _ := br.readFlag()
		br.readBits(2) // discontinuity_flag, cnt_dropped_flag
		frames, _ := br.readBits(8)

		var secs, mins, hours uint
		if full {
			secs, _ = br.readBits(6)
			mins, _ = br.readBits(6)
			hours, _ = br.readBits(5)
		} else if f, _ := br.readFlag(); f {
			secs, _ = br.readBits(6)
			if f, _ := br.readFlag(); f {
				mins, _ = br.readBits(6)
				if f, _ := br.readFlag(); f {
					hours, _ = br.readBits(5)
				}
			}
		}
		if sps.TimeOffsetLen > 0 {
			br.readBits(sps.TimeOffsetLen)
		}
		return Timecode{Hours: int(hours), Minutes: int(mins), Seconds: int(secs), Frames: int(frames)}, true
	}
	return Timecode{}, false
}
