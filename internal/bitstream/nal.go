package bitstream

import "fmt"

// Codec selects the NAL unit syntax of a stream.
type Codec int

// Supported codecs.
const (
	H264 Codec = iota
	H265
)

func (c Codec) String() string {
	switch c {
	case H264:
		return "h264"
	case H265:
		return "h265"
	default:
		return fmt.Sprintf("codec(%d)", int(c))
	}
}

// ParseCodec maps a configuration string onto a Codec.
func ParseCodec(s string) (Codec, error) {
	switch s {
	case "h264", "avc", "H264":
		return H264, nil
	case "h265", "hevc", "H265":
		return H265, nil
	default:
		return 0, fmt.Errorf("bitstream: unknown codec %q", s)
	}
}

// H.264 NAL unit types (ITU-T H.264 Table 7-1).
const (
	NALTypeSlice      = 1
	NALTypeIDR        = 5
	NALTypeSEI        = 6
	NALTypeSPS        = 7
	NALTypePPS        = 8
	NALTypeAUD        = 9
	NALTypeEndSeq     = 10
	NALTypeFillerData = 12
)

// H.265 NAL unit types (ITU-T H.265 Table 7-1).
const (
	HEVCNALBlaWLP     = 16
	HEVCNALIDRWRadl   = 19
	HEVCNALIDRNlp     = 20
	HEVCNALCraNut     = 21
	HEVCNALVPS        = 32
	HEVCNALSPS        = 33
	HEVCNALPPS        = 34
	HEVCNALAUD        = 35
	HEVCNALFillerData = 38
	HEVCNALSEIPrefix  = 39
)

// NALUnit is one NAL unit of an Annex B stream.
type NALUnit struct {
	Type byte
	// Data holds the NAL header and payload, without the start code.
	Data []byte
}

// HEVCNALType extracts the type from the first byte of a 2-byte HEVC NAL
// header.
func HEVCNALType(firstByte byte) byte {
	return (firstByte >> 1) & 0x3F
}

// headerLen returns the NAL header size of c.
func (c Codec) headerLen() int {
	if c == H265 {
		return 2
	}
	return 1
}

func (c Codec) nalType(d []byte) byte {
	if c == H265 {
		return HEVCNALType(d[0])
	}
	return d[0] & 0x1F
}

// IsVCL reports whether t carries slice data.
func (c Codec) IsVCL(t byte) bool {
	if c == H265 {
		return t < 32
	}
	return t >= NALTypeSlice && t <= NALTypeIDR
}

// IsKeyframe reports whether t is a random access point.
func (c Codec) IsKeyframe(t byte) bool {
	if c == H265 {
		return t >= HEVCNALBlaWLP && t <= HEVCNALCraNut
	}
	return t == NALTypeIDR
}

// IsSPS reports whether t is a sequence parameter set.
func (c Codec) IsSPS(t byte) bool {
	if c == H265 {
		return t == HEVCNALSPS
	}
	return t == NALTypeSPS
}

// IsParameterSet reports whether t is a VPS, SPS or PPS.
func (c Codec) IsParameterSet(t byte) bool {
	if c == H265 {
		return t >= HEVCNALVPS && t <= HEVCNALPPS
	}
	return t == NALTypeSPS || t == NALTypePPS
}

// IsSEI reports whether t is a (prefix) SEI message.
func (c Codec) IsSEI(t byte) bool {
	if c == H265 {
		return t == HEVCNALSEIPrefix
	}
	return t == NALTypeSEI
}

// IsAUD reports whether t is an access unit delimiter.
func (c Codec) IsAUD(t byte) bool {
	if c == H265 {
		return t == HEVCNALAUD
	}
	return t == NALTypeAUD
}

// startsAccessUnit reports whether a non-VCL NAL of type t may only appear
// before the first slice of an access unit.
func (c Codec) startsAccessUnit(t byte) bool {
	if c == H265 {
		return (t >= HEVCNALVPS && t <= HEVCNALAUD) || t == HEVCNALSEIPrefix || (t >= 41 && t <= 44)
	}
	return t == NALTypeSEI || t == NALTypeSPS || t == NALTypePPS || t == NALTypeAUD || (t >= 14 && t <= 18)
}

// firstSliceOfPicture reports whether a VCL NAL begins a new picture:
// first_mb_in_slice == 0 for H.264, first_slice_segment_in_pic_flag for
// H.265. Both are the first bit after the NAL header.
func (c Codec) firstSliceOfPicture(nal []byte) bool {
	h := c.headerLen()
	if len(nal) <= h {
		return false
	}
	return nal[h]&0x80 != 0
}

// startCode describes one Annex B start code.
type startCode struct {
	start int // first byte of the prefix
	data  int // first byte of the NAL unit
}

// nextStartCode finds the first start code at or after from. Zero bytes
// directly before 00 00 01 are treated as part of the prefix.
func nextStartCode(data []byte, from int) (startCode, bool) {
	for i := from; i+2 < len(data); i++ {
		if data[i] != 0 || data[i+1] != 0 {
			continue
		}
		if data[i+2] == 1 {
			start := i
			for start > from && data[start-1] == 0 {
				start--
			}
			return startCode{start: start, data: i + 3}, true
		}
	}
	return startCode{}, false
}

// ParseAnnexB splits an Annex B byte stream into NAL units. Both 3-byte
// and 4-byte start codes are recognized.
func ParseAnnexB(c Codec, data []byte) []NALUnit {
	var units []NALUnit
	minLen := c.headerLen()
	sc, ok := nextStartCode(data, 0)
	for ok {
		next, more := nextStartCode(data, sc.data)
		end := len(data)
		if more {
			end = next.start
		}
		if nal := data[sc.data:end]; len(nal) >= minLen {
			units = append(units, NALUnit{Type: c.nalType(nal), Data: nal})
		}
		sc, ok = next, more
	}
	return units
}

// AccessUnitInfo summarizes the NAL units of one access unit.
type AccessUnitInfo struct {
	VCL      int
	Keyframe bool
	// ConfigOnly is set when the unit carries parameter sets but no
	// slice data.
	ConfigOnly bool
	SPS        []byte
	SEI        [][]byte
}

// Inspect classifies the NAL units of an access unit.
func Inspect(c Codec, au []byte) AccessUnitInfo {
	var info AccessUnitInfo
	params := 0
	for _, n := range ParseAnnexB(c, au) {
		switch {
		case c.IsVCL(n.Type):
			info.VCL++
			if c.IsKeyframe(n.Type) {
				info.Keyframe = true
			}
		case c.IsSPS(n.Type):
			info.SPS = n.Data
			params++
		case c.IsParameterSet(n.Type):
			params++
		case c.IsSEI(n.Type):
			info.SEI = append(info.SEI, n.Data)
		}
	}
	info.ConfigOnly = info.VCL == 0 && params > 0
	return info
}
