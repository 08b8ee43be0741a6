package mpegts

import (
	"errors"
	"fmt"
)

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

// Elementary stream types carried in the PMT.
const (
	StreamTypeH264 = 0x1B
	StreamTypeH265 = 0x24
)

var errCRC = errors.New("mpegts: CRC32 mismatch")

// MPEG-2 CRC32, polynomial 0x04C11DB7, not reflected.
var crcTable = func() (t [256]uint32) {
	for i := range t {
		crc := uint32(i) << 24
		for range 8 {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}()

func crc32MPEG(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}

type esEntry struct {
	pid        uint16
	streamType uint8
}

// sectionLength returns the total length of the section starting at data,
// or -1 if the header is incomplete.
func sectionLength(data []byte) int {
	if len(data) < 3 {
		return -1
	}
	return 3 + (int(data[1]&0x0F)<<8 | int(data[2]))
}

func checkSection(data []byte, tableID byte, minLen int) error {
	if len(data) < minLen {
		return fmt.Errorf("mpegts: section 0x%02X too short (%d bytes)", tableID, len(data))
	}
	if data[0] != tableID {
		return fmt.Errorf("mpegts: table id 0x%02X, expected 0x%02X", data[0], tableID)
	}
	if data[1]&0x80 == 0 {
		return fmt.Errorf("mpegts: section 0x%02X without syntax indicator", tableID)
	}
	if crc32MPEG(data) != 0 {
		return errCRC
	}
	return nil
}

// parsePAT returns the PMT PIDs of every program, skipping the NIT.
func parsePAT(data []byte) ([]uint16, error) {
	if err := checkSection(data, tableIDPAT, 12); err != nil {
		return nil, err
	}
	var pids []uint16
	for i := 8; i+4 <= len(data)-4; i += 4 {
		program := uint16(data[i])<<8 | uint16(data[i+1])
		if program == 0 {
			continue
		}
		pids = append(pids, uint16(data[i+2]&0x1F)<<8|uint16(data[i+3]))
	}
	return pids, nil
}

func parsePMT(data []byte) ([]esEntry, error) {
	if err := checkSection(data, tableIDPMT, 16); err != nil {
		return nil, err
	}
	end := len(data) - 4
	offset := 12 + (int(data[10]&0x0F)<<8 | int(data[11]))

	var streams []esEntry
	for offset+5 <= end {
		streams = append(streams, esEntry{
			streamType: data[offset],
			pid:        uint16(data[offset+1]&0x1F)<<8 | uint16(data[offset+2]),
		})
		offset += 5 + (int(data[offset+3]&0x0F)<<8 | int(data[offset+4]))
	}
	return streams, nil
}
