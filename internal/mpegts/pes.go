package mpegts

import "fmt"

// parsePESHeader returns the offset of the elementary stream data within
// the first payload of a PES packet and its PTS, if present.
func parsePESHeader(payload []byte) (dataStart int, pts int64, hasPTS bool, err error) {
	if len(payload) < 9 || payload[0] != 0 || payload[1] != 0 || payload[2] != 1 {
		return 0, 0, false, fmt.Errorf("mpegts: invalid PES start")
	}
	if payload[3]&0xF0 != 0xE0 {
		return 0, 0, false, fmt.Errorf("mpegts: PES stream id 0x%02X is not video", payload[3])
	}

	dataStart = 9 + int(payload[8])
	if dataStart > len(payload) {
		return 0, 0, false, fmt.Errorf("mpegts: PES header length %d exceeds packet", payload[8])
	}
	if payload[7]&0x80 != 0 && len(payload) >= 14 {
		pts, hasPTS = decodeTimestamp(payload[9:14]), true
	}
	return dataStart, pts, hasPTS, nil
}

// decodeTimestamp extracts a 33-bit 90 kHz timestamp from its 5-byte
// PES encoding.
func decodeTimestamp(bs []byte) int64 {
	return int64(bs[0]>>1&0x07)<<30 |
		int64(bs[1])<<22 |
		int64(bs[2]>>1)<<15 |
		int64(bs[3])<<7 |
		int64(bs[4]>>1)
}
