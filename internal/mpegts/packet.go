package mpegts

import "fmt"

const (
	packetSize = 188
	syncByte   = 0x47

	pidPAT  = 0x0000
	pidNull = 0x1FFF
)

type packet struct {
	pid           uint16
	cc            uint8
	start         bool // payload_unit_start_indicator
	transportErr  bool
	discontinuity bool
	hasPayload    bool
	payload       []byte
}

// parsePacket decodes a 188-byte packet. The payload aliases buf.
func parsePacket(buf []byte) (packet, error) {
	if len(buf) != packetSize {
		return packet{}, fmt.Errorf("mpegts: packet size %d, expected %d", len(buf), packetSize)
	}
	if buf[0] != syncByte {
		return packet{}, fmt.Errorf("mpegts: invalid sync byte 0x%02X", buf[0])
	}

	p := packet{
		transportErr: buf[1]&0x80 != 0,
		start:        buf[1]&0x40 != 0,
		pid:          uint16(buf[1]&0x1F)<<8 | uint16(buf[2]),
		hasPayload:   buf[3]&0x10 != 0,
		cc:           buf[3] & 0x0F,
	}

	offset := 4
	if buf[3]&0x20 != 0 {
		afLen := int(buf[offset])
		if afLen > 0 {
			p.discontinuity = buf[offset+1]&0x80 != 0
		}
		offset += 1 + afLen
	}
	if p.hasPayload && offset < packetSize {
		p.payload = buf[offset:]
	}
	return p, nil
}
