package bitstream

import "errors"

// ErrShortData is returned when a parameter set ends before a required
// field.
var ErrShortData = errors.New("bitstream: data too short")

// bitReader reads MSB-first bits and Exp-Golomb codes from an RBSP.
type bitReader struct {
	data []byte
	pos  int
	bit  int
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (br *bitReader) readBit() (uint, error) {
	if br.pos >= len(br.data) {
		return 0, ErrShortData
	}
	val := uint((br.data[br.pos] >> (7 - br.bit)) & 1)
	br.bit++
	if br.bit == 8 {
		br.bit = 0
		br.pos++
	}
	return val, nil
}

func (br *bitReader) readBits(n int) (uint, error) {
	var val uint
	for range n {
		b, err := br.readBit()
		if err != nil {
			return 0, err
		}
		val = val<<1 | b
	}
	return val, nil
}

func (br *bitReader) readFlag() (bool, error) {
	b, err := br.readBit()
	return b == 1, err
}

func (br *bitReader) readUE() (uint, error) {
	zeros := 0
	for {
		b, err := br.readBit()
		if err != nil {
			return 0, err
		}
		if b == 1 {
			break
		}
		zeros++
		if zeros > 31 {
			return 0, ErrShortData
		}
	}
	if zeros == 0 {
		return 0, nil
	}
	suffix, err := br.readBits(zeros)
	if err != nil {
		return 0, err
	}
	return (1 << zeros) - 1 + suffix, nil
}

func (br *bitReader) readSE() (int, error) {
	val, err := br.readUE()
	if err != nil {
		return 0, err
	}
	if val%2 == 0 {
		return -int(val / 2), nil
	}
	return int((val + 1) / 2), nil
}

// skipUE discards n Exp-Golomb codes.
func (br *bitReader) skipUE(n int) error {
	for range n {
		if _, err := br.readUE(); err != nil {
			return err
		}
	}
	return nil
}

func (br *bitReader) skipScalingList(size int) error {
	last, next := 8, 8
	for range size {
		if next != 0 {
			delta, err := br.readSE()
			if err != nil {
				return err
			}
			next = (last + delta + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
	return nil
}

// unescapeRBSP removes emulation-prevention bytes (00 00 03 → 00 00).
func unescapeRBSP(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 &&
			(i+3 >= len(data) || data[i+3] <= 3) {
			out = append(out, 0, 0)
			i += 2
			continue
		}
		out = append(out, data[i])
	}
	return out
}
