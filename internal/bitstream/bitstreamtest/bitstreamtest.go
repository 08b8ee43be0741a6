// Package bitstreamtest builds small synthetic H.264 and H.265 streams for
// tests: parameter sets with chosen dimensions and minimal slices.
package bitstreamtest

// bitWriter writes MSB-first bits and Exp-Golomb codes.
type bitWriter struct {
	buf  []byte
	nbit int
}

func (w *bitWriter) bit(b uint) {
	if w.nbit%8 == 0 {
		w.buf = append(w.buf, 0)
	}
	if b != 0 {
		w.buf[len(w.buf)-1] |= 1 << (7 - w.nbit%8)
	}
	w.nbit++
}

func (w *bitWriter) bits(v uint, n int) {
	for i := n - 1; i >= 0; i-- {
		w.bit((v >> i) & 1)
	}
}

func (w *bitWriter) ue(v uint) {
	v++
	n := 0
	for t := v; t > 1; t >>= 1 {
		n++
	}
	w.bits(0, n)
	w.bits(v, n+1)
}

// trailing writes rbsp_trailing_bits.
func (w *bitWriter) trailing() []byte {
	w.bit(1)
	for w.nbit%8 != 0 {
		w.bit(0)
	}
	return w.buf
}

// escape inserts emulation-prevention bytes.
func escape(rbsp []byte) []byte {
	out := make([]byte, 0, len(rbsp)+4)
	zeros := 0
	for _, b := range rbsp {
		if zeros >= 2 && b <= 3 {
			out = append(out, 3)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

func align(n, a int) int {
	return (n + a - 1) / a * a
}

// H264SPS returns a baseline-profile SPS NAL unit (header included) for a
// width×height 4:2:0 picture, cropping when the size is not a multiple of
// 16.
func H264SPS(width, height int) []byte {
	cw, ch := align(width, 16), align(height, 16)
	var w bitWriter
	w.bits(66, 8) // profile_idc
	w.bits(0xC0, 8)
	w.bits(30, 8) // level_idc
	w.ue(0)       // seq_parameter_set_id
	w.ue(0)       // log2_max_frame_num_minus4
	w.ue(0)       // pic_order_cnt_type
	w.ue(0)       // log2_max_pic_order_cnt_lsb_minus4
	w.ue(1)       // max_num_ref_frames
	w.bit(0)      // gaps_in_frame_num_value_allowed_flag
	w.ue(uint(cw/16 - 1))
	w.ue(uint(ch/16 - 1))
	w.bit(1) // frame_mbs_only_flag
	w.bit(1) // direct_8x8_inference_flag
	if cw != width || ch != height {
		w.bit(1)
		w.ue(0)
		w.ue(uint((cw - width) / 2))
		w.ue(0)
		w.ue(uint((ch - height) / 2))
	} else {
		w.bit(0)
	}
	w.bit(0) // vui_parameters_present_flag
	return append([]byte{0x67}, escape(w.trailing())...)
}

// H264PPS returns a minimal PPS NAL unit.
func H264PPS() []byte {
	return []byte{0x68, 0xCE, 0x38, 0x80}
}

// H264Slice returns a slice NAL unit. first marks the first slice of a
// picture (first_mb_in_slice == 0).
func H264Slice(idr, first bool) []byte {
	hdr := byte(0x41)
	if idr {
		hdr = 0x65
	}
	body := byte(0x08) // first_mb_in_slice = 3
	if first {
		body = 0x88
	}
	return []byte{hdr, body, 0x84, 0x00, 0xFF}
}

// H264AUD returns an access unit delimiter.
func H264AUD() []byte {
	return []byte{0x09, 0xF0}
}

// HEVCSPS returns a Main-profile SPS NAL unit (2-byte header included) for
// a width×height 4:2:0 picture. Coded dimensions are rounded up to 8 with
// a conformance window.
func HEVCSPS(width, height int) []byte {
	cw, ch := align(width, 8), align(height, 8)
	var w bitWriter
	w.bits(0, 4) // sps_video_parameter_set_id
	w.bits(0, 3) // sps_max_sub_layers_minus1
	w.bit(1)     // sps_temporal_id_nesting_flag
	w.bits(0, 2) // general_profile_space
	w.bit(0)     // general_tier_flag
	w.bits(1, 5) // general_profile_idc
	w.bits(0x6000, 16)
	w.bits(0, 16)
	w.bits(0x9000, 16) // progressive_source_flag, frame_only_constraint_flag
	w.bits(0, 16)
	w.bits(0, 16)
	w.bits(93, 8) // general_level_idc
	w.ue(0)       // sps_seq_parameter_set_id
	w.ue(1)       // chroma_format_idc
	w.ue(uint(cw))
	w.ue(uint(ch))
	if cw != width || ch != height {
		w.bit(1)
		w.ue(0)
		w.ue(uint((cw - width) / 2))
		w.ue(0)
		w.ue(uint((ch - height) / 2))
	} else {
		w.bit(0)
	}
	w.ue(0) // bit_depth_luma_minus8
	w.ue(0) // bit_depth_chroma_minus8
	return append([]byte{0x42, 0x01}, escape(w.trailing())...)
}

// HEVCVPS returns a placeholder VPS NAL unit.
func HEVCVPS() []byte {
	return []byte{0x40, 0x01, 0x0C, 0x01, 0xFF, 0xFF}
}

// HEVCPPS returns a placeholder PPS NAL unit.
func HEVCPPS() []byte {
	return []byte{0x44, 0x01, 0xC1, 0x72}
}

// HEVCSlice returns a slice segment NAL unit. first sets
// first_slice_segment_in_pic_flag.
func HEVCSlice(idr, first bool) []byte {
	hdr := byte(0x02) // TRAIL_R
	if idr {
		hdr = 0x26 // IDR_W_RADL
	}
	body := byte(0x20)
	if first {
		body = 0xA0
	}
	return []byte{hdr, 0x01, body, 0x11, 0x22}
}

// AnnexB joins NAL units with 4-byte start codes.
func AnnexB(nals ...[]byte) []byte {
	var out []byte
	for _, n := range nals {
		out = append(out, 0, 0, 0, 1)
		out = append(out, n...)
	}
	return out
}

// CaptionSEI returns an H.264 SEI NAL unit carrying ATSC A/53 cc_data
// with the given field-1 CEA-608 byte pairs. Parity bits are added.
func CaptionSEI(pairs ...[2]byte) []byte {
	payload := []byte{0xB5, 0x00, 0x31, 'G', 'A', '9', '4', 0x03}
	payload = append(payload, 0x40|byte(len(pairs))&0x1F, 0xFF)
	for _, p := range pairs {
		payload = append(payload, 0xFC, oddParity(p[0]), oddParity(p[1]))
	}
	payload = append(payload, 0xFF)

	msg := []byte{4, byte(len(payload))}
	msg = append(msg, payload...)
	msg = append(msg, 0x80)
	return append([]byte{0x06}, escape(msg)...)
}

func oddParity(b byte) byte {
	b &= 0x7F
	ones := 0
	for v := b; v != 0; v >>= 1 {
		ones += int(v & 1)
	}
	if ones%2 == 0 {
		return b | 0x80
	}
	return b
}
