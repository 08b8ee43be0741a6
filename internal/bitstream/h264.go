package bitstream

import "fmt"

// SPSInfo holds the fields of a sequence parameter set that determine
// decoded picture layout, plus the HRD lengths pic_timing parsing needs.
type SPSInfo struct {
	Codec Codec

	// CodedWidth and CodedHeight are the decoded picture dimensions
	// before cropping.
	CodedWidth  int
	CodedHeight int
	// Width and Height are the display dimensions after cropping.
	Width    int
	Height   int
	CropLeft int
	CropTop  int

	ProfileIDC      byte
	ConstraintFlags byte
	LevelIDC        byte

	PicStructPresent   bool
	HRDPresent         bool
	CpbRemovalDelayLen int
	DpbOutputDelayLen  int
	TimeOffsetLen      int
}

// CodecString returns the RFC 6381 codec parameter (e.g. "avc1.42E01E").
func (s SPSInfo) CodecString() string {
	if s.Codec == H265 {
		return fmt.Sprintf("hev1.%d.L%d", s.ProfileIDC, s.LevelIDC)
	}
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIDC, s.ConstraintFlags, s.LevelIDC)
}

// SameCoding reports whether two parameter sets produce identically sized
// decoded pictures, so only the crop may differ.
func (s SPSInfo) SameCoding(o SPSInfo) bool {
	return s.CodedWidth == o.CodedWidth && s.CodedHeight == o.CodedHeight
}

// highProfiles carry chroma_format_idc and scaling matrices in the SPS.
var highProfiles = map[uint]bool{
	100: true, 110: true, 122: true, 244: true, 44: true, 83: true,
	86: true, 118: true, 128: true, 138: true, 139: true, 134: true,
}

// ParseSPS parses an H.264 SPS NAL unit, header byte included.
func ParseSPS(nalu []byte) (SPSInfo, error) {
	if len(nalu) < 4 {
		return SPSInfo{}, ErrShortData
	}
	br := newBitReader(unescapeRBSP(nalu[1:]))
	info := SPSInfo{Codec: H264}

	profile, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	constraints, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	level, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	info.ProfileIDC, info.ConstraintFlags, info.LevelIDC = byte(profile), byte(constraints), byte(level)

	if err := br.skipUE(1); err != nil { // seq_parameter_set_id
		return SPSInfo{}, err
	}

	chromaFormat := uint(1)
	separatePlanes := false
	if highProfiles[profile] {
		if chromaFormat, err = br.readUE(); err != nil {
			return SPSInfo{}, err
		}
		if chromaFormat == 3 {
			if separatePlanes, err = br.readFlag(); err != nil {
				return SPSInfo{}, err
			}
		}
		// bit depths, qpprime_y_zero_transform_bypass_flag
		if err := br.skipUE(2); err != nil {
			return SPSInfo{}, err
		}
		if _, err := br.readBit(); err != nil {
			return SPSInfo{}, err
		}
		if err := skipScalingMatrix(br, chromaFormat); err != nil {
			return SPSInfo{}, err
		}
	}

	if err := br.skipUE(1); err != nil { // log2_max_frame_num_minus4
		return SPSInfo{}, err
	}
	if err := skipPicOrderCount(br); err != nil {
		return SPSInfo{}, err
	}
	if err := br.skipUE(1); err != nil { // max_num_ref_frames
		return SPSInfo{}, err
	}
	if _, err := br.readBit(); err != nil { // gaps_in_frame_num_value_allowed_flag
		return SPSInfo{}, err
	}

	widthMbs, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}
	heightMapUnits, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}
	frameMbsOnly, err := br.readBits(1)
	if err != nil {
		return SPSInfo{}, err
	}
	if frameMbsOnly == 0 {
		if _, err := br.readBit(); err != nil { // mb_adaptive_frame_field_flag
			return SPSInfo{}, err
		}
	}
	if _, err := br.readBit(); err != nil { // direct_8x8_inference_flag
		return SPSInfo{}, err
	}

	var cropL, cropR, cropT, cropB uint
	cropping, err := br.readFlag()
	if err != nil {
		return SPSInfo{}, err
	}
	if cropping {
		for _, v := range []*uint{&cropL, &cropR, &cropT, &cropB} {
			if *v, err = br.readUE(); err != nil {
				return SPSInfo{}, err
			}
		}
	}

	chromaArray := chromaFormat
	if separatePlanes {
		chromaArray = 0
	}
	subW, subH := uint(2), uint(2)
	switch chromaArray {
	case 0, 3:
		subW, subH = 1, 1
	case 2:
		subW, subH = 2, 1
	}
	unitX := subW
	unitY := subH * (2 - frameMbsOnly)

	info.CodedWidth = int((widthMbs + 1) * 16)
	info.CodedHeight = int((heightMapUnits + 1) * 16 * (2 - frameMbsOnly))
	info.CropLeft = int(unitX * cropL)
	info.CropTop = int(unitY * cropT)
	info.Width = info.CodedWidth - int(unitX*(cropL+cropR))
	info.Height = info.CodedHeight - int(unitY*(cropT+cropB))

	vui, err := br.readFlag()
	if err != nil || !vui {
		return info, nil
	}
	parseVUITiming(br, &info)
	return info, nil
}

func skipScalingMatrix(br *bitReader, chromaFormat uint) error {
	present, err := br.readFlag()
	if err != nil || !present {
		return err
	}
	lists := 8
	if chromaFormat == 3 {
		lists = 12
	}
	for i := range lists {
		listPresent, err := br.readFlag()
		if err != nil {
			return err
		}
		if !listPresent {
			continue
		}
		size := 16
		if i >= 6 {
			size = 64
		}
		if err := br.skipScalingList(size); err != nil {
			return err
		}
	}
	return nil
}

func skipPicOrderCount(br *bitReader) error {
	pocType, err := br.readUE()
	if err != nil {
		return err
	}
	switch pocType {
	case 0:
		return br.skipUE(1)
	case 1:
		if _, err := br.readBit(); err != nil {
			return err
		}
		for range 2 {
			if _, err := br.readSE(); err != nil {
				return err
			}
		}
		cycle, err := br.readUE()
		if err != nil {
			return err
		}
		for range cycle {
			if _, err := br.readSE(); err != nil {
				return err
			}
		}
	}
	return nil
}

// parseVUITiming reads the VUI fields up to pic_struct_present_flag. It is
// best effort: a truncated VUI leaves the HRD fields unset.
func parseVUITiming(br *bitReader, info *SPSInfo) {
	if ar, _ := br.readFlag(); ar {
		if idc, _ := br.readBits(8); idc == 255 {
			br.readBits(32) // sar_width, sar_height
		}
	}
	if overscan, _ := br.readFlag(); overscan {
		br.readBit()
	}
	if signal, _ := br.readFlag(); signal {
		br.readBits(4) // video_format, video_full_range_flag
		if colour, _ := br.readFlag(); colour {
			br.readBits(24)
		}
	}
	if chromaLoc, _ := br.readFlag(); chromaLoc {
		br.skipUE(2)
	}
	if timing, _ := br.readFlag(); timing {
		br.readBits(32) // num_units_in_tick
		br.readBits(32) // time_scale
		br.readBit()    // fixed_frame_rate_flag
	}

	parseHRD := func() {
		cpbCnt, _ := br.readUE()
		br.readBits(8) // bit_rate_scale, cpb_size_scale
		for i := uint(0); i <= cpbCnt; i++ {
			br.skipUE(2)
			br.readBit()
		}
		br.readBits(5) // initial_cpb_removal_delay_length_minus1
		cpbRd, _ := br.readBits(5)
		dpbOd, _ := br.readBits(5)
		to, _ := br.readBits(5)
		info.CpbRemovalDelayLen = int(cpbRd) + 1
		info.DpbOutputDelayLen = int(dpbOd) + 1
		info.TimeOffsetLen = int(to)
		info.HRDPresent = true
	}
	nalHRD, _ := br.readFlag()
	if nalHRD {
		parseHRD()
	}
	vclHRD, _ := br.readFlag()
	if vclHRD && !info.HRDPresent {
		parseHRD()
	}
	if nalHRD || vclHRD {
		br.readBit() // low_delay_hrd_flag
	}
	info.PicStructPresent, _ = br.readFlag()
}
