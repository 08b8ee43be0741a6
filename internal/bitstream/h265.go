package bitstream

// ParseHEVCSPS parses an H.265 SPS NAL unit, 2-byte header included, up to
// the conformance window.
func ParseHEVCSPS(nalu []byte) (SPSInfo, error) {
	if len(nalu) < 4 {
		return SPSInfo{}, ErrShortData
	}
	br := newBitReader(unescapeRBSP(nalu[2:]))
	info := SPSInfo{Codec: H265}

	if _, err := br.readBits(4); err != nil { // sps_video_parameter_set_id
		return SPSInfo{}, err
	}
	maxSubLayersMinus1, err := br.readBits(3)
	if err != nil {
		return SPSInfo{}, err
	}
	if _, err := br.readBit(); err != nil { // sps_temporal_id_nesting_flag
		return SPSInfo{}, err
	}
	if err := parseProfileTierLevel(br, &info, maxSubLayersMinus1); err != nil {
		return SPSInfo{}, err
	}
	if err := br.skipUE(1); err != nil { // sps_seq_parameter_set_id
		return SPSInfo{}, err
	}
	chromaFormat, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}
	if chromaFormat == 3 {
		if _, err := br.readBit(); err != nil { // separate_colour_plane_flag
			return SPSInfo{}, err
		}
	}
	width, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}
	height, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}
	info.CodedWidth, info.CodedHeight = int(width), int(height)
	info.Width, info.Height = info.CodedWidth, info.CodedHeight

	window, err := br.readFlag()
	if err != nil || !window {
		return info, nil
	}
	var left, right, top, bottom uint
	for _, v := range []*uint{&left, &right, &top, &bottom} {
		if *v, err = br.readUE(); err != nil {
			return info, nil
		}
	}
	subW, subH := uint(1), uint(1)
	switch chromaFormat {
	case 1:
		subW, subH = 2, 2
	case 2:
		subW = 2
	}
	info.CropLeft = int(left * subW)
	info.CropTop = int(top * subH)
	info.Width -= int((left + right) * subW)
	info.Height -= int((top + bottom) * subH)
	return info, nil
}

func parseProfileTierLevel(br *bitReader, info *SPSInfo, maxSubLayersMinus1 uint) error {
	// general_profile_space(2) general_tier_flag(1)
	if _, err := br.readBits(3); err != nil {
		return err
	}
	profile, err := br.readBits(5)
	if err != nil {
		return err
	}
	info.ProfileIDC = byte(profile)
	// compatibility flags (32) and constraint flags (48)
	for range 5 {
		if _, err := br.readBits(16); err != nil {
			return err
		}
	}
	level, err := br.readBits(8)
	if err != nil {
		return err
	}
	info.LevelIDC = byte(level)

	if maxSubLayersMinus1 == 0 {
		return nil
	}
	var profilePresent, levelPresent [8]bool
	for i := range maxSubLayersMinus1 {
		if profilePresent[i], err = br.readFlag(); err != nil {
			return err
		}
		if levelPresent[i], err = br.readFlag(); err != nil {
			return err
		}
	}
	for i := maxSubLayersMinus1; i < 8; i++ {
		if _, err := br.readBits(2); err != nil {
			return err
		}
	}
	for i := range maxSubLayersMinus1 {
		if profilePresent[i] {
			// 88 bits of sub-layer profile
			for _, n := range []int{32, 32, 24} {
				if _, err := br.readBits(n); err != nil {
					return err
				}
			}
		}
		if levelPresent[i] {
			if _, err := br.readBits(8); err != nil {
				return err
			}
		}
	}
	return nil
}

// ParseSPSFor parses an SPS NAL unit of codec c.
func ParseSPSFor(c Codec, nalu []byte) (SPSInfo, error) {
	if c == H265 {
		return ParseHEVCSPS(nalu)
	}
	return ParseSPS(nalu)
}
