// Package bitstream parses H.264 and H.265 Annex B elementary streams:
// NAL unit scanning, sequence parameter sets, pic_timing timecodes, and
// access-unit framing of arbitrary byte streams.
package bitstream
