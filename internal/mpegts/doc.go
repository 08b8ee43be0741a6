// Package mpegts extracts the video elementary stream from an MPEG
// transport stream. It follows the PAT and PMT to the first H.264 or
// H.265 video PID and yields that PID's PES payloads as a continuous
// Annex B byte stream.
package mpegts
