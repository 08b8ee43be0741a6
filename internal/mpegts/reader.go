package mpegts

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/vdec/internal/bitstream"
)

// ErrNoVideo is returned when the stream ends before a PMT announces an
// H.264 or H.265 video stream.
var ErrNoVideo = errors.New("mpegts: no supported video stream")

// Stats counts what a VideoReader has seen.
type Stats struct {
	Packets         int64 `json:"packets"`
	VideoPackets    int64 `json:"videoPackets"`
	Discontinuities int64 `json:"discontinuities"`
	PESPackets      int64 `json:"pesPackets"`
	LastPTS         int64 `json:"lastPts"`
}

// VideoReader reads a transport stream and yields the payload of its
// first supported video PID. It is not safe for concurrent use.
type VideoReader struct {
	r   io.Reader
	log *slog.Logger
	buf [packetSize]byte

	pmtPIDs  map[uint16]bool
	sections map[uint16][]byte

	videoPID uint16
	codec    bitstream.Codec
	found    bool
	lastCC   int
	synced   bool

	pending []byte
	err     error
	stats   Stats
}

// NewVideoReader wraps r. A nil log uses slog.Default().
func NewVideoReader(r io.Reader, log *slog.Logger) *VideoReader {
	if log == nil {
		log = slog.Default()
	}
	return &VideoReader{
		r:        r,
		log:      log.With("component", "mpegts"),
		pmtPIDs:  make(map[uint16]bool),
		sections: make(map[uint16][]byte),
		lastCC:   -1,
	}
}

// Probe consumes packets until the video stream is identified and returns
// its codec. Elementary stream data read while probing is kept for Read.
func (v *VideoReader) Probe() (bitstream.Codec, error) {
	for !v.found {
		if err := v.next(); err != nil {
			if errors.Is(err, io.EOF) {
				return 0, ErrNoVideo
			}
			return 0, err
		}
	}
	return v.codec, nil
}

// Read implements io.Reader over the video elementary stream.
func (v *VideoReader) Read(p []byte) (int, error) {
	for len(v.pending) == 0 {
		if err := v.next(); err != nil {
			if errors.Is(err, io.EOF) && !v.found {
				return 0, ErrNoVideo
			}
			return 0, err
		}
	}
	n := copy(p, v.pending)
	v.pending = v.pending[n:]
	return n, nil
}

// Stats returns a copy of the reader's counters.
func (v *VideoReader) Stats() Stats { return v.stats }

// next reads and dispatches one packet. Unparseable packets are skipped.
func (v *VideoReader) next() error {
	if v.err != nil {
		return v.err
	}
	if _, err := io.ReadFull(v.r, v.buf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		v.err = err
		return err
	}
	v.stats.Packets++

	p, err := parsePacket(v.buf[:])
	if err != nil {
		v.log.Debug("skipping packet", "error", err)
		return nil
	}
	switch {
	case p.pid == pidNull:
	case p.pid == pidPAT || v.pmtPIDs[p.pid]:
		v.section(p)
	case v.found && p.pid == v.videoPID:
		v.video(p)
	}
	return nil
}

func (v *VideoReader) section(p packet) {
	if p.transportErr || len(p.payload) == 0 {
		delete(v.sections, p.pid)
		return
	}
	data := p.payload
	if p.start {
		pointer := int(data[0])
		if 1+pointer >= len(data) {
			return
		}
		v.sections[p.pid] = append([]byte(nil), data[1+pointer:]...)
	} else if acc, ok := v.sections[p.pid]; ok {
		v.sections[p.pid] = append(acc, data...)
	} else {
		return
	}

	acc := v.sections[p.pid]
	n := sectionLength(acc)
	if n < 0 || len(acc) < n {
		return
	}
	delete(v.sections, p.pid)
	if err := v.table(p.pid, acc[:n]); err != nil {
		v.log.Debug("dropping section", "pid", p.pid, "error", err)
	}
}

func (v *VideoReader) table(pid uint16, data []byte) error {
	if pid == pidPAT {
		pids, err := parsePAT(data)
		if err != nil {
			return err
		}
		for _, pmt := range pids {
			v.pmtPIDs[pmt] = true
		}
		return nil
	}

	streams, err := parsePMT(data)
	if err != nil {
		return err
	}
	if v.found {
		return nil
	}
	for _, es := range streams {
		var codec bitstream.Codec
		switch es.streamType {
		case StreamTypeH264:
			codec = bitstream.H264
		case StreamTypeH265:
			codec = bitstream.H265
		default:
			continue
		}
		v.videoPID, v.codec, v.found = es.pid, codec, true
		v.log.Info("video stream selected", "pid", es.pid, "codec", codec)
		return nil
	}
	return fmt.Errorf("mpegts: program on PID %d carries no supported video", pid)
}

func (v *VideoReader) video(p packet) {
	v.stats.VideoPackets++
	if p.transportErr {
		v.synced = false
		return
	}
	if !p.hasPayload {
		return
	}
	if v.lastCC >= 0 && !p.discontinuity {
		want := (v.lastCC + 1) & 0x0F
		if int(p.cc) == v.lastCC {
			return
		}
		if int(p.cc) != want {
			v.stats.Discontinuities++
			v.log.Warn("continuity error", "pid", p.pid, "got", p.cc, "want", want)
			v.synced = false
		}
	}
	v.lastCC = int(p.cc)

	data := p.payload
	if p.start {
		start, pts, hasPTS, err := parsePESHeader(data)
		if err != nil {
			v.log.Debug("dropping PES", "error", err)
			v.synced = false
			return
		}
		v.stats.PESPackets++
		if hasPTS {
			v.stats.LastPTS = pts
		}
		v.synced = true
		data = data[start:]
	}
	if !v.synced {
		return
	}
	v.pending = append(v.pending, data...)
}
