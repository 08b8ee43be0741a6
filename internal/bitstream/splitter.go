package bitstream

import "bytes"

// Splitter frames an arbitrary Annex B byte stream into access units. A
// new access unit begins at an access unit delimiter, at a parameter set
// or SEI following slice data, or at the first slice of a new picture.
//
// Splitter is not safe for concurrent use.
type Splitter struct {
	codec Codec
	buf   []byte

	auStart int  // offset of the pending access unit
	next    int  // offset of the first unclassified start code, or -1
	hasVCL  bool // pending access unit contains slice data
}

// NewSplitter creates a Splitter for codec c.
func NewSplitter(c Codec) *Splitter {
	return &Splitter{codec: c, next: -1}
}

// Push appends data and returns every access unit completed by it. The
// returned slices are owned by the caller.
func (s *Splitter) Push(data []byte) [][]byte {
	s.buf = append(s.buf, data...)
	if s.next < 0 {
		sc, ok := nextStartCode(s.buf, 0)
		if !ok {
			return nil
		}
		// Bytes before the first start code cannot be decoded.
		s.buf = s.buf[sc.start:]
		s.next = 0
	}

	var out [][]byte
	for {
		sc, ok := nextStartCode(s.buf, s.next)
		if !ok {
			break
		}
		end, ok := nextStartCode(s.buf, sc.data)
		if !ok {
			break
		}
		if nal := s.buf[sc.data:end.start]; len(nal) >= s.codec.headerLen() {
			if au := s.classify(sc.start, nal); au != nil {
				out = append(out, au)
			}
		}
		s.next = end.start
	}

	if s.auStart > 0 {
		n := copy(s.buf, s.buf[s.auStart:])
		s.buf = s.buf[:n]
		s.next -= s.auStart
		s.auStart = 0
	}
	return out
}

// classify places the NAL starting at offset start and returns the access
// unit it terminates, if any.
func (s *Splitter) classify(start int, nal []byte) []byte {
	t := s.codec.nalType(nal)
	boundary := false
	switch {
	case s.codec.IsAUD(t):
		boundary = start > s.auStart
	case s.codec.startsAccessUnit(t):
		boundary = s.hasVCL
	case s.codec.IsVCL(t):
		boundary = s.hasVCL && s.codec.firstSliceOfPicture(nal)
	}

	var au []byte
	if boundary {
		au = bytes.Clone(s.buf[s.auStart:start])
		s.auStart = start
		s.hasVCL = false
	}
	if s.codec.IsVCL(t) {
		s.hasVCL = true
	}
	return au
}

// Flush returns the pending access unit, if any, and resets the Splitter.
func (s *Splitter) Flush() []byte {
	var au []byte
	if s.next >= 0 && len(s.buf) > s.auStart {
		au = bytes.Clone(s.buf[s.auStart:])
	}
	s.buf = s.buf[:0]
	s.auStart = 0
	s.next = -1
	s.hasVCL = false
	if len(ParseAnnexB(s.codec, au)) == 0 {
		return nil
	}
	return au
}
