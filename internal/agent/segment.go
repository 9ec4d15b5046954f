package agent

import (
	"regexp"
	"strings"
)

const (
	noSplitOpen  = "<no-split>"
	noSplitClose = "</no-split>"
)

var tagRe = regexp.MustCompile(`<[^>]+>`)

// Segmenter slices streamed assistant text into outbound segments: one per
// line, except <no-split>…</no-split> regions which are emitted whole with
// their newlines preserved. Tags are stripped from emitted segments, segments
// are trimmed, and empty segments are dropped.
//
// Write may be called with arbitrary chunk boundaries; a tag split across
// chunks is held in the buffer until it can be decided. Flush emits whatever
// remains at end of stream.
type Segmenter struct {
	emit    func(string)
	buf     string
	inBlock bool
}

func NewSegmenter(emit func(string)) *Segmenter {
	return &Segmenter{emit: emit}
}

func (s *Segmenter) Write(chunk string) {
	s.buf += chunk
	s.drain(false)
}

func (s *Segmenter) Flush() {
	s.drain(true)
	s.inBlock = false
}

func (s *Segmenter) drain(final bool) {
	text := s.buf
	for {
		if s.inBlock {
			j := strings.Index(text, noSplitClose)
			if j < 0 {
				if final {
					s.send(text)
					text = ""
				}
				break
			}
			s.send(text[:j])
			text = text[j+len(noSplitClose):]
			s.inBlock = false
			continue
		}

		nl := strings.Index(text, "\n")
		op := strings.Index(text, noSplitOpen)
		if op >= 0 && (nl < 0 || op < nl) {
			s.send(text[:op])
			text = text[op+len(noSplitOpen):]
			s.inBlock = true
			continue
		}
		if nl >= 0 {
			s.send(text[:nl])
			text = text[nl+1:]
			continue
		}
		// No boundary yet. The tail may still grow into a <no-split> tag, so
		// hold it unless the stream is over.
		if final {
			s.send(text)
			text = ""
		}
		break
	}
	s.buf = text
}

func (s *Segmenter) send(raw string) {
	seg := strings.TrimSpace(tagRe.ReplaceAllString(raw, ""))
	if seg == "" {
		return
	}
	s.emit(seg)
}

// SplitSegments applies the segmenter rules to a complete string.
func SplitSegments(text string) []string {
	var segs []string
	s := NewSegmenter(func(seg string) { segs = append(segs, seg) })
	s.Write(text)
	s.Flush()
	return segs
}
