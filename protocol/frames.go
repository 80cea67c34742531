// Package protocol implements the wire protocol spoken by the orchestrator:
// framing of the raw response stream into discrete messages, and
// interpretation of those messages into a closed set of typed events.
//
// Both layers are stateless apart from the frame-assembly buffer; all
// transcript state lives in the transcript package.
package protocol

import "strings"

// frameTerminator separates protocol messages in the response stream: two
// consecutive newline characters.
const frameTerminator = "\n\n"

// FrameDecoder assembles complete frames from a stream of text fragments.
// Fragments arrive at arbitrary byte boundaries: one read may carry zero,
// one, or many complete frames, and a single frame may span several reads.
// The trailing partial frame is carried across Feed calls.
//
// The zero value is ready to use. A FrameDecoder is owned by the read loop
// of a single stream and is not safe for concurrent use.
type FrameDecoder struct {
	buf string
}

// Feed appends fragment to the internal buffer and returns the frames it
// completed, in arrival order. Each returned frame is the trimmed content
// before a terminator; frames that trim to nothing (runs of blank lines)
// are dropped.
func (d *FrameDecoder) Feed(fragment string) []string {
	d.buf += fragment

	var frames []string
	for {
		i := strings.Index(d.buf, frameTerminator)
		if i < 0 {
			return frames
		}
		frame := strings.TrimSpace(d.buf[:i])
		d.buf = d.buf[i+len(frameTerminator):]
		if frame != "" {
			frames = append(frames, frame)
		}
	}
}

// Pending reports whether a partial frame remains buffered. A non-empty
// buffer when the stream closes is a dangling partial frame: it is not a
// valid message and must be discarded, never emitted.
func (d *FrameDecoder) Pending() bool {
	return strings.TrimSpace(d.buf) != ""
}

// Reset discards any buffered partial frame.
func (d *FrameDecoder) Reset() {
	d.buf = ""
}
