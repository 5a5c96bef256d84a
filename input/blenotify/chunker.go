package blenotify

import "bytes"

// chunker reassembles newline-terminated lines from arbitrary-sized
// notification chunks. Not safe for concurrent use; the notification
// callback is the only writer.
type chunker struct {
	partial []byte
	max     int
}

// newChunker bounds the partial buffer; a line longer than max bytes is
// garbage (the longest legal sample line is under 40 bytes) and gets
// dropped wholesale.
func newChunker(max int) *chunker {
	if max <= 0 {
		max = 256
	}
	return &chunker{max: max}
}

// feed appends one chunk and returns any completed lines, without their
// terminators.
func (c *chunker) feed(chunk []byte) []string {
	c.partial = append(c.partial, chunk...)

	var lines []string
	for {
		idx := bytes.IndexByte(c.partial, '\n')
		if idx < 0 {
			break
		}
		line := string(bytes.TrimRight(c.partial[:idx], "\r"))
		c.partial = c.partial[idx+1:]
		if line != "" {
			lines = append(lines, line)
		}
	}

	if len(c.partial) > c.max {
		c.partial = c.partial[:0]
	}
	return lines
}

// reset drops any partial line. Called on disconnect so a torn line never
// merges with post-reconnect data.
func (c *chunker) reset() {
	c.partial = c.partial[:0]
}
