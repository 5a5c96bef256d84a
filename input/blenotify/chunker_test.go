package blenotify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkerReassemblesAcrossSplits(t *testing.T) {
	stream := "1000,L,100,200,300\n1020,L,101,201,301\n1040,L,102,202,302\n"
	want := strings.Split(strings.TrimRight(stream, "\n"), "\n")

	// Every split size must yield the same lines.
	for size := 1; size <= len(stream); size++ {
		c := newChunker(256)
		var got []string
		for i := 0; i < len(stream); i += size {
			end := i + size
			if end > len(stream) {
				end = len(stream)
			}
			got = append(got, c.feed([]byte(stream[i:end]))...)
		}
		assert.Equal(t, want, got, "chunk size %d", size)
	}
}

func TestChunkerHandlesCRLFAndBlanks(t *testing.T) {
	c := newChunker(256)
	got := c.feed([]byte("1000,L,1,2,3\r\n\r\n1020,L,4,5,6\r\n"))
	assert.Equal(t, []string{"1000,L,1,2,3", "1020,L,4,5,6"}, got)
}

func TestChunkerResetDropsPartial(t *testing.T) {
	c := newChunker(256)
	assert.Empty(t, c.feed([]byte("1000,L,1")))
	c.reset()
	got := c.feed([]byte("2000,L,7,8,9\n"))
	assert.Equal(t, []string{"2000,L,7,8,9"}, got)
}

func TestChunkerDropsOversizedGarbage(t *testing.T) {
	c := newChunker(16)
	assert.Empty(t, c.feed([]byte(strings.Repeat("x", 40))))
	// Buffer was discarded; a fresh line still parses.
	got := c.feed([]byte("1000,L,1,2,3\n"))
	assert.Equal(t, []string{"1000,L,1,2,3"}, got)
}
