package text

import "strings"

const (
	// MinChunkSize is the floor applied to the configured chunk size.
	MinChunkSize = 200
	// OverlapMargin is subtracted from the size to bound the overlap, so every
	// window advances the start position by at least this many characters.
	OverlapMargin = 50
)

// Window is one slice of the trimmed input, in rune offsets.
type Window struct {
	Start int
	End   int
	Text  string
}

// Chunker splits normalized text into overlapping fixed-size windows.
// Sizes are counted in runes so multi-byte scripts are never cut mid-character.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) *Chunker {
	size = max(MinChunkSize, size)
	overlap = max(0, min(overlap, size-OverlapMargin))
	return &Chunker{size: size, overlap: overlap}
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Windows returns every non-blank window of the trimmed text with its bounds.
func (c *Chunker) Windows(text string) []Window {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)

	var windows []Window
	start := 0
	for start < n {
		end := min(n, start+c.size)
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			windows = append(windows, Window{Start: start, End: end, Text: piece})
		}
		if end >= n {
			break
		}
		start = end - c.overlap
	}
	return windows
}

// Chunk returns the ordered chunk texts for text. Same input, same output.
func (c *Chunker) Chunk(text string) []string {
	windows := c.Windows(text)
	if len(windows) == 0 {
		return nil
	}
	chunks := make([]string, len(windows))
	for i, w := range windows {
		chunks[i] = w.Text
	}
	return chunks
}
