// Package chunker segments extracted text into ordered, non-empty fragments.
package chunker

import (
	"regexp"
	"strings"
)

var sentenceEnd = regexp.MustCompile(`\.\s+`)

// Option tunes the segmentation policy.
type Option func(*Chunker)

// WithMaxChars splits sentences longer than n characters at word boundaries.
// n <= 0 disables the limit.
func WithMaxChars(n int) Option {
	return func(c *Chunker) { c.maxChars = n }
}

// WithSentencesPerChunk merges k consecutive sentences into one chunk.
func WithSentencesPerChunk(k int) Option {
	return func(c *Chunker) { c.perChunk = k }
}

// WithOverlap repeats the last o sentences of a chunk at the start of the next.
// Only meaningful together with WithSentencesPerChunk.
func WithOverlap(o int) Option {
	return func(c *Chunker) { c.overlap = o }
}

// Chunker splits text at sentence boundaries. The zero configuration yields
// one chunk per sentence.
type Chunker struct {
	maxChars int
	perChunk int
	overlap  int
}

// New creates a Chunker.
func New(opts ...Option) *Chunker {
	c := &Chunker{}
	for _, o := range opts {
		o(c)
	}
	if c.perChunk < 1 {
		c.perChunk = 1
	}
	if c.overlap < 0 {
		c.overlap = 0
	}
	if c.overlap >= c.perChunk {
		c.overlap = c.perChunk - 1
	}
	return c
}

// Chunk returns the fragments of text in order. The slice position is the
// chunk index.
func (c *Chunker) Chunk(text string) []string {
	sentences := Sentences(text)
	if c.maxChars > 0 {
		sentences = c.splitLong(sentences)
	}
	if c.perChunk == 1 {
		return sentences
	}
	return c.merge(sentences)
}

// Sentences splits at every period followed by whitespace. The period stays
// with its sentence; fragments are trimmed and empty ones dropped.
func Sentences(text string) []string {
	out := make([]string, 0)
	prev := 0
	for _, m := range sentenceEnd.FindAllStringIndex(text, -1) {
		out = appendTrimmed(out, text[prev:m[0]+1])
		prev = m[1]
	}
	return appendTrimmed(out, text[prev:])
}

func appendTrimmed(out []string, s string) []string {
	if s = strings.TrimSpace(s); s != "" {
		out = append(out, s)
	}
	return out
}

func (c *Chunker) splitLong(sentences []string) []string {
	out := make([]string, 0, len(sentences))
	for _, s := range sentences {
		if len(s) <= c.maxChars {
			out = append(out, s)
			continue
		}
		var b strings.Builder
		for _, w := range strings.Fields(s) {
			if b.Len() > 0 && b.Len()+1+len(w) > c.maxChars {
				out = append(out, b.String())
				b.Reset()
			}
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(w)
		}
		if b.Len() > 0 {
			out = append(out, b.String())
		}
	}
	return out
}

func (c *Chunker) merge(sentences []string) []string {
	out := make([]string, 0, len(sentences)/c.perChunk+1)
	step := c.perChunk - c.overlap
	for i := 0; i < len(sentences); i += step {
		end := min(i+c.perChunk, len(sentences))
		out = append(out, strings.Join(sentences[i:end], " "))
		if end == len(sentences) {
			break
		}
	}
	return out
}
