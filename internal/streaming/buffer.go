// Package streaming implements the sliding/full-history fragment buffer and
// the per-chunk streaming pipeline that feeds context-windowed text to the
// midstream classifiers.
package streaming

import (
	"strings"
	"time"

	"github.com/checkstream/gateway/internal/classifier"
	"github.com/checkstream/gateway/internal/pipeline"
)

// Fragment is one bounded unit of streamed text, as received from the
// upstream stream adapter.
type Fragment struct {
	Text      string
	VocabID   *int64
	LogProb   *float64
	Timestamp time.Time
}

// Config controls a StreamingBuffer's window and capacity.
type Config struct {
	// ContextChunks is the number of trailing fragments ContextText joins;
	// 0 means the whole buffer.
	ContextChunks int
	MaxBufferSize int
	Delimiter     string
}

// EntireBuffer returns a Config with unbounded context window.
func EntireBuffer(maxSize int) Config {
	return Config{ContextChunks: 0, MaxBufferSize: maxSize, Delimiter: " "}
}

// NoContext returns a Config that sees only the current fragment.
func NoContext(maxSize int) Config {
	return Config{ContextChunks: 1, MaxBufferSize: maxSize, Delimiter: " "}
}

// WithWindow returns a Config with a fixed trailing window.
func WithWindow(chunks, maxSize int, delimiter string) Config {
	return Config{ContextChunks: chunks, MaxBufferSize: maxSize, Delimiter: delimiter}
}

// Buffer is a fixed-capacity FIFO of fragments; Push evicts the oldest
// silently once at capacity. Its length never exceeds MaxBufferSize.
type Buffer struct {
	cfg       Config
	fragments []Fragment
}

// NewBuffer constructs an empty buffer with the given configuration.
func NewBuffer(cfg Config) *Buffer {
	return &Buffer{cfg: cfg}
}

func (b *Buffer) Push(f Fragment) {
	b.fragments = append(b.fragments, f)
	if b.cfg.MaxBufferSize > 0 && len(b.fragments) > b.cfg.MaxBufferSize {
		overflow := len(b.fragments) - b.cfg.MaxBufferSize
		b.fragments = b.fragments[overflow:]
	}
}

func (b *Buffer) Len() int       { return len(b.fragments) }
func (b *Buffer) IsEmpty() bool  { return len(b.fragments) == 0 }
func (b *Buffer) Clear()         { b.fragments = nil }
func (b *Buffer) Config() Config { return b.cfg }

// CurrentChunk returns the most recently pushed fragment's text, or "" if
// the buffer is empty.
func (b *Buffer) CurrentChunk() string {
	if len(b.fragments) == 0 {
		return ""
	}
	return b.fragments[len(b.fragments)-1].Text
}

// ContextText returns the configured trailing window joined by the
// delimiter, or the whole buffer when ContextChunks == 0.
func (b *Buffer) ContextText() string {
	if len(b.fragments) == 0 {
		return ""
	}
	n := len(b.fragments)
	window := b.fragments
	if b.cfg.ContextChunks > 0 && b.cfg.ContextChunks < n {
		window = b.fragments[n-b.cfg.ContextChunks:]
	}
	texts := make([]string, len(window))
	for i, f := range window {
		texts[i] = f.Text
	}
	return strings.Join(texts, b.cfg.Delimiter)
}

// Pipeline wraps a classifier pipeline with a per-request streaming
// buffer: ExecuteChunk pushes the fragment, then runs the underlying
// pipeline over ContextText.
type Pipeline struct {
	Buffer   *Buffer
	Pipeline *pipeline.Pipeline
}

// NewPipeline builds a streaming pipeline over a fresh buffer.
func NewPipeline(cfg Config, p *pipeline.Pipeline) *Pipeline {
	return &Pipeline{Buffer: NewBuffer(cfg), Pipeline: p}
}

func (sp *Pipeline) ExecuteChunk(f Fragment) (pipeline.ExecutionResult, error) {
	sp.Buffer.Push(f)
	return sp.Pipeline.Execute(sp.Buffer.ContextText())
}

// StreamingClassifier adapts a single classifier.Classifier to run over a
// StreamingBuffer's context text rather than a single fragment, for
// detectors configured with context_chunks > 1.
type StreamingClassifier struct {
	Buffer     *Buffer
	Underlying classifier.Classifier
}

func (sc *StreamingClassifier) ClassifyFragment(f Fragment) (classifier.Result, error) {
	sc.Buffer.Push(f)
	return sc.Underlying.Classify(sc.Buffer.ContextText())
}
