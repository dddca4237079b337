package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/droverhq/drover/pkg/models"
)

// ChunkerConfig controls oversized tool-result processing.
type ChunkerConfig struct {
	// Enabled turns chunk processing on. When off, oversized results pass
	// through untouched.
	Enabled bool
	// ThresholdBytes is the result size above which chunking kicks in.
	ThresholdBytes int
	// ChunkSizeBytes bounds each chunk fed to the summarizer.
	ChunkSizeBytes int
	// MaxChunks caps how many chunks are summarized; the rest is noted as
	// truncated.
	MaxChunks int
}

// DefaultChunkerConfig returns the standard thresholds.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		Enabled:        true,
		ThresholdBytes: 50_000,
		ChunkSizeBytes: 10_000,
		MaxChunks:      20,
	}
}

// Chunker condenses oversized tool output before it re-enters the
// conversation. Summarization failures degrade to an annotated truncated
// prefix; chunk processing never aborts a run.
type Chunker struct {
	cfg      ChunkerConfig
	provider Provider
	model    string
}

// NewChunker builds a chunk processor over the given provider.
func NewChunker(cfg ChunkerConfig, provider Provider, model string) *Chunker {
	return &Chunker{cfg: cfg, provider: provider, model: model}
}

// ShouldProcess reports whether content would be chunked. Binary content and
// error-prefixed output bypass processing regardless of size.
func (c *Chunker) ShouldProcess(content string) bool {
	if c == nil || !c.cfg.Enabled || c.provider == nil {
		return false
	}
	if len(content) <= c.cfg.ThresholdBytes {
		return false
	}
	if strings.HasPrefix(content, "Error:") {
		return false
	}
	return !isBinaryContent(content)
}

// Process splits content, summarizes each chunk, and reassembles the
// summaries under a header noting the original size. query guides the
// summaries toward what the model was looking for.
func (c *Chunker) Process(ctx context.Context, content, query string) string {
	originalSize := len(content)
	chunks := splitChunks(content, c.cfg.ChunkSizeBytes)

	truncated := false
	if c.cfg.MaxChunks > 0 && len(chunks) > c.cfg.MaxChunks {
		chunks = chunks[:c.cfg.MaxChunks]
		truncated = true
	}

	// A single chunk means the content barely crossed the threshold; pass
	// it through rather than paying for a lossy summary.
	if len(chunks) <= 1 {
		return content
	}

	summaries := make([]string, len(chunks))
	failures := 0
	var lastErr error

	var wg sync.WaitGroup
	var mu sync.Mutex
	for i, chunk := range chunks {
		wg.Add(1)
		go func(i int, chunk string) {
			defer wg.Done()
			summary, err := c.summarizeChunk(ctx, chunk, query, i+1, len(chunks))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summaries[i] = fmt.Sprintf("[error summarizing chunk %d: %v]", i+1, err)
				failures++
				lastErr = err
				return
			}
			summaries[i] = summary
		}(i, chunk)
	}
	wg.Wait()

	// Total failure degrades to a raw prefix with the reason attached.
	if failures == len(chunks) {
		prefix := content
		if len(prefix) > c.cfg.ChunkSizeBytes {
			prefix = prefix[:c.cfg.ChunkSizeBytes]
		}
		return fmt.Sprintf("[Output truncated: summarization unavailable (%v). First %d of %d bytes follow.]\n%s",
			lastErr, len(prefix), originalSize, prefix)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[Large output processed: %d bytes split into %d chunks]\n", originalSize, len(chunks))
	for i, summary := range summaries {
		fmt.Fprintf(&b, "\n### Chunk %d of %d\n%s\n", i+1, len(chunks), summary)
	}
	if truncated {
		fmt.Fprintf(&b, "\n[Output truncated after %d chunks]\n", len(chunks))
	}
	return b.String()
}

func (c *Chunker) summarizeChunk(ctx context.Context, chunk, query string, index, total int) (string, error) {
	system := "Summarize this excerpt of tool output concisely. Preserve identifiers, paths, values, and errors verbatim."
	if query != "" {
		system += " Focus on content relevant to: " + query
	}
	req := &CompletionRequest{
		Model:  c.model,
		System: system,
		Messages: []models.Message{{
			Role:    models.RoleUser,
			Content: fmt.Sprintf("Excerpt %d of %d:\n\n%s", index, total, chunk),
		}},
	}
	out, err := Collect(ctx, c.provider, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Text), nil
}

// splitChunks breaks content into pieces of at most size bytes, preferring
// paragraph boundaries, then lines, then words. A piece that still exceeds
// the size after word splitting (one enormous token) is cut hard.
func splitChunks(content string, size int) []string {
	if size <= 0 || len(content) <= size {
		return []string{content}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, piece := range splitPieces(content, size) {
		if current.Len() > 0 && current.Len()+len(piece) > size {
			flush()
		}
		if len(piece) > size {
			flush()
			for len(piece) > size {
				chunks = append(chunks, piece[:size])
				piece = piece[size:]
			}
		}
		current.WriteString(piece)
	}
	flush()
	return chunks
}

// splitPieces yields boundary-preserving fragments no coarser than needed:
// paragraphs first, oversized paragraphs by line, oversized lines by word.
func splitPieces(content string, size int) []string {
	var pieces []string
	for _, para := range splitAfter(content, "\n\n") {
		if len(para) <= size {
			pieces = append(pieces, para)
			continue
		}
		for _, line := range splitAfter(para, "\n") {
			if len(line) <= size {
				pieces = append(pieces, line)
				continue
			}
			pieces = append(pieces, splitAfter(line, " ")...)
		}
	}
	return pieces
}

// splitAfter is strings.SplitAfter without dropping the separator, filtering
// empty fragments.
func splitAfter(s, sep string) []string {
	parts := strings.SplitAfter(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// isBinaryContent samples the first kilobyte and reports true when more
// than 30% of it is non-printable.
func isBinaryContent(content string) bool {
	sample := content
	if len(sample) > 1000 {
		sample = sample[:1000]
	}
	if len(sample) == 0 {
		return false
	}
	nonPrintable := 0
	for _, r := range sample {
		if r == '\n' || r == '\t' || r == '\r' {
			continue
		}
		if !unicode.IsPrint(r) {
			nonPrintable++
		}
	}
	return float64(nonPrintable) > 0.3*float64(len(sample))
}
