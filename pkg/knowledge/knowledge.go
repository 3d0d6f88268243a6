// Package knowledge is the local knowledge base of freight rate guides and
// regulation notes. Documents are chunked by word count and indexed with
// SQLite FTS5; search results ground the estimator and compliance agents.
package knowledge

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"freightdesk/pkg/workspace"
)

const (
	defaultChunkSize = 512
	defaultOverlap   = 50
	defaultTopK      = 5
)

// Document is one ingested source file.
type Document struct {
	ID         string
	Name       string
	MimeType   string
	Size       int64
	ChunkCount int
	CreatedAt  time.Time
}

// Chunk is a contiguous run of words from a document.
type Chunk struct {
	Index   int
	Content string
	Words   int
}

// Result is one ranked chunk. Lower scores rank higher (bm25).
type Result struct {
	DocumentID string
	Document   string
	ChunkIndex int
	Content    string
	Score      float64
}

// Options configures chunking and default result count.
type Options struct {
	ChunkSize int
	Overlap   int
	TopK      int
}

// IngestReport summarizes an IngestDir run.
type IngestReport struct {
	Added   []string
	Skipped []string
}

// Base is the knowledge base service.
type Base struct {
	store     *sqliteStore
	chunkSize int
	overlap   int
	topK      int
	log       *slog.Logger
}

// Open opens (creating when needed) the knowledge database at path.
func Open(ctx context.Context, path string, opts Options, log *slog.Logger) (*Base, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("knowledge database path is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.ChunkSize {
		opts.Overlap = min(defaultOverlap, opts.ChunkSize/2)
	}
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}

	store, err := openSQLite(ctx, path)
	if err != nil {
		return nil, err
	}

	return &Base{
		store:     store,
		chunkSize: opts.ChunkSize,
		overlap:   opts.Overlap,
		topK:      opts.TopK,
		log:       log.With("component", "knowledge"),
	}, nil
}

// Close releases the database.
func (b *Base) Close() error {
	return b.store.close()
}

// AddDocument chunks and indexes content. The document id is derived from the
// content, so adding the same text twice is a no-op that returns added=false.
func (b *Base) AddDocument(ctx context.Context, name string, mimeType string, content string) (Document, bool, error) {
	if strings.TrimSpace(content) == "" {
		return Document{}, false, fmt.Errorf("document %q is empty", name)
	}

	hash := sha256.Sum256([]byte(content))
	doc := Document{
		ID:        fmt.Sprintf("%x", hash[:8]),
		Name:      name,
		MimeType:  mimeType,
		Size:      int64(len(content)),
		CreatedAt: nowUTC(),
	}
	chunks := chunkText(content, b.chunkSize, b.overlap)
	doc.ChunkCount = len(chunks)

	added, err := b.store.insert(ctx, doc, chunks)
	if err != nil {
		return Document{}, false, fmt.Errorf("store document %q: %w", name, err)
	}
	if !added {
		b.log.Debug("Document already indexed", "name", name, "id", doc.ID)
		return doc, false, nil
	}

	b.log.Info("Document added to knowledge base", "name", name, "chunks", len(chunks), "size", len(content))
	return doc, true, nil
}

// IngestDir adds every file under dir matching pattern (for example "*.md").
func (b *Base) IngestDir(ctx context.Context, staging *workspace.Staging, dir string, pattern string) (IngestReport, error) {
	if pattern == "" {
		pattern = "*.md"
	}

	paths, err := staging.Glob(dir, pattern)
	if err != nil {
		return IngestReport{}, err
	}

	var report IngestReport
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		data, err := staging.ReadFile(ctx, path)
		if err != nil {
			return report, fmt.Errorf("read %s: %w", path, err)
		}
		name := filepath.Base(path)
		if strings.TrimSpace(string(data)) == "" {
			report.Skipped = append(report.Skipped, name)
			continue
		}

		_, added, err := b.AddDocument(ctx, name, mimeFor(name), string(data))
		if err != nil {
			return report, err
		}
		if added {
			report.Added = append(report.Added, name)
		} else {
			report.Skipped = append(report.Skipped, name)
		}
	}

	b.log.Info("Knowledge ingest completed", "dir", dir, "added", len(report.Added), "skipped", len(report.Skipped))
	return report, nil
}

// Search returns up to k chunks ranked by relevance; k <= 0 uses the
// configured default. A query with no searchable terms returns nothing.
func (b *Base) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if k <= 0 {
		k = b.topK
	}

	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	start := time.Now()
	results, err := b.store.search(ctx, match, k)
	if err != nil {
		return nil, err
	}
	b.log.Debug("Knowledge search", "terms", match, "results", len(results), "duration_ms", time.Since(start).Milliseconds())

	return results, nil
}

// Documents lists indexed documents by name.
func (b *Base) Documents(ctx context.Context) ([]Document, error) {
	return b.store.documents(ctx)
}

// Delete removes a document and its chunks.
func (b *Base) Delete(ctx context.Context, id string) error {
	return b.store.delete(ctx, id)
}

// BuildContext renders results as a prompt section.
func BuildContext(results []Result) string {
	if len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Relevant Knowledge\n\n")
	for i, r := range results {
		fmt.Fprintf(&sb, "### Source: %s (chunk %d)\n", r.Document, r.ChunkIndex)
		sb.WriteString(r.Content)
		if i < len(results)-1 {
			sb.WriteString("\n\n---\n\n")
		}
	}

	return sb.String()
}

// chunkText splits text into overlapping chunks of about size words.
func chunkText(text string, size int, overlap int) []Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	step := size - overlap
	if step <= 0 {
		step = size
	}

	var chunks []Chunk
	for i := 0; i < len(words); i += step {
		end := min(i+size, len(words))
		chunks = append(chunks, Chunk{
			Index:   len(chunks),
			Content: strings.Join(words[i:end], " "),
			Words:   end - i,
		})
		if end >= len(words) {
			break
		}
	}

	return chunks
}

func mimeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
