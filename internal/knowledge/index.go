// Package knowledge indexes the assistant's support material (plans,
// features, FAQs) and answers similarity lookups over it.
package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

const collectionName = "material_de_apoio"

// Index is an in-memory vector index of support passages.
type Index struct {
	mu     sync.RWMutex
	col    *chromem.Collection
	logger *slog.Logger
}

// New creates an empty index that embeds with embed. A nil embed uses
// [HashEmbedder].
func New(embed chromem.EmbeddingFunc, logger *slog.Logger) (*Index, error) {
	if embed == nil {
		embed = HashEmbedder()
	}
	if logger == nil {
		logger = slog.Default()
	}
	col, err := chromem.NewDB().CreateCollection(collectionName, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &Index{col: col, logger: logger}, nil
}

// Count returns the number of indexed passages.
func (x *Index) Count() int {
	return x.col.Count()
}

// AddChunks indexes chunks under source. Re-adding the same source
// replaces passages with the same position.
func (x *Index) AddChunks(ctx context.Context, source string, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]chromem.Document, 0, len(chunks))
	for i, c := range chunks {
		docs = append(docs, chromem.Document{
			ID:      source + "#" + strconv.Itoa(i),
			Content: c.Content,
			Metadata: map[string]string{
				"source":  source,
				"key":     c.Key,
				"section": c.Section,
			},
		})
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("index %s: %w", source, err)
	}
	return nil
}

// AddMarkdown indexes markdown text, one passage per heading section.
func (x *Index) AddMarkdown(ctx context.Context, source, text string) error {
	return x.AddChunks(ctx, source, parseMarkdown(strings.NewReader(text), slugify(source)))
}

// AddHTML indexes the readable text of an HTML document.
func (x *Index) AddHTML(ctx context.Context, source, raw string) error {
	title, text := extractHTML(raw)
	key := slugify(title)
	if key == "" {
		key = slugify(source)
	}
	chunks := parsePlain(text, key)
	for i := range chunks {
		chunks[i].Section = title
	}
	return x.AddChunks(ctx, source, chunks)
}

// AddText indexes plain text split on paragraph boundaries.
func (x *Index) AddText(ctx context.Context, source, text string) error {
	return x.AddChunks(ctx, source, parsePlain(text, slugify(source)))
}

// LoadDir indexes every .md, .markdown, .txt, .html and .htm file under
// dir and returns the number of files indexed. Unreadable files are
// logged and skipped.
func (x *Index) LoadDir(ctx context.Context, dir string) (int, error) {
	files := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		ext := strings.ToLower(filepath.Ext(path))
		var add func(context.Context, string, string) error
		switch ext {
		case ".md", ".markdown":
			add = x.AddMarkdown
		case ".html", ".htm":
			add = x.AddHTML
		case ".txt":
			add = x.AddText
		default:
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			x.logger.Warn("skipping support file", "path", path, "error", err)
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = filepath.Base(path)
		}
		if err := add(ctx, filepath.ToSlash(rel), string(data)); err != nil {
			return err
		}
		files++
		return nil
	})
	if err != nil {
		return files, fmt.Errorf("load %s: %w", dir, err)
	}
	x.logger.Info("support material indexed", "dir", dir, "files", files, "passages", x.Count())
	return files, nil
}

// Search returns up to k passages most similar to query, best first.
// An empty index yields no results.
func (x *Index) Search(ctx context.Context, query string, k int) ([]string, error) {
	if strings.TrimSpace(query) == "" || k <= 0 {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	n := x.col.Count()
	if n == 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}
	results, err := x.col.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("knowledge query: %w", err)
	}
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Content)
	}
	x.logger.Debug("knowledge search", "query", query, "results", len(out))
	return out, nil
}
