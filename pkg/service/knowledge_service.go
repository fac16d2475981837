// Knowledge store: system prompt, product knowledge document and optional semantic index
package service

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/choraleia/leadagent/pkg/config"
	"github.com/choraleia/leadagent/pkg/utils"
	"github.com/cloudwego/eino/components/embedding"
	chromem "github.com/philippgille/chromem-go"
)

//go:embed prompts/system_prompt.md prompts/knowledge.md
var defaultPrompts embed.FS

const knowledgeCollection = "knowledge"

// KnowledgeSection is one heading-delimited part of the knowledge document.
type KnowledgeSection struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// KnowledgeHit is a search result.
type KnowledgeHit struct {
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Similarity float32 `json:"similarity"`
}

// KnowledgeService holds the static text injected into every prompt.
// Everything is loaded once in NewKnowledgeService and read-only afterwards.
type KnowledgeService struct {
	systemPrompt string
	document     string
	sections     []KnowledgeSection

	collection *chromem.Collection // nil when search is disabled
	logger     *slog.Logger
}

// NewKnowledgeService loads the prompt and document from the configured paths,
// falling back to the embedded defaults.
func NewKnowledgeService(cfg config.KnowledgeConfig) (*KnowledgeService, error) {
	systemPrompt, err := loadText(cfg.SystemPromptPath, "prompts/system_prompt.md")
	if err != nil {
		return nil, fmt.Errorf("load system prompt: %w", err)
	}
	document, err := loadText(cfg.DocumentPath, "prompts/knowledge.md")
	if err != nil {
		return nil, fmt.Errorf("load knowledge document: %w", err)
	}

	k := &KnowledgeService{
		systemPrompt: systemPrompt,
		document:     document,
		sections:     SplitSections(document),
		logger:       utils.GetLogger(),
	}
	k.logger.Info("Knowledge loaded",
		"systemPromptChars", len(systemPrompt),
		"documentChars", len(document),
		"sections", len(k.sections))
	return k, nil
}

func loadText(path, embedded string) (string, error) {
	var b []byte
	var err error
	if strings.TrimSpace(path) != "" {
		b, err = os.ReadFile(path)
	} else {
		b, err = defaultPrompts.ReadFile(embedded)
	}
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(b))
	if text == "" {
		return "", fmt.Errorf("%s is empty", firstNonEmpty(path, embedded))
	}
	return text, nil
}

func (k *KnowledgeService) SystemPrompt() string { return k.systemPrompt }

func (k *KnowledgeService) Document() string { return k.document }

func (k *KnowledgeService) Sections() []KnowledgeSection { return k.sections }

// SplitSections splits a markdown document on headings. Text before the first
// heading becomes an untitled section.
func SplitSections(doc string) []KnowledgeSection {
	var sections []KnowledgeSection
	var title string
	var body []string

	flush := func() {
		content := strings.TrimSpace(strings.Join(body, "\n"))
		if content == "" && title == "" {
			return
		}
		sections = append(sections, KnowledgeSection{
			ID:      "section-" + strconv.Itoa(len(sections)),
			Title:   title,
			Content: content,
		})
	}

	for _, line := range strings.Split(doc, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			flush()
			title = strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			body = nil
			continue
		}
		body = append(body, line)
	}
	flush()
	return sections
}

// EnableSearch builds an in-memory vector index over the document sections.
func (k *KnowledgeService) EnableSearch(ctx context.Context, embed chromem.EmbeddingFunc) error {
	if embed == nil {
		return fmt.Errorf("embedding function is nil")
	}
	vectorDB := chromem.NewDB()
	col, err := vectorDB.CreateCollection(knowledgeCollection, nil, embed)
	if err != nil {
		return fmt.Errorf("create knowledge collection: %w", err)
	}

	docs := make([]chromem.Document, 0, len(k.sections))
	for _, s := range k.sections {
		if s.Content == "" {
			continue
		}
		docs = append(docs, chromem.Document{
			ID:       s.ID,
			Content:  strings.TrimSpace(s.Title + "\n" + s.Content),
			Metadata: map[string]string{"title": s.Title},
		})
	}
	if len(docs) > 0 {
		if err := col.AddDocuments(ctx, docs, 4); err != nil {
			return fmt.Errorf("index knowledge sections: %w", err)
		}
	}

	k.collection = col
	k.logger.Info("Knowledge search enabled", "documents", len(docs))
	return nil
}

func (k *KnowledgeService) SearchEnabled() bool {
	return k.collection != nil
}

// Search returns the sections most similar to query, best first.
func (k *KnowledgeService) Search(ctx context.Context, query string, limit int) ([]KnowledgeHit, error) {
	if k.collection == nil {
		return nil, fmt.Errorf("knowledge search is not enabled")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []KnowledgeHit{}, nil
	}
	if limit <= 0 {
		limit = 3
	}
	// chromem rejects nResults greater than the collection size
	if n := k.collection.Count(); limit > n {
		limit = n
	}
	if limit == 0 {
		return []KnowledgeHit{}, nil
	}

	results, err := k.collection.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("knowledge search failed: %w", err)
	}

	hits := make([]KnowledgeHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, KnowledgeHit{
			Title:      r.Metadata["title"],
			Content:    r.Content,
			Similarity: r.Similarity,
		})
	}
	return hits, nil
}

// EmbeddingFuncFromEmbedder wraps an eino Embedder as a chromem.EmbeddingFunc.
func EmbeddingFuncFromEmbedder(embedder embedding.Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		embeddings, err := embedder.EmbedStrings(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		if len(embeddings) == 0 {
			return nil, fmt.Errorf("no embeddings returned")
		}
		return normalize(embeddings[0]), nil
	}
}

// normalize converts to float32 and scales to unit length, which chromem expects.
func normalize(v []float64) []float32 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	out := make([]float32, len(v))
	norm := math.Sqrt(sum)
	for i, x := range v {
		if norm == 0 {
			out[i] = float32(x)
		} else {
			out[i] = float32(x / norm)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
