package service

import (
	"context"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/choraleia/leadagent/pkg/config"
)

// bagOfWords is a deterministic embedding: each lowercased word hashes to one of 64 buckets.
func bagOfWords(_ context.Context, text string) ([]float32, error) {
	v := make([]float64, 64)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,:;!?()$-")
		if w == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%64]++
	}
	return normalize(v), nil
}

func TestNewKnowledgeService_Defaults(t *testing.T) {
	k, err := NewKnowledgeService(config.KnowledgeConfig{})
	if err != nil {
		t.Fatalf("NewKnowledgeService() error = %v", err)
	}
	if !strings.Contains(k.SystemPrompt(), "show_media") {
		t.Fatalf("default system prompt lacks the media command instructions")
	}
	if !strings.Contains(k.Document(), "Pricing") {
		t.Fatalf("default knowledge document lacks a pricing section")
	}
	if k.SearchEnabled() {
		t.Fatalf("search enabled without an embedding function")
	}
	if _, err := k.Search(context.Background(), "pricing", 3); err == nil {
		t.Fatalf("Search() without index error = nil")
	}
}

func TestNewKnowledgeService_FromFiles(t *testing.T) {
	dir := t.TempDir()
	promptPath := filepath.Join(dir, "prompt.md")
	docPath := filepath.Join(dir, "doc.md")
	if err := os.WriteFile(promptPath, []byte("You are Max.\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(docPath, []byte("# Acme\nWe sell anvils.\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	k, err := NewKnowledgeService(config.KnowledgeConfig{SystemPromptPath: promptPath, DocumentPath: docPath})
	if err != nil {
		t.Fatalf("NewKnowledgeService() error = %v", err)
	}
	if k.SystemPrompt() != "You are Max." || k.Document() != "# Acme\nWe sell anvils." {
		t.Fatalf("loaded %q / %q", k.SystemPrompt(), k.Document())
	}

	empty := filepath.Join(dir, "empty.md")
	if err := os.WriteFile(empty, []byte("  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewKnowledgeService(config.KnowledgeConfig{DocumentPath: empty}); err == nil {
		t.Fatalf("empty document accepted")
	}
	if _, err := NewKnowledgeService(config.KnowledgeConfig{DocumentPath: filepath.Join(dir, "missing.md")}); err == nil {
		t.Fatalf("missing document accepted")
	}
}

func TestSplitSections(t *testing.T) {
	doc := "Intro line\n# Title\n\n## Pricing\n- Starter: $10\n\n## Security\nSOC 2\n"
	sections := SplitSections(doc)
	if len(sections) != 4 {
		t.Fatalf("len(sections) = %d, want 4: %+v", len(sections), sections)
	}
	if sections[0].Title != "" || sections[0].Content != "Intro line" {
		t.Fatalf("sections[0] = %+v", sections[0])
	}
	if sections[2].Title != "Pricing" || sections[2].Content != "- Starter: $10" {
		t.Fatalf("sections[2] = %+v", sections[2])
	}
	if sections[3].ID != "section-3" {
		t.Fatalf("sections[3].ID = %q", sections[3].ID)
	}
}

func TestKnowledgeService_Search(t *testing.T) {
	k := newTestKnowledge(t)
	ctx := context.Background()
	if err := k.EnableSearch(ctx, bagOfWords); err != nil {
		t.Fatalf("EnableSearch() error = %v", err)
	}

	hits, err := k.Search(ctx, "SOC 2 encryption security", 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("len(hits) = %d, want 2", len(hits))
	}
	if hits[0].Title != "Security" {
		t.Fatalf("top hit = %q, want Security", hits[0].Title)
	}

	hits, err = k.Search(ctx, "pricing", 1000)
	if err != nil {
		t.Fatalf("Search() with large limit error = %v", err)
	}
	if len(hits) != len(k.Sections()) {
		t.Fatalf("len(hits) = %d, want every section (%d)", len(hits), len(k.Sections()))
	}

	if hits, err := k.Search(ctx, "  ", 3); err != nil || len(hits) != 0 {
		t.Fatalf("Search(blank) = %v, %v", hits, err)
	}
}

func TestNormalize(t *testing.T) {
	v := normalize([]float64{3, 4})
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Fatalf("normalize() = %v", v)
	}
	if z := normalize([]float64{0, 0}); z[0] != 0 || z[1] != 0 {
		t.Fatalf("normalize(zero) = %v", z)
	}
}
