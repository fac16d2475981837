package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/choraleia/leadagent/pkg/config"
	"github.com/choraleia/leadagent/pkg/db"
	"github.com/choraleia/leadagent/pkg/models"
)

func newTestKnowledge(t *testing.T) *KnowledgeService {
	t.Helper()
	k, err := NewKnowledgeService(config.KnowledgeConfig{})
	if err != nil {
		t.Fatalf("NewKnowledgeService() error = %v", err)
	}
	return k
}

func turns(texts ...string) []db.Turn {
	out := make([]db.Turn, len(texts))
	for i, text := range texts {
		sender := db.SenderUser
		if i%2 == 1 {
			sender = db.SenderAgent
		}
		out[i] = db.Turn{ID: uint64(i + 1), Sender: sender, Text: text}
	}
	return out
}

func TestBoundHistory(t *testing.T) {
	history := turns("aaaa", "bbbb", "cccc", "dddd", "eeee", "ffff")

	got := BoundHistory(history, HistoryLimits{MaxTurns: 4})
	if len(got) != 4 || got[0].Text != "cccc" || got[3].Text != "ffff" {
		t.Fatalf("MaxTurns bound = %v", got)
	}

	got = BoundHistory(history, HistoryLimits{MaxTurns: 10, MinTurns: 1, MaxChars: 10})
	if len(got) != 2 || got[0].Text != "eeee" {
		t.Fatalf("MaxChars bound = %v, want the 2 newest", got)
	}

	// MinTurns wins over the character budget
	got = BoundHistory(history, HistoryLimits{MaxTurns: 10, MinTurns: 3, MaxChars: 1})
	if len(got) != 3 || got[0].Text != "dddd" {
		t.Fatalf("MinTurns bound = %v, want the 3 newest", got)
	}

	if got := BoundHistory(nil, HistoryLimits{MaxTurns: 4, MaxChars: 10}); len(got) != 0 {
		t.Fatalf("BoundHistory(nil) = %v", got)
	}
}

func TestConversationEngine_BuildMessages(t *testing.T) {
	k := newTestKnowledge(t)
	e := NewConversationEngine(k, &fakeChatModel{}, nil, 0, HistoryLimits{MaxTurns: 2, MinTurns: 1, MaxChars: 1000})

	company := "Acme"
	session := &db.Session{ID: "s1", CompanyName: &company}
	msgs := e.BuildMessages(session, turns("hello", "Hi! What's your company?", "Acme", "Great, which industry?"), "We do fintech")

	if len(msgs) != 4 {
		t.Fatalf("len(messages) = %d, want 4 (system + 2 history + user)", len(msgs))
	}
	sys := msgs[0]
	if sys.Role != schema.System {
		t.Fatalf("first role = %s, want system", sys.Role)
	}
	for _, want := range []string{k.SystemPrompt(), k.Document(), "Lead Qualification: 25% complete", "Prospect Company: Acme", "Missing Information: domain, problem, budget"} {
		if !strings.Contains(sys.Content, want) {
			t.Fatalf("system message missing %q", want)
		}
	}
	if msgs[1].Role != schema.User || msgs[1].Content != "Acme" {
		t.Fatalf("messages[1] = %s %q", msgs[1].Role, msgs[1].Content)
	}
	if msgs[2].Role != schema.Assistant {
		t.Fatalf("messages[2].Role = %s, want assistant", msgs[2].Role)
	}
	if last := msgs[len(msgs)-1]; last.Role != schema.User || last.Content != "We do fintech" {
		t.Fatalf("last message = %s %q", last.Role, last.Content)
	}
}

func TestConversationEngine_ComposeReply(t *testing.T) {
	fake := &fakeChatModel{reply: `Happy to show you! {"show_media": "demo", "topic": "general"}`}
	e := NewConversationEngine(newTestKnowledge(t), fake, nil, time.Second, HistoryLimits{MaxTurns: 10})

	reply, raw, err := e.ComposeReply(context.Background(), &db.Session{ID: "s1"}, nil, "show me a demo")
	if err != nil {
		t.Fatalf("ComposeReply() error = %v", err)
	}
	if reply != "Happy to show you!" {
		t.Fatalf("reply = %q", reply)
	}
	if !strings.Contains(raw, `"show_media"`) {
		t.Fatalf("raw = %q, want the media command kept", raw)
	}
	if fake.calls() != 1 {
		t.Fatalf("model calls = %d, want 1", fake.calls())
	}
}

func TestConversationEngine_ModelUnavailable(t *testing.T) {
	cases := map[string]*fakeChatModel{
		"error":        {err: errors.New("503 from upstream")},
		"empty":        {reply: "   "},
		"only command": {reply: `{"show_media": "demo", "topic": "general"}`},
		"timeout":      {reply: "late", delay: time.Second},
	}
	for name, fake := range cases {
		t.Run(name, func(t *testing.T) {
			e := NewConversationEngine(newTestKnowledge(t), fake, nil, 50*time.Millisecond, HistoryLimits{})
			_, _, err := e.ComposeReply(context.Background(), &db.Session{ID: "s1"}, nil, "hello")
			if !errors.Is(err, models.ErrModelUnavailable) {
				t.Fatalf("ComposeReply() error = %v, want MODEL_UNAVAILABLE", err)
			}
			if fake.calls() != 1 {
				t.Fatalf("model calls = %d, want exactly 1", fake.calls())
			}
		})
	}
}

func TestLeadStatus_Focus(t *testing.T) {
	v := "x"
	cases := []struct {
		session *db.Session
		want    string
	}{
		{&db.Session{}, "Build rapport"},
		{&db.Session{CompanyName: &v, Domain: &v}, "Qualify their needs"},
		{&db.Session{CompanyName: &v, Domain: &v, Problem: &v, Budget: &v}, "move toward demo booking"},
	}
	for _, tc := range cases {
		if got := LeadStatus(tc.session); !strings.Contains(got, tc.want) {
			t.Errorf("LeadStatus() = %q, want it to contain %q", got, tc.want)
		}
	}
}
