package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/choraleia/leadagent/pkg/db"
	"github.com/choraleia/leadagent/pkg/models"
	"github.com/choraleia/leadagent/pkg/utils"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// HistoryLimits bounds the history rendered into a prompt.
type HistoryLimits struct {
	MaxTurns int // hard cap on turns
	MinTurns int // most recent turns always kept, even over MaxChars
	MaxChars int // character budget across the kept turns
}

// ConversationEngine builds the prompt for a turn and calls the chat model once.
type ConversationEngine struct {
	knowledge *KnowledgeService
	chatModel einoModel.BaseChatModel
	opts      []einoModel.Option
	timeout   time.Duration
	limits    HistoryLimits
	logger    *slog.Logger
}

func NewConversationEngine(knowledge *KnowledgeService, chatModel einoModel.BaseChatModel, opts []einoModel.Option, timeout time.Duration, limits HistoryLimits) *ConversationEngine {
	return &ConversationEngine{
		knowledge: knowledge,
		chatModel: chatModel,
		opts:      opts,
		timeout:   timeout,
		limits:    limits,
		logger:    utils.GetLogger(),
	}
}

// ComposeReply calls the model with the session context and returns the reply
// with media commands stripped, plus the raw model output. Any failure,
// timeout or empty reply is returned as MODEL_UNAVAILABLE.
func (e *ConversationEngine) ComposeReply(ctx context.Context, session *db.Session, history []db.Turn, userText string) (string, string, error) {
	messages := e.BuildMessages(session, history, userText)

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := e.chatModel.Generate(ctx, messages, e.opts...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("model call timed out after %s: %w", e.timeout, err)
		}
		return "", "", models.NewError(models.CodeModelUnavailable, "", err)
	}
	if resp == nil {
		return "", "", models.NewError(models.CodeModelUnavailable, "", errors.New("model returned no message"))
	}

	raw := strings.TrimSpace(resp.Content)
	_, reply := ParseMediaCommand(raw)
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", raw, models.NewError(models.CodeModelUnavailable, "", errors.New("model returned an empty reply"))
	}

	e.logger.Debug("Model reply",
		"sessionID", session.ID,
		"historyTurns", len(messages)-2,
		"replyChars", len(reply),
		"elapsed", time.Since(start))
	return reply, raw, nil
}

// BuildMessages renders the prompt: one system message, the bounded history
// oldest first, then the new utterance as the last user message.
func (e *ConversationEngine) BuildMessages(session *db.Session, history []db.Turn, userText string) []*schema.Message {
	var sb strings.Builder
	sb.WriteString(e.knowledge.SystemPrompt())
	sb.WriteString("\n\n")
	sb.WriteString(LeadStatus(session))
	sb.WriteString("\nKNOWLEDGE BASE:\n")
	sb.WriteString(e.knowledge.Document())

	bounded := BoundHistory(history, e.limits)
	messages := make([]*schema.Message, 0, len(bounded)+2)
	messages = append(messages, schema.SystemMessage(sb.String()))
	for _, t := range bounded {
		if t.Sender == db.SenderAgent {
			messages = append(messages, schema.AssistantMessage(t.Text, nil))
		} else {
			messages = append(messages, schema.UserMessage(t.Text))
		}
	}
	messages = append(messages, schema.UserMessage(userText))
	return messages
}

// BoundHistory keeps at most MaxTurns of the newest turns, then drops from the
// oldest end until the character budget fits. The newest MinTurns are never dropped.
func BoundHistory(history []db.Turn, limits HistoryLimits) []db.Turn {
	kept := history
	if limits.MaxTurns > 0 && len(kept) > limits.MaxTurns {
		kept = kept[len(kept)-limits.MaxTurns:]
	}
	if limits.MaxChars <= 0 {
		return kept
	}

	total := 0
	for _, t := range kept {
		total += len(t.Text)
	}
	for total > limits.MaxChars && len(kept) > limits.MinTurns {
		total -= len(kept[0].Text)
		kept = kept[1:]
	}
	return kept
}

// LeadStatus renders the qualification status block of the system prompt.
func LeadStatus(session *db.Session) string {
	lead := models.LeadInfoFromSession(session)
	completion := lead.CompletionPercent()
	missing := lead.Missing()

	var sb strings.Builder
	sb.WriteString("CURRENT SESSION STATUS:\n")
	fmt.Fprintf(&sb, "Lead Qualification: %d%% complete\n", completion)
	if len(missing) > 0 {
		fmt.Fprintf(&sb, "Missing Information: %s\n", strings.Join(missing, ", "))
	}
	if lead.CompanyName != nil {
		fmt.Fprintf(&sb, "Prospect Company: %s\n", *lead.CompanyName)
	}
	if lead.Domain != nil {
		fmt.Fprintf(&sb, "Industry/Domain: %s\n", *lead.Domain)
	}
	if lead.Problem != nil {
		fmt.Fprintf(&sb, "Problem: %s\n", *lead.Problem)
	}
	if lead.Budget != nil {
		fmt.Fprintf(&sb, "Budget: %s\n", *lead.Budget)
	}

	switch {
	case completion < 25:
		sb.WriteString("CURRENT FOCUS: Build rapport and understand their business\n")
	case completion < 75:
		sb.WriteString("CURRENT FOCUS: Qualify their needs and pain points\n")
	default:
		sb.WriteString("CURRENT FOCUS: Confirm fit and move toward demo booking\n")
	}
	return sb.String()
}
