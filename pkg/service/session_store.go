// Session store: sessions, turns and lead fields persisted through gorm
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/choraleia/leadagent/pkg/db"
	"github.com/choraleia/leadagent/pkg/models"
	"github.com/choraleia/leadagent/pkg/utils"
)

// SessionStore is the only mutable shared state. Callers linearize writes per
// session with a Locker; the store itself keeps each operation atomic.
type SessionStore struct {
	db     *gorm.DB
	now    func() time.Time
	logger *slog.Logger
}

func NewSessionStore(gdb *gorm.DB) *SessionStore {
	return &SessionStore{
		db:     gdb,
		now:    func() time.Time { return time.Now().UTC() },
		logger: utils.GetLogger(),
	}
}

// AutoMigrate creates or updates the session tables.
func AutoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&db.Session{}, &db.Turn{}, &db.MediaInteraction{})
}

// TurnCommit is everything one exchange writes.
type TurnCommit struct {
	SessionID   string
	UserText    string // empty for agent-only commits (greeting)
	MessageType string // of the user turn: text or audio
	AgentText   string // empty when the model failed
	Lead        models.PartialLeadInfo
	Media       *models.MediaCue
}

// storageErr maps gorm errors onto the public codes.
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *models.Error
	if errors.As(err, &coded) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewError(models.CodeSessionNotFound, "session not found", nil)
	}
	return models.NewError(models.CodeStorageUnavailable, "", err)
}

func notFound(id string) error {
	return models.NewError(models.CodeSessionNotFound, fmt.Sprintf("session %q not found", id), nil)
}

// GetOrCreate returns the session, creating it if absent and reopening it if
// closed. created reports whether a new row was inserted.
func (s *SessionStore) GetOrCreate(ctx context.Context, id string) (*db.Session, bool, error) {
	var session db.Session
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		fresh := db.Session{
			ID:           id,
			Status:       db.SessionStatusActive,
			CurrentStage: db.StageGreeting,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected == 1

		if err := lockSession(tx, &session, id); err != nil {
			return err
		}
		if session.Status == db.SessionStatusClosed {
			session.Status = db.SessionStatusActive
			session.ClosedAt = nil
			session.UpdatedAt = now
			return tx.Model(&session).Select("status", "closed_at", "updated_at").Updates(&session).Error
		}
		return nil
	})
	if err != nil {
		return nil, false, storageErr(err)
	}
	return &session, created, nil
}

// Get returns the session or SESSION_NOT_FOUND.
func (s *SessionStore) Get(ctx context.Context, id string) (*db.Session, error) {
	var session db.Session
	if err := s.db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(id)
		}
		return nil, storageErr(err)
	}
	return &session, nil
}

// AppendTurn appends one turn. Its timestamp is never earlier than the
// session's previous turn.
func (s *SessionStore) AppendTurn(ctx context.Context, id, sender, text, messageType string) (*db.Turn, error) {
	if sender != db.SenderUser && sender != db.SenderAgent {
		return nil, models.NewError(models.CodeValidation, fmt.Sprintf("invalid sender %q", sender), nil)
	}
	var turn *db.Turn
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session db.Session
		if err := lockSession(tx, &session, id); err != nil {
			return err
		}
		at, err := s.nextTimestamp(tx, id)
		if err != nil {
			return err
		}
		turn = &db.Turn{SessionID: id, Sender: sender, Text: text, MessageType: messageTypeOrText(messageType), CreatedAt: at}
		if err := tx.Create(turn).Error; err != nil {
			return err
		}
		return tx.Model(&session).UpdateColumn("updated_at", at).Error
	})
	if err != nil {
		return nil, s.mapNotFound(err, id)
	}
	return turn, nil
}

// MergeLeadInfo merges partial into the session's lead fields and returns the result.
func (s *SessionStore) MergeLeadInfo(ctx context.Context, id string, partial models.PartialLeadInfo) (models.LeadInfo, error) {
	var lead models.LeadInfo
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session db.Session
		if err := lockSession(tx, &session, id); err != nil {
			return err
		}
		if changed := MergeLead(&session, partial); len(changed) > 0 {
			session.CurrentStage = DeriveStage(models.LeadInfoFromSession(&session), true)
			session.UpdatedAt = s.now()
			if err := saveLead(tx, &session); err != nil {
				return err
			}
		}
		lead = models.LeadInfoFromSession(&session)
		return nil
	})
	if err != nil {
		return models.LeadInfo{}, s.mapNotFound(err, id)
	}
	return lead, nil
}

// Close marks the session closed. Closing a closed session keeps the original closed_at.
func (s *SessionStore) Close(ctx context.Context, id string) (*db.Session, error) {
	var session db.Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockSession(tx, &session, id); err != nil {
			return err
		}
		if session.Status == db.SessionStatusClosed {
			return nil
		}
		now := s.now()
		session.Status = db.SessionStatusClosed
		session.ClosedAt = &now
		session.UpdatedAt = now
		return tx.Model(&session).Select("status", "closed_at", "updated_at").Updates(&session).Error
	})
	if err != nil {
		return nil, s.mapNotFound(err, id)
	}
	return &session, nil
}

// History returns turns oldest first. limit > 0 keeps only the newest limit turns.
func (s *SessionStore) History(ctx context.Context, id string, limit int) ([]db.Turn, error) {
	var turns []db.Turn
	q := s.db.WithContext(ctx).Where("session_id = ?", id).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&turns).Error; err != nil {
		return nil, storageErr(err)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

type turnCount struct {
	SessionID string
	Sender    string
	N         int64
}

// List returns sessions, most recently updated first, with their message counts.
func (s *SessionStore) List(ctx context.Context, limit int) ([]models.SessionListItem, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var sessions []db.Session
	if err := s.db.WithContext(ctx).Order("updated_at DESC").Limit(limit).Find(&sessions).Error; err != nil {
		return nil, storageErr(err)
	}
	items := make([]models.SessionListItem, 0, len(sessions))
	if len(sessions) == 0 {
		return items, nil
	}

	ids := make([]string, len(sessions))
	for i, sess := range sessions {
		ids[i] = sess.ID
	}
	var rows []turnCount
	if err := s.db.WithContext(ctx).Model(&db.Turn{}).
		Select("session_id, count(*) AS n").
		Where("session_id IN ?", ids).
		Group("session_id").
		Scan(&rows).Error; err != nil {
		return nil, storageErr(err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.SessionID] = r.N
	}

	for _, sess := range sessions {
		items = append(items, models.SessionListItem{
			SessionID:    sess.ID,
			Status:       sess.Status,
			CurrentStage: sess.CurrentStage,
			LeadInfo:     models.LeadInfoFromSession(&sess),
			MessageCount: counts[sess.ID],
			CreatedAt:    sess.CreatedAt,
			UpdatedAt:    sess.UpdatedAt,
		})
	}
	return items, nil
}

// Summary reports lead progress and turn counts for one session.
func (s *SessionStore) Summary(ctx context.Context, id string) (*models.SessionSummary, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var rows []turnCount
	if err := s.db.WithContext(ctx).Model(&db.Turn{}).
		Select("sender, count(*) AS n").
		Where("session_id = ?", id).
		Group("sender").
		Scan(&rows).Error; err != nil {
		return nil, storageErr(err)
	}

	lead := models.LeadInfoFromSession(session)
	summary := &models.SessionSummary{
		SessionID:            session.ID,
		Status:               session.Status,
		CurrentStage:         session.CurrentStage,
		LeadInfo:             lead,
		MissingInfo:          lead.Missing(),
		CompletionPercentage: lead.CompletionPercent(),
		LastMedia:            LastMedia(session),
		CreatedAt:            session.CreatedAt,
		UpdatedAt:            session.UpdatedAt,
		ClosedAt:             session.ClosedAt,
	}
	for _, r := range rows {
		switch r.Sender {
		case db.SenderUser:
			summary.UserMessages = r.N
		case db.SenderAgent:
			summary.AgentMessages = r.N
		}
		summary.TurnCount += r.N
	}
	return summary, nil
}

// CommitTurn writes one exchange in a single transaction: the user turn, the
// agent turn, the lead merge with its derived stage, and the media cue.
// Closed sessions are rejected with SESSION_CLOSED.
func (s *SessionStore) CommitTurn(ctx context.Context, c TurnCommit) (*db.Session, error) {
	var session db.Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockSession(tx, &session, c.SessionID); err != nil {
			return err
		}
		if session.Status == db.SessionStatusClosed {
			return models.NewError(models.CodeSessionClosed, "session is closed", nil)
		}

		at, err := s.nextTimestamp(tx, c.SessionID)
		if err != nil {
			return err
		}

		if c.UserText != "" {
			userTurn := &db.Turn{SessionID: c.SessionID, Sender: db.SenderUser, Text: c.UserText, MessageType: messageTypeOrText(c.MessageType), CreatedAt: at}
			if err := tx.Create(userTurn).Error; err != nil {
				return err
			}
		}
		if c.AgentText != "" {
			agentTurn := &db.Turn{SessionID: c.SessionID, Sender: db.SenderAgent, Text: c.AgentText, MessageType: db.MessageTypeText, CreatedAt: at}
			if err := tx.Create(agentTurn).Error; err != nil {
				return err
			}
		}

		MergeLead(&session, c.Lead)
		session.CurrentStage = DeriveStage(models.LeadInfoFromSession(&session), c.UserText != "" || session.CurrentStage != db.StageGreeting)

		if c.Media != nil {
			mediaType, topic := string(c.Media.Type), c.Media.Topic
			session.LastMediaType = &mediaType
			session.LastMediaTopic = &topic
			if err := tx.Create(&db.MediaInteraction{SessionID: c.SessionID, MediaType: mediaType, Topic: topic, CreatedAt: at}).Error; err != nil {
				return err
			}
		}

		session.UpdatedAt = at
		return saveLead(tx, &session)
	})
	if err != nil {
		return nil, s.mapNotFound(err, c.SessionID)
	}
	return &session, nil
}

// lockSession loads the session row for update so concurrent writers on
// postgres and mysql serialize on it. SQLite drops the clause; its write
// transactions are already exclusive.
func lockSession(tx *gorm.DB, session *db.Session, id string) error {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(session, "id = ?", id).Error
}

func saveLead(tx *gorm.DB, session *db.Session) error {
	return tx.Model(session).
		Select("company_name", "domain", "problem", "budget", "current_stage", "last_media_type", "last_media_topic", "updated_at").
		Updates(session).Error
}

// nextTimestamp is now, clamped to the session's latest turn.
func (s *SessionStore) nextTimestamp(tx *gorm.DB, sessionID string) (time.Time, error) {
	now := s.now()
	var last db.Turn
	err := tx.Where("session_id = ?", sessionID).Order("id DESC").Limit(1).Find(&last).Error
	if err != nil {
		return time.Time{}, err
	}
	if last.ID != 0 && last.CreatedAt.After(now) {
		return last.CreatedAt, nil
	}
	return now, nil
}

func (s *SessionStore) mapNotFound(err error, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(id)
	}
	return storageErr(err)
}

// MergeLead applies partial to the session's lead columns and returns the
// names of the fields that changed. An empty field is filled; a filled field
// is replaced only when partial is a correction. Nothing is ever cleared.
func MergeLead(session *db.Session, partial models.PartialLeadInfo) []string {
	var changed []string
	apply := func(name string, dst **string, v *string) {
		if v == nil {
			return
		}
		val := strings.TrimSpace(*v)
		if val == "" {
			return
		}
		switch {
		case *dst == nil:
		case partial.Correction && **dst != val:
		default:
			return
		}
		*dst = &val
		changed = append(changed, name)
	}
	apply(models.FieldCompanyName, &session.CompanyName, partial.CompanyName)
	apply(models.FieldDomain, &session.Domain, partial.Domain)
	apply(models.FieldProblem, &session.Problem, partial.Problem)
	apply(models.FieldBudget, &session.Budget, partial.Budget)
	return changed
}

// DeriveStage maps lead completeness to a stage. A session stays in greeting
// until the visitor has said something.
func DeriveStage(lead models.LeadInfo, engaged bool) string {
	switch {
	case len(lead.Missing()) == 0:
		return db.StageQualified
	case engaged || lead.CompletionPercent() > 0:
		return db.StageQualifying
	default:
		return db.StageGreeting
	}
}

// LastMedia returns the latest media cue shown in the session, or nil.
func LastMedia(session *db.Session) *models.MediaCue {
	if session == nil || session.LastMediaType == nil {
		return nil
	}
	cue := &models.MediaCue{Type: models.MediaType(*session.LastMediaType), Topic: models.DefaultMediaTopic}
	if session.LastMediaTopic != nil && *session.LastMediaTopic != "" {
		cue.Topic = *session.LastMediaTopic
	}
	return cue
}

func messageTypeOrText(t string) string {
	if t == db.MessageTypeAudio {
		return db.MessageTypeAudio
	}
	return db.MessageTypeText
}
