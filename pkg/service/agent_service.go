package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/choraleia/leadagent/pkg/db"
	"github.com/choraleia/leadagent/pkg/event"
	"github.com/choraleia/leadagent/pkg/models"
	"github.com/choraleia/leadagent/pkg/speech/stt"
	"github.com/choraleia/leadagent/pkg/speech/tts"
	"github.com/choraleia/leadagent/pkg/utils"
)

const (
	// FallbackReply is returned with MODEL_UNAVAILABLE once the user turn is stored.
	FallbackReply = "I'm sorry, I'm having trouble processing that. Could you please repeat?"
	// STTRetryMessage is shown when an audio turn could not be transcribed.
	STTRetryMessage = "could not understand audio, please retry"

	defaultHistoryTurns  = 50
	defaultCommitTimeout = 10 * time.Second
)

// TurnFailure is returned when a turn fails after the user's input was
// committed. It carries the reply to show and the lead info as stored.
type TurnFailure struct {
	SessionID string
	Message   string
	LeadInfo  models.LeadInfo
	Err       error
}

func (f *TurnFailure) Error() string {
	return fmt.Sprintf("turn failed for session %s: %v", f.SessionID, f.Err)
}

func (f *TurnFailure) Unwrap() error { return f.Err }

// AgentDeps wires the collaborators of an AgentService.
type AgentDeps struct {
	Store     *SessionStore
	Locker    Locker
	Engine    *ConversationEngine
	Extractor *LeadExtractor
	Selector  *MediaSelector
	STT       stt.Provider
	TTS       tts.Provider
	Emitter   *event.Emitter

	Greeting      string
	STTLanguage   string
	HistoryTurns  int           // turns loaded per prompt (default 50)
	CommitTimeout time.Duration // bound on each storage call (default 10s)
}

// AgentService runs one conversational turn end to end. All work for a
// session happens under that session's lock.
type AgentService struct {
	store     *SessionStore
	locker    Locker
	engine    *ConversationEngine
	extractor *LeadExtractor
	selector  *MediaSelector
	stt       stt.Provider
	tts       tts.Provider
	emitter   *event.Emitter

	greeting      string
	sttLanguage   string
	historyTurns  int
	commitTimeout time.Duration
	logger        *slog.Logger
}

func NewAgentService(deps AgentDeps) *AgentService {
	s := &AgentService{
		store:         deps.Store,
		locker:        deps.Locker,
		engine:        deps.Engine,
		extractor:     deps.Extractor,
		selector:      deps.Selector,
		stt:           deps.STT,
		tts:           deps.TTS,
		emitter:       deps.Emitter,
		greeting:      strings.TrimSpace(deps.Greeting),
		sttLanguage:   deps.STTLanguage,
		historyTurns:  deps.HistoryTurns,
		commitTimeout: deps.CommitTimeout,
		logger:        utils.GetLogger(),
	}
	if s.locker == nil {
		s.locker = NewKeyedMutex()
	}
	if s.tts == nil {
		s.tts = tts.Disabled{}
	}
	if s.emitter == nil {
		s.emitter = event.Global()
	}
	if s.greeting == "" {
		s.greeting = "Hi there! Could you tell me the name of your company?"
	}
	if s.historyTurns <= 0 {
		s.historyTurns = defaultHistoryTurns
	}
	if s.commitTimeout <= 0 {
		s.commitTimeout = defaultCommitTimeout
	}
	return s
}

// Start creates or reopens a session and returns the greeting. The greeting is
// stored as the first agent turn of a session with no history. An empty id
// gets a fresh uuid.
func (s *AgentService) Start(ctx context.Context, sessionID string) (*models.AgentResponse, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	work := context.WithoutCancel(ctx)
	unlock, err := s.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	storeCtx, cancel := context.WithTimeout(work, s.commitTimeout)
	defer cancel()

	session, created, err := s.store.GetOrCreate(storeCtx, sessionID)
	if err != nil {
		return nil, err
	}
	history, err := s.store.History(storeCtx, sessionID, 1)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		session, err = s.store.CommitTurn(storeCtx, TurnCommit{SessionID: sessionID, AgentText: s.greeting})
		if err != nil {
			return nil, err
		}
	}

	s.emitter.Emit(event.SessionStartedEvent{SessionID: sessionID, Created: created})
	s.logger.Info("Session started", "sessionID", sessionID, "created", created)

	resp := &models.AgentResponse{
		Type:      models.ResponseTypeAgent,
		SessionID: sessionID,
		Text:      s.greeting,
		LeadInfo:  models.LeadInfoFromSession(session),
		Media:     LastMedia(session),
	}
	s.attachAudio(work, resp)
	return resp, nil
}

// HandleText runs a text turn.
func (s *AgentService) HandleText(ctx context.Context, sessionID, message string) (*models.AgentResponse, error) {
	sessionID = strings.TrimSpace(sessionID)
	message = strings.TrimSpace(message)
	if sessionID == "" {
		return nil, models.NewError(models.CodeValidation, "session_id is required", nil)
	}
	if message == "" {
		return nil, models.NewError(models.CodeValidation, "message is required", nil)
	}
	return s.runTurn(ctx, sessionID, message, db.MessageTypeText)
}

// HandleAudio transcribes audio and runs the transcript as a turn. The
// response carries the transcript.
func (s *AgentService) HandleAudio(ctx context.Context, sessionID string, audio []byte, filename string) (*models.AgentResponse, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, models.NewError(models.CodeValidation, "session_id is required", nil)
	}
	if len(audio) == 0 {
		return nil, models.NewError(models.CodeValidation, "audio_file is required", nil)
	}

	work := context.WithoutCancel(ctx)
	// Fail fast on unknown sessions before paying for transcription.
	if err := s.checkOpen(work, sessionID); err != nil {
		return nil, err
	}

	res := s.stt.Transcribe(work, audio, stt.TranscribeOptions{Filename: filename, Language: s.sttLanguage})
	if !res.Ok() {
		s.logger.Warn("Transcription failed", "sessionID", sessionID, "provider", s.stt.Name(), "error", res.Err())
		s.emitter.Emit(event.TurnFailedEvent{SessionID: sessionID, Code: string(models.CodeSTTFailure)})
		return nil, models.NewError(models.CodeSTTFailure, STTRetryMessage, res.Err())
	}
	transcript := strings.TrimSpace(res.Value())
	if transcript == "" {
		return nil, models.NewError(models.CodeSTTFailure, STTRetryMessage, errors.New("empty transcript"))
	}

	resp, err := s.runTurn(ctx, sessionID, transcript, db.MessageTypeAudio)
	if err != nil {
		return nil, err
	}
	resp.Transcript = &transcript
	return resp, nil
}

// DecodeAudio accepts raw base64 or a data URL (data:audio/webm;base64,...).
func DecodeAudio(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:") {
		idx := strings.Index(payload, ",")
		if idx < 0 {
			return nil, models.NewError(models.CodeValidation, "malformed data URL", nil)
		}
		payload = payload[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, models.NewError(models.CodeValidation, "audio is not valid base64", err)
	}
	if len(data) == 0 {
		return nil, models.NewError(models.CodeValidation, "audio is empty", nil)
	}
	return data, nil
}

func (s *AgentService) runTurn(ctx context.Context, sessionID, text, messageType string) (*models.AgentResponse, error) {
	work := context.WithoutCancel(ctx)
	unlock, err := s.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, history, err := s.loadTurnState(work, sessionID)
	if err != nil {
		return nil, err
	}
	before := models.LeadInfoFromSession(session)

	reply, raw, err := s.engine.ComposeReply(work, session, history, text)
	if err != nil {
		return nil, s.commitFailedTurn(work, sessionID, text, messageType, before, err)
	}

	var (
		lead  models.PartialLeadInfo
		audio *tts.Audio
	)
	// Extraction handles its own failures; a TTS error only drops the audio.
	var g errgroup.Group
	g.Go(func() error {
		lead = s.extractor.Extract(work, text, reply)
		return nil
	})
	g.Go(func() error {
		var err error
		audio, err = s.synthesize(work, reply)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Warn("Speech synthesis failed, replying without audio", "sessionID", sessionID, "provider", s.tts.Name(), "error", err)
	}

	media := s.selector.Choose(raw, reply, text)

	commitCtx, cancel := context.WithTimeout(work, s.commitTimeout)
	defer cancel()
	committed, err := s.store.CommitTurn(commitCtx, TurnCommit{
		SessionID:   sessionID,
		UserText:    text,
		MessageType: messageType,
		AgentText:   reply,
		Lead:        lead,
		Media:       media,
	})
	if err != nil {
		s.logger.Error("Failed to commit turn", "sessionID", sessionID, "error", err)
		s.emitter.Emit(event.TurnFailedEvent{SessionID: sessionID, Code: string(models.CodeOf(err))})
		return nil, err
	}

	after := models.LeadInfoFromSession(committed)
	s.emitTurn(committed, messageType, audio != nil, before, after, media)

	resp := &models.AgentResponse{
		Type:      models.ResponseTypeAgent,
		SessionID: sessionID,
		Text:      reply,
		LeadInfo:  after,
		Media:     media,
	}
	setAudio(resp, audio)
	return resp, nil
}

func (s *AgentService) loadTurnState(ctx context.Context, sessionID string) (*db.Session, []db.Turn, error) {
	ctx, cancel := context.WithTimeout(ctx, s.commitTimeout)
	defer cancel()

	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if session.Status == db.SessionStatusClosed {
		return nil, nil, models.NewError(models.CodeSessionClosed, "session is closed", nil)
	}
	history, err := s.store.History(ctx, sessionID, s.historyTurns)
	if err != nil {
		return nil, nil, err
	}
	return session, history, nil
}

// commitFailedTurn stores the user turn and the heuristic lead fields after a
// model failure. The caller never retries the model for this message.
func (s *AgentService) commitFailedTurn(ctx context.Context, sessionID, text, messageType string, before models.LeadInfo, cause error) error {
	s.logger.Warn("Model unavailable, storing user turn only", "sessionID", sessionID, "error", cause)

	commitCtx, cancel := context.WithTimeout(ctx, s.commitTimeout)
	defer cancel()
	committed, err := s.store.CommitTurn(commitCtx, TurnCommit{
		SessionID:   sessionID,
		UserText:    text,
		MessageType: messageType,
		Lead:        s.extractor.Heuristic(text),
	})
	if err != nil {
		s.emitter.Emit(event.TurnFailedEvent{SessionID: sessionID, Code: string(models.CodeOf(err))})
		return err
	}

	after := models.LeadInfoFromSession(committed)
	s.emitTurn(committed, messageType, false, before, after, nil)
	s.emitter.Emit(event.TurnFailedEvent{SessionID: sessionID, Code: string(models.CodeModelUnavailable)})

	return &TurnFailure{
		SessionID: sessionID,
		Message:   FallbackReply,
		LeadInfo:  after,
		Err:       cause,
	}
}

func (s *AgentService) emitTurn(session *db.Session, messageType string, hasAudio bool, before, after models.LeadInfo, media *models.MediaCue) {
	s.emitter.Emit(event.TurnCommittedEvent{
		SessionID:   session.ID,
		MessageType: messageType,
		Stage:       session.CurrentStage,
		HasAudio:    hasAudio,
	})
	if changed := ChangedFields(before, after); len(changed) > 0 {
		s.emitter.Emit(event.LeadUpdatedEvent{SessionID: session.ID, Fields: changed, CompletionPercent: after.CompletionPercent()})
		if len(before.Missing()) > 0 && len(after.Missing()) == 0 {
			s.emitter.Emit(event.LeadQualifiedEvent{SessionID: session.ID})
		}
	}
	if media != nil {
		s.emitter.Emit(event.MediaShownEvent{SessionID: session.ID, MediaType: string(media.Type), Topic: media.Topic})
	}
}

// ChangedFields lists the lead fields whose values differ between before and after.
func ChangedFields(before, after models.LeadInfo) []string {
	var changed []string
	for _, f := range models.LeadFields {
		b, a := before.Get(f), after.Get(f)
		switch {
		case b == nil && a == nil:
		case b == nil || a == nil || *b != *a:
			changed = append(changed, f)
		}
	}
	return changed
}

// synthesize returns nil audio and no error when speech output is disabled.
func (s *AgentService) synthesize(ctx context.Context, text string) (*tts.Audio, error) {
	res := s.tts.Synthesize(ctx, text)
	if !res.Ok() {
		if _, disabled := s.tts.(tts.Disabled); disabled {
			return nil, nil
		}
		return nil, res.Err()
	}
	audio := res.Value()
	return &audio, nil
}

func (s *AgentService) attachAudio(ctx context.Context, resp *models.AgentResponse) {
	audio, err := s.synthesize(ctx, resp.Text)
	if err != nil {
		s.logger.Warn("Speech synthesis failed, replying without audio", "sessionID", resp.SessionID, "provider", s.tts.Name(), "error", err)
	}
	setAudio(resp, audio)
}

func setAudio(resp *models.AgentResponse, audio *tts.Audio) {
	if audio == nil || len(audio.Data) == 0 {
		return
	}
	encoded := base64.StdEncoding.EncodeToString(audio.Data)
	mime := audio.MIME
	resp.Audio = &encoded
	resp.AudioMIME = &mime
}

// CloseSession marks the session closed. Closing twice is not an error.
func (s *AgentService) CloseSession(ctx context.Context, sessionID string) (*models.CloseResponse, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, models.NewError(models.CodeValidation, "session_id is required", nil)
	}
	work := context.WithoutCancel(ctx)
	unlock, err := s.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	storeCtx, cancel := context.WithTimeout(work, s.commitTimeout)
	defer cancel()
	session, err := s.store.Close(storeCtx, sessionID)
	if err != nil {
		return nil, err
	}
	s.emitter.Emit(event.SessionClosedEvent{SessionID: sessionID})
	s.logger.Info("Session closed", "sessionID", sessionID)
	return &models.CloseResponse{SessionID: session.ID, Status: session.Status, ClosedAt: session.ClosedAt}, nil
}

// Summary returns the session summary without taking the session lock.
func (s *AgentService) Summary(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	return s.store.Summary(ctx, sessionID)
}

// ListSessions returns the most recently updated sessions first.
func (s *AgentService) ListSessions(ctx context.Context, limit int) ([]models.SessionListItem, error) {
	return s.store.List(ctx, limit)
}

// History returns a session's turns oldest first.
func (s *AgentService) History(ctx context.Context, sessionID string, limit int) ([]db.Turn, error) {
	if _, err := s.store.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.History(ctx, sessionID, limit)
}

func (s *AgentService) checkOpen(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.commitTimeout)
	defer cancel()
	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status == db.SessionStatusClosed {
		return models.NewError(models.CodeSessionClosed, "session is closed", nil)
	}
	return nil
}

// lock waits on the caller's context; once held, the turn finishes even if
// the caller goes away.
func (s *AgentService) lock(ctx context.Context, sessionID string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, sessionID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, models.NewError(models.CodeStorageUnavailable, "session lock unavailable", err)
	}
	return unlock, nil
}
