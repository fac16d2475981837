package event

// ============================================================================
// Event Names (constants)
// ============================================================================

const (
	SessionStarted = "session.started"
	SessionClosed  = "session.closed"
	TurnCommitted  = "turn.committed"
	TurnFailed     = "turn.failed"
	LeadUpdated    = "lead.updated"
	LeadQualified  = "lead.qualified"
	MediaShown     = "media.shown"
)

// ============================================================================
// Session Events
// ============================================================================

// SessionStartedEvent is emitted when a session is created or reopened.
type SessionStartedEvent struct {
	SessionID string `json:"sessionId"`
	Created   bool   `json:"created"` // false when an existing session was resumed
}

func (e SessionStartedEvent) EventName() string { return SessionStarted }

// SessionClosedEvent is emitted when a session is closed.
type SessionClosedEvent struct {
	SessionID string `json:"sessionId"`
}

func (e SessionClosedEvent) EventName() string { return SessionClosed }

// ============================================================================
// Turn Events
// ============================================================================

// TurnCommittedEvent is emitted after an exchange is persisted.
type TurnCommittedEvent struct {
	SessionID   string `json:"sessionId"`
	MessageType string `json:"messageType"` // text, audio
	Stage       string `json:"stage"`
	HasAudio    bool   `json:"hasAudio"`
}

func (e TurnCommittedEvent) EventName() string { return TurnCommitted }

// TurnFailedEvent is emitted when a turn ends with an error code.
type TurnFailedEvent struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
}

func (e TurnFailedEvent) EventName() string { return TurnFailed }

// ============================================================================
// Lead Events
// ============================================================================

// LeadUpdatedEvent is emitted when a turn changes lead fields.
type LeadUpdatedEvent struct {
	SessionID         string   `json:"sessionId"`
	Fields            []string `json:"fields"`
	CompletionPercent int      `json:"completionPercent"`
}

func (e LeadUpdatedEvent) EventName() string { return LeadUpdated }

// LeadQualifiedEvent is emitted once every lead field is known.
type LeadQualifiedEvent struct {
	SessionID string `json:"sessionId"`
}

func (e LeadQualifiedEvent) EventName() string { return LeadQualified }

// ============================================================================
// Media Events
// ============================================================================

// MediaShownEvent is emitted when a media cue is attached to a reply.
type MediaShownEvent struct {
	SessionID string `json:"sessionId"`
	MediaType string `json:"mediaType"`
	Topic     string `json:"topic"`
}

func (e MediaShownEvent) EventName() string { return MediaShown }
