// Database models for conversation turns and media log
package db

import "time"

// Turn is one utterance in a session. Rows are append-only; the autoincrement
// ID gives insertion order.
type Turn struct {
	ID          uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	SessionID   string    `json:"session_id" gorm:"index:idx_turns_session_created,priority:1;size:128;not null"`
	Sender      string    `json:"sender" gorm:"size:10;not null"` // user, agent
	Text        string    `json:"text" gorm:"type:text;not null"`
	MessageType string    `json:"message_type" gorm:"size:10;default:'text'"` // text, audio
	CreatedAt   time.Time `json:"timestamp" gorm:"index:idx_turns_session_created,priority:2"`
}

func (*Turn) TableName() string {
	return "turns"
}

// Turn senders
const (
	SenderUser  = "user"
	SenderAgent = "agent"
)

// Turn message types
const (
	MessageTypeText  = "text"
	MessageTypeAudio = "audio"
)

// MediaInteraction records every media cue shown to a visitor.
type MediaInteraction struct {
	ID        uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	SessionID string    `json:"session_id" gorm:"index;size:128;not null"`
	MediaType string    `json:"media_type" gorm:"size:20;not null"`
	Topic     string    `json:"topic" gorm:"size:100"`
	CreatedAt time.Time `json:"timestamp"`
}

func (*MediaInteraction) TableName() string {
	return "media_interaction_log"
}
