// Database models for lead qualification sessions
package db

import "time"

// Session is one visitor conversation together with the lead fields collected so far.
// Lead fields are nil until extracted.
type Session struct {
	ID           string  `json:"session_id" gorm:"primaryKey;size:128"`
	Status       string  `json:"status" gorm:"size:20;index;default:'active'"` // active, closed
	CurrentStage string  `json:"current_stage" gorm:"size:20;default:'greeting'"`
	CompanyName  *string `json:"company_name" gorm:"size:200"`
	Domain       *string `json:"domain" gorm:"size:100"`
	Problem      *string `json:"problem" gorm:"type:text"`
	Budget       *string `json:"budget" gorm:"size:100"`

	// Latest media cue shown, kept for re-display on reconnect
	LastMediaType  *string `json:"last_media_type,omitempty" gorm:"size:20"`
	LastMediaTopic *string `json:"last_media_topic,omitempty" gorm:"size:100"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"index"`
	ClosedAt  *time.Time `json:"closed_at"`
}

func (Session) TableName() string {
	return "sessions"
}

// Session status
const (
	SessionStatusActive = "active"
	SessionStatusClosed = "closed"
)

// Qualification stages
const (
	StageGreeting   = "greeting"
	StageQualifying = "qualifying"
	StageQualified  = "qualified"
)
