// Chat API types for the lead qualification agent
package models

import (
	"time"

	"github.com/choraleia/leadagent/pkg/db"
)

// Response type tags
const (
	ResponseTypeAgent = "agent_response"
	ResponseTypeError = "error"
)

// Lead field names, in the order they are asked for.
const (
	FieldCompanyName = "company_name"
	FieldDomain      = "domain"
	FieldProblem     = "problem"
	FieldBudget      = "budget"
)

var LeadFields = []string{FieldCompanyName, FieldDomain, FieldProblem, FieldBudget}

// LeadInfo is the qualification record of a session. A nil field has not been collected yet.
type LeadInfo struct {
	CompanyName *string `json:"company_name"`
	Domain      *string `json:"domain"`
	Problem     *string `json:"problem"`
	Budget      *string `json:"budget"`
}

// LeadInfoFromSession copies the lead columns of s.
func LeadInfoFromSession(s *db.Session) LeadInfo {
	if s == nil {
		return LeadInfo{}
	}
	return LeadInfo{
		CompanyName: s.CompanyName,
		Domain:      s.Domain,
		Problem:     s.Problem,
		Budget:      s.Budget,
	}
}

// Get returns the value of the named field, or nil.
func (l LeadInfo) Get(field string) *string {
	switch field {
	case FieldCompanyName:
		return l.CompanyName
	case FieldDomain:
		return l.Domain
	case FieldProblem:
		return l.Problem
	case FieldBudget:
		return l.Budget
	}
	return nil
}

// Missing lists the fields still nil, in LeadFields order.
func (l LeadInfo) Missing() []string {
	missing := []string{}
	for _, f := range LeadFields {
		if l.Get(f) == nil {
			missing = append(missing, f)
		}
	}
	return missing
}

// CompletionPercent is the share of collected fields, 0-100.
func (l LeadInfo) CompletionPercent() int {
	filled := len(LeadFields) - len(l.Missing())
	return filled * 100 / len(LeadFields)
}

// PartialLeadInfo is the output of one extraction pass. Only fields the
// extractor is confident about are set. Correction marks a turn in which the
// visitor explicitly corrected earlier information.
type PartialLeadInfo struct {
	CompanyName *string `json:"company_name,omitempty"`
	Domain      *string `json:"domain,omitempty"`
	Problem     *string `json:"problem,omitempty"`
	Budget      *string `json:"budget,omitempty"`
	Correction  bool    `json:"correction,omitempty"`
}

func (p PartialLeadInfo) Empty() bool {
	return p.CompanyName == nil && p.Domain == nil && p.Problem == nil && p.Budget == nil
}

// MediaType is the kind of asset the frontend can display next to a reply.
type MediaType string

const (
	MediaDemo         MediaType = "demo"
	MediaFeatures     MediaType = "features"
	MediaPricing      MediaType = "pricing"
	MediaTestimonials MediaType = "testimonials"
)

// Valid reports whether t is one of the known media types.
func (t MediaType) Valid() bool {
	switch t {
	case MediaDemo, MediaFeatures, MediaPricing, MediaTestimonials:
		return true
	}
	return false
}

// DefaultMediaTopic is used when no topic keyword matches.
const DefaultMediaTopic = "general"

type MediaCue struct {
	Type  MediaType `json:"type"`
	Topic string    `json:"topic"`
}

// AgentResponse is returned for every successful turn and for session start.
// Optional parts are nil when absent and omitted from JSON.
type AgentResponse struct {
	Type       string    `json:"type"`
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Audio      *string   `json:"audio,omitempty"` // base64
	AudioMIME  *string   `json:"audio_mime,omitempty"`
	Transcript *string   `json:"transcript,omitempty"`
	LeadInfo   LeadInfo  `json:"lead_info"`
	Media      *MediaCue `json:"media,omitempty"`
}

// ErrorResponse is the body of every failed request and realtime error push.
type ErrorResponse struct {
	Type      string    `json:"type"`
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	SessionID string    `json:"session_id,omitempty"`
	LeadInfo  *LeadInfo `json:"lead_info,omitempty"`
}

// ChatTextRequest is the body of POST /chat/text.
type ChatTextRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// SessionSummary is returned by GET /session/:id/summary.
type SessionSummary struct {
	SessionID            string     `json:"session_id"`
	Status               string     `json:"status"`
	CurrentStage         string     `json:"current_stage"`
	LeadInfo             LeadInfo   `json:"lead_info"`
	MissingInfo          []string   `json:"missing_info"`
	CompletionPercentage int        `json:"lead_completion_percentage"`
	TurnCount            int64      `json:"turn_count"`
	UserMessages         int64      `json:"user_messages"`
	AgentMessages        int64      `json:"agent_messages"`
	LastMedia            *MediaCue  `json:"last_media,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	ClosedAt             *time.Time `json:"closed_at"`
}

// SessionListItem is one row of GET /sessions.
type SessionListItem struct {
	SessionID    string    `json:"session_id"`
	Status       string    `json:"status"`
	CurrentStage string    `json:"current_stage"`
	LeadInfo     LeadInfo  `json:"lead_info"`
	MessageCount int64     `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CloseResponse confirms POST /session/:id/close.
type CloseResponse struct {
	SessionID string     `json:"session_id"`
	Status    string     `json:"status"`
	ClosedAt  *time.Time `json:"closed_at"`
}

// RealtimeMessage is one inbound frame on the realtime channel.
// Exactly one of Text or Audio is expected.
type RealtimeMessage struct {
	Text     *string `json:"text,omitempty"`
	Audio    *string `json:"audio,omitempty"` // base64 or data URL
	Filename string  `json:"filename,omitempty"`
}
