package service

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/choraleia/leadagent/pkg/models"
)

// MediaRule maps trigger keywords to a media type.
type MediaRule struct {
	Type     models.MediaType
	Keywords []string
}

// TopicRule maps trigger keywords to a topic label.
type TopicRule struct {
	Topic    string
	Keywords []string
}

// MediaTable drives the selector. Rules are checked in order and the first hit wins.
type MediaTable struct {
	Types  []MediaRule
	Topics []TopicRule
}

// DefaultMediaTable orders types demo > features > pricing > testimonials.
var DefaultMediaTable = MediaTable{
	Types: []MediaRule{
		{Type: models.MediaDemo, Keywords: []string{"demo", "walkthrough", "walk-through", "how it works", "see it in action", "video"}},
		{Type: models.MediaFeatures, Keywords: []string{"feature", "capability", "capabilities", "integration", "what can it do", "functionality"}},
		{Type: models.MediaPricing, Keywords: []string{"pricing", "price", "cost", "how much", "plans", "subscription", "quote"}},
		{Type: models.MediaTestimonials, Keywords: []string{"testimonial", "case study", "case studies", "customer story", "customer stories", "success story", "success stories", "reviews", "references"}},
	},
	Topics: []TopicRule{
		{Topic: "enterprise", Keywords: []string{"enterprise", "large team", "sso"}},
		{Topic: "integration", Keywords: []string{"integration", "integrate", "crm", "salesforce", "hubspot", "pipedrive", "slack"}},
		{Topic: "security", Keywords: []string{"security", "secure", "compliance", "soc 2", "gdpr", "encryption", "privacy"}},
		{Topic: "stt", Keywords: []string{"speech recognition", "speech-to-text", "transcription", "stt"}},
		{Topic: "tts", Keywords: []string{"text-to-speech", "tts", "voice"}},
		{Topic: "api", Keywords: []string{"api", "webhook", "developer"}},
		{Topic: "onboarding", Keywords: []string{"onboarding", "setup", "implementation", "go live"}},
		{Topic: "analytics", Keywords: []string{"analytics", "dashboard", "report"}},
	},
}

type compiledRule struct {
	label string
	re    *regexp.Regexp
}

// MediaSelector picks at most one media cue per turn. It is pure and safe for concurrent use.
type MediaSelector struct {
	types  []compiledRule
	topics []compiledRule
}

func NewMediaSelector(table MediaTable) *MediaSelector {
	s := &MediaSelector{}
	for _, r := range table.Types {
		s.types = append(s.types, compiledRule{label: string(r.Type), re: keywordPattern(r.Keywords)})
	}
	for _, r := range table.Topics {
		s.topics = append(s.topics, compiledRule{label: r.Topic, re: keywordPattern(r.Keywords)})
	}
	return s
}

// keywordPattern matches any keyword as a whole word or phrase, allowing a plural "s".
func keywordPattern(keywords []string) *regexp.Regexp {
	quoted := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(kw)))
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)s?\b`)
}

// Select returns the cue triggered by text, or nil.
func (s *MediaSelector) Select(text string) *models.MediaCue {
	lower := strings.ToLower(text)
	for _, r := range s.types {
		if r.re.MatchString(lower) {
			return &models.MediaCue{Type: models.MediaType(r.label), Topic: s.topic(lower)}
		}
	}
	return nil
}

func (s *MediaSelector) topic(lower string) string {
	for _, r := range s.topics {
		if r.re.MatchString(lower) {
			return r.label
		}
	}
	return models.DefaultMediaTopic
}

// Choose applies the selection order for one turn: an explicit model command in
// raw wins, then keywords in the reply, then keywords in the user utterance.
func (s *MediaSelector) Choose(raw, reply, userText string) *models.MediaCue {
	if cue, _ := ParseMediaCommand(raw); cue != nil {
		return cue
	}
	if cue := s.Select(reply); cue != nil {
		return cue
	}
	return s.Select(userText)
}

var mediaCommandPattern = regexp.MustCompile(`\{\s*"show_media"\s*:[^{}]*\}`)

type mediaCommand struct {
	ShowMedia string `json:"show_media"`
	Topic     string `json:"topic"`
}

// ParseMediaCommand finds {"show_media": "<type>", "topic": "<topic>"} in text.
// It returns the first valid command as a cue (nil if none) and text with every
// command removed.
func ParseMediaCommand(text string) (*models.MediaCue, string) {
	if !mediaCommandPattern.MatchString(text) {
		return nil, text
	}
	var cue *models.MediaCue
	stripped := mediaCommandPattern.ReplaceAllStringFunc(text, func(m string) string {
		var cmd mediaCommand
		if err := json.Unmarshal([]byte(m), &cmd); err != nil {
			return m
		}
		if cue == nil {
			t := models.MediaType(strings.ToLower(strings.TrimSpace(cmd.ShowMedia)))
			if t.Valid() {
				topic := strings.TrimSpace(cmd.Topic)
				if topic == "" {
					topic = models.DefaultMediaTopic
				}
				cue = &models.MediaCue{Type: t, Topic: topic}
			}
		}
		return " "
	})
	return cue, strings.Join(strings.Fields(stripped), " ")
}
