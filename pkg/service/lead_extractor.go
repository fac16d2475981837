package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/choraleia/leadagent/pkg/models"
	"github.com/choraleia/leadagent/pkg/utils"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// companyName captures one free-form token followed by up to three capitalized tokens.
const companyName = `([\p{L}\p{N}][\p{L}\p{N}&.'-]*(?:\s+[\p{Lu}\p{N}][\p{L}\p{N}&.'-]*){0,3})`

type companyPattern struct {
	re *regexp.Regexp
	// capitalized requires the captured name to start with an upper case letter.
	// Only cues that name the company outright accept a lower case name.
	capitalized bool
	// notPlace rejects captures that are well-known places ("I'm from London").
	notPlace bool
}

// companyPatterns is ordered so restated names win over earlier mentions in the same turn.
var companyPatterns = []companyPattern{
	{re: regexp.MustCompile(`(?i:\b(?:actually|sorry|wait),?\s+it(?:'s|’s|\s+is)\s+)` + companyName), capitalized: true},
	{re: regexp.MustCompile(`(?i:\bi\s+meant(?:\s+to\s+say)?,?\s+)` + companyName), capitalized: true},
	{re: regexp.MustCompile(`(?i:\bnot\s+)[\p{Lu}][\p{L}\p{N}&.'-]*(?i:,?\s+but\s+)` + companyName), capitalized: true},
	{re: regexp.MustCompile(`(?i:\bcompany(?:'s)?\s+(?:name\s+)?(?:is\s+(?:called\s+|named\s+)?|called\s+|named\s+))` + companyName)},
	{re: regexp.MustCompile(`(?i:\b(?:i|we)\s+work\s+(?:at|for)\s+)` + companyName), capitalized: true},
	{re: regexp.MustCompile(`(?i:\b(?:i'm|i am|we're|we are)\s+(?:at|with)\s+)` + companyName), capitalized: true},
	{re: regexp.MustCompile(`(?i:\b(?:i'm|i am|we're|we are)\s+from\s+)` + companyName), capitalized: true, notPlace: true},
	{re: regexp.MustCompile(`(?i:\b(?:we're|we are)\s+)` + companyName), capitalized: true},
}

// companyStopwords rejects captures that are clearly not names.
var companyStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "not": {}, "in": {}, "on": {}, "of": {}, "is": {},
	"looking": {}, "interested": {}, "just": {}, "currently": {}, "based": {}, "called": {}, "named": {},
	"trying": {}, "still": {}, "very": {}, "really": {}, "also": {}, "here": {}, "small": {}, "large": {},
	"inc": {}, "llc": {}, "ltd": {}, "my": {}, "our": {}, "your": {}, "it": {}, "that": {}, "this": {},
	"home": {}, "least": {}, "all": {}, "some": {}, "one": {}, "myself": {}, "ourselves": {}, "several": {},
	"many": {}, "multiple": {}, "various": {}, "me": {}, "us": {}, "them": {}, "i": {}, "we": {},
}

var placeNames = map[string]struct{}{
	"london": {}, "paris": {}, "berlin": {}, "madrid": {}, "rome": {}, "dublin": {}, "amsterdam": {},
	"new york": {}, "san francisco": {}, "los angeles": {}, "chicago": {}, "boston": {}, "seattle": {},
	"austin": {}, "toronto": {}, "vancouver": {}, "sydney": {}, "melbourne": {}, "tokyo": {}, "singapore": {},
	"dubai": {}, "mumbai": {}, "bangalore": {}, "delhi": {}, "lagos": {}, "nairobi": {}, "sao paulo": {},
	"usa": {}, "us": {}, "uk": {}, "america": {}, "canada": {}, "mexico": {}, "brazil": {}, "india": {},
	"germany": {}, "france": {}, "spain": {}, "italy": {}, "ireland": {}, "australia": {}, "japan": {},
	"china": {}, "europe": {}, "asia": {}, "africa": {}, "california": {}, "texas": {}, "florida": {},
}

type domainRule struct {
	label string
	re    *regexp.Regexp
}

// domainRules is ordered from specific to generic; the first hit wins.
var domainRules = []domainRule{
	{"Fintech", keywordPattern([]string{"fintech", "financial services", "finance", "banking", "bank", "payment", "insurance", "lending"})},
	{"Healthcare", keywordPattern([]string{"healthcare", "health care", "medical", "hospital", "clinic", "pharma", "biotech", "telehealth"})},
	{"E-commerce", keywordPattern([]string{"ecommerce", "e-commerce", "online store", "marketplace", "retail", "dtc"})},
	{"Education", keywordPattern([]string{"education", "edtech", "e-learning", "school", "university", "training"})},
	{"Marketing", keywordPattern([]string{"marketing", "advertising", "ad agency", "digital agency", "media agency"})},
	{"Real Estate", keywordPattern([]string{"real estate", "property management", "proptech"})},
	{"Logistics", keywordPattern([]string{"logistics", "shipping", "supply chain", "freight", "transportation"})},
	{"Manufacturing", keywordPattern([]string{"manufacturing", "industrial", "factory"})},
	{"Consulting", keywordPattern([]string{"consulting", "consultancy", "advisory", "professional services"})},
	{"Cybersecurity", keywordPattern([]string{"cybersecurity", "infosec", "security company"})},
	{"SaaS", keywordPattern([]string{"saas", "software", "tech", "technology"})},
}

var painPattern = keywordPattern([]string{
	"problem", "issue", "challenge", "struggle", "struggling", "difficult", "hard to", "frustrating",
	"frustrated", "painful", "pain point", "bottleneck", "too slow", "losing", "waste", "wasting",
	"can't keep up", "cannot keep up", "need help", "need to improve",
})

// negatedPain matches phrases that deny a problem ("no problem", "not an issue").
var negatedPain = regexp.MustCompile(`\b(?:no|not\s+(?:an?|any|really\s+an?)|without\s+(?:an?|any)|never\s+an?)\s+(?:big\s+|real\s+)?(?:problem|issue|challenge|struggle)s?\b`)

var sentenceSplit = regexp.MustCompile(`[.!?\n]+`)

const money = `\$\s?\d[\d,]*(?:\.\d+)?\s?(?:k|m|mm|million|thousand)?`
const amount = `\d[\d,]*(?:\.\d+)?\s?(?:k|m|mm|million|thousand)`

var (
	budgetRangePattern  = regexp.MustCompile(`(?i)(?:between\s+)?` + money + `\s*(?:-|–|to|and)\s*\$?\s?\d[\d,]*(?:\.\d+)?\s?(?:k|m|mm|million|thousand)?\b`)
	budgetMoneyPattern  = regexp.MustCompile(`(?i)(?:(?:around|about|up to|under|less than|more than|over|roughly)\s+)?` + money + `\b(?:\s*(?:per|a|/)\s*(?:month|year|yr|mo|annually))?`)
	budgetAmountPattern = regexp.MustCompile(`(?i)(?:(?:around|about|up to|under|less than|more than|over|roughly)\s+)?\b` + amount + `\b(?:\s*dollars)?`)
	budgetWordPattern   = keywordPattern([]string{"budget", "spend", "spending", "invest", "afford", "allocate", "allocated", "pay", "dollars", "usd"})
)

var budgetPhrases = []struct {
	label string
	re    *regexp.Regexp
}{
	{"under 10k", keywordPattern([]string{"small budget", "tight budget", "limited budget", "startup budget", "low budget"})},
	{"10k-50k", keywordPattern([]string{"mid-range budget", "moderate budget", "reasonable budget", "medium budget"})},
	{"50k+", keywordPattern([]string{"enterprise budget", "significant budget", "large budget", "big budget", "substantial investment"})},
}

var correctionPattern = regexp.MustCompile(`(?i)\b(?:actually|correction|i meant|sorry,?\s+it'?s|sorry,?\s+it is|let me correct|to correct|i misspoke|wait,?\s+it'?s|not\s+[^,.]{1,40}?,?\s+but)\b`)

// LeadExtractor derives lead fields from one exchange. The heuristic pass runs
// over the user utterance; an optional model pass fills what it left empty.
type LeadExtractor struct {
	chatModel einoModel.BaseChatModel // nil disables the model pass
	opts      []einoModel.Option
	timeout   time.Duration
	logger    *slog.Logger
}

// NewLeadExtractor returns an extractor. chatModel may be nil.
func NewLeadExtractor(chatModel einoModel.BaseChatModel, timeout time.Duration) *LeadExtractor {
	return &LeadExtractor{
		chatModel: chatModel,
		opts:      []einoModel.Option{einoModel.WithTemperature(0), einoModel.WithMaxTokens(200)},
		timeout:   timeout,
		logger:    utils.GetLogger(),
	}
}

// UsesModel reports whether the secondary model pass is enabled.
func (e *LeadExtractor) UsesModel() bool {
	return e.chatModel != nil
}

// Extract runs the heuristic pass and, when enabled, the model pass. Model
// failures are logged and ignored.
func (e *LeadExtractor) Extract(ctx context.Context, userText, replyText string) models.PartialLeadInfo {
	out := e.Heuristic(userText)
	if e.chatModel == nil || !anyMissing(out) {
		return out
	}

	fromModel, err := e.extractWithModel(ctx, userText, replyText)
	if err != nil {
		e.logger.Warn("Model lead extraction failed", "error", err)
		return out
	}
	return FillMissing(out, fromModel)
}

// Heuristic extracts lead fields from the user utterance with keyword rules.
func (e *LeadExtractor) Heuristic(userText string) models.PartialLeadInfo {
	text := strings.TrimSpace(userText)
	if text == "" {
		return models.PartialLeadInfo{}
	}
	return models.PartialLeadInfo{
		CompanyName: extractCompany(text),
		Domain:      extractDomain(text),
		Problem:     extractProblem(text),
		Budget:      extractBudget(text),
		Correction:  correctionPattern.MatchString(text),
	}
}

func extractCompany(text string) *string {
	for _, p := range companyPatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			name := cleanCompany(m[1])
			if name == "" {
				continue
			}
			if p.capitalized && !unicode.IsUpper([]rune(name)[0]) {
				continue
			}
			if p.notPlace {
				if _, place := placeNames[strings.ToLower(name)]; place {
					continue
				}
			}
			if !p.capitalized && isLower(name) {
				name = titleCase(name)
			}
			return &name
		}
	}
	return nil
}

func cleanCompany(raw string) string {
	name := strings.TrimSpace(raw)
	if i := strings.Index(name, ". "); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimRight(name, ".,!?;:'-")
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	if _, stop := companyStopwords[strings.ToLower(fields[0])]; stop {
		return ""
	}
	if len([]rune(name)) < 2 || len(name) > 200 {
		return ""
	}
	return name
}

func extractDomain(text string) *string {
	lower := strings.ToLower(text)
	for _, r := range domainRules {
		if r.re.MatchString(lower) {
			label := r.label
			return &label
		}
	}
	return nil
}

func extractProblem(text string) *string {
	for _, sentence := range sentenceSplit.Split(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		lower := negatedPain.ReplaceAllString(strings.ToLower(sentence), "")
		if painPattern.MatchString(lower) {
			if r := []rune(sentence); len(r) > 300 {
				sentence = string(r[:300])
			}
			return &sentence
		}
	}
	return nil
}

func extractBudget(text string) *string {
	if m := budgetRangePattern.FindString(text); m != "" {
		return cleanBudget(m)
	}
	if m := budgetMoneyPattern.FindString(text); m != "" {
		return cleanBudget(m)
	}
	lower := strings.ToLower(text)
	if budgetWordPattern.MatchString(lower) {
		if m := budgetAmountPattern.FindString(text); m != "" {
			return cleanBudget(m)
		}
	}
	for _, p := range budgetPhrases {
		if p.re.MatchString(lower) {
			label := p.label
			return &label
		}
	}
	return nil
}

func cleanBudget(raw string) *string {
	v := strings.TrimRight(strings.TrimSpace(raw), ".,;:")
	if v == "" {
		return nil
	}
	return &v
}

// FillMissing returns base with every nil field taken from extra.
func FillMissing(base, extra models.PartialLeadInfo) models.PartialLeadInfo {
	if base.CompanyName == nil {
		base.CompanyName = extra.CompanyName
	}
	if base.Domain == nil {
		base.Domain = extra.Domain
	}
	if base.Problem == nil {
		base.Problem = extra.Problem
	}
	if base.Budget == nil {
		base.Budget = extra.Budget
	}
	return base
}

func anyMissing(p models.PartialLeadInfo) bool {
	return p.CompanyName == nil || p.Domain == nil || p.Problem == nil || p.Budget == nil
}

const leadExtractionPrompt = `Extract B2B lead information from this exchange between a website visitor and a sales agent.
Only use facts the visitor stated. Use null for anything not stated.

Visitor: %s
Agent: %s

Output a single JSON object with exactly these keys:
{"company_name": string|null, "domain": string|null, "problem": string|null, "budget": string|null}

Output JSON only:`

type modelLead struct {
	CompanyName *string `json:"company_name"`
	Domain      *string `json:"domain"`
	Problem     *string `json:"problem"`
	Budget      *string `json:"budget"`
}

func (e *LeadExtractor) extractWithModel(ctx context.Context, userText, replyText string) (models.PartialLeadInfo, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	resp, err := e.chatModel.Generate(ctx, []*schema.Message{
		schema.UserMessage(fmt.Sprintf(leadExtractionPrompt, userText, replyText)),
	}, e.opts...)
	if err != nil {
		return models.PartialLeadInfo{}, fmt.Errorf("LLM generation failed: %w", err)
	}

	// Parse response
	content := strings.TrimSpace(resp.Content)
	if idx := strings.Index(content, "{"); idx >= 0 {
		content = content[idx:]
	}
	if idx := strings.LastIndex(content, "}"); idx >= 0 {
		content = content[:idx+1]
	}

	var lead modelLead
	if err := json.Unmarshal([]byte(content), &lead); err != nil {
		return models.PartialLeadInfo{}, fmt.Errorf("parse lead JSON: %w", err)
	}
	return models.PartialLeadInfo{
		CompanyName: nonEmpty(lead.CompanyName),
		Domain:      nonEmpty(lead.Domain),
		Problem:     nonEmpty(lead.Problem),
		Budget:      nonEmpty(lead.Budget),
	}, nil
}

// nonEmpty drops blank strings and the literal "null" some models emit.
func nonEmpty(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "unknown") {
		return nil
	}
	return &s
}

func isLower(s string) bool {
	return strings.ToLower(s) == s
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
