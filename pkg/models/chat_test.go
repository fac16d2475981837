package models

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func strp(s string) *string { return &s }

func TestLeadInfo_MissingAndCompletion(t *testing.T) {
	var empty LeadInfo
	if got := empty.Missing(); !reflect.DeepEqual(got, LeadFields) {
		t.Fatalf("Missing() = %v, want %v", got, LeadFields)
	}
	if got := empty.CompletionPercent(); got != 0 {
		t.Fatalf("CompletionPercent() = %d, want 0", got)
	}

	half := LeadInfo{CompanyName: strp("Acme"), Budget: strp("$5k")}
	if got := half.Missing(); !reflect.DeepEqual(got, []string{FieldDomain, FieldProblem}) {
		t.Fatalf("Missing() = %v", got)
	}
	if got := half.CompletionPercent(); got != 50 {
		t.Fatalf("CompletionPercent() = %d, want 50", got)
	}
}

func TestAgentResponse_OmitsAbsentParts(t *testing.T) {
	b, err := json.Marshal(AgentResponse{Type: ResponseTypeAgent, SessionID: "abc", Text: "hi"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, absent := range []string{`"audio"`, `"media"`, `"transcript"`} {
		if strings.Contains(s, absent) {
			t.Fatalf("response %s contains %s", s, absent)
		}
	}
	if !strings.Contains(s, `"lead_info":{"company_name":null`) {
		t.Fatalf("response %s lacks null lead fields", s)
	}
}

func TestMediaType_Valid(t *testing.T) {
	for _, mt := range []MediaType{MediaDemo, MediaFeatures, MediaPricing, MediaTestimonials} {
		if !mt.Valid() {
			t.Fatalf("%q reported invalid", mt)
		}
	}
	if MediaType("video").Valid() {
		t.Fatalf("unknown media type reported valid")
	}
}
