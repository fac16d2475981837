package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func str(p *string) string {
	if p == nil {
		return "<nil>"
	}
	return *p
}

func TestLeadExtractor_Heuristic(t *testing.T) {
	e := NewLeadExtractor(nil, 0)

	got := e.Heuristic("Our company is Acme, budget is $5k")
	if str(got.CompanyName) != "Acme" {
		t.Fatalf("CompanyName = %q, want %q", str(got.CompanyName), "Acme")
	}
	if got.Budget == nil || !strings.Contains(*got.Budget, "5k") {
		t.Fatalf("Budget = %q, want it to contain 5k", str(got.Budget))
	}
	if got.Domain != nil || got.Problem != nil || got.Correction {
		t.Fatalf("unexpected fields: %+v", got)
	}
}

func TestLeadExtractor_HeuristicFields(t *testing.T) {
	e := NewLeadExtractor(nil, 0)

	cases := []struct {
		name    string
		text    string
		company string
		domain  string
		problem string
		budget  string
	}{
		{name: "work at", text: "I work at Globex Corporation.", company: "Globex Corporation", domain: "<nil>", problem: "<nil>", budget: "<nil>"},
		{name: "lowercase name", text: "my company is called initech", company: "Initech", domain: "<nil>", problem: "<nil>", budget: "<nil>"},
		{name: "stops at sentence", text: "I'm from Hooli Inc. We build software.", company: "Hooli Inc", domain: "SaaS", problem: "<nil>", budget: "<nil>"},
		{name: "not a name", text: "We are a fintech startup", company: "<nil>", domain: "Fintech", problem: "<nil>", budget: "<nil>"},
		{
			name:    "problem sentence",
			text:    "We sell insurance. Our biggest problem is slow lead follow-up! Anyway.",
			company: "<nil>", domain: "Fintech", problem: "Our biggest problem is slow lead follow-up", budget: "<nil>",
		},
		{name: "budget range", text: "somewhere between $10k and $20k", company: "<nil>", domain: "<nil>", problem: "<nil>", budget: "between $10k and $20k"},
		{name: "budget per month", text: "We pay about $499 per month today", company: "<nil>", domain: "<nil>", problem: "<nil>", budget: "about $499 per month"},
		{name: "budget words", text: "we could spend around 50k on this", company: "<nil>", domain: "<nil>", problem: "<nil>", budget: "around 50k"},
		{name: "budget phrase", text: "honestly we have a tight budget", company: "<nil>", domain: "<nil>", problem: "<nil>", budget: "under 10k"},
		{name: "bare number", text: "we have 200 employees", company: "<nil>", domain: "<nil>", problem: "<nil>", budget: "<nil>"},
		{name: "work for lower case", text: "Actually, I work for several teams there", company: "<nil>", domain: "<nil>", problem: "<nil>", budget: "<nil>"},
		{name: "self employed", text: "Actually, I work for myself", company: "<nil>", domain: "<nil>", problem: "<nil>", budget: "<nil>"},
		{name: "other company mentioned", text: "we also work with Acme's competitor", company: "<nil>", domain: "<nil>", problem: "<nil>", budget: "<nil>"},
		{name: "from a city", text: "I'm from London", company: "<nil>", domain: "<nil>", problem: "<nil>", budget: "<nil>"},
		{name: "from a company", text: "I'm from Globex", company: "Globex", domain: "<nil>", problem: "<nil>", budget: "<nil>"},
		{name: "negated problem", text: "No problem, our company is Acme", company: "Acme", domain: "<nil>", problem: "<nil>", budget: "<nil>"},
		{name: "not an issue", text: "Speed is not an issue for us", company: "<nil>", domain: "<nil>", problem: "<nil>", budget: "<nil>"},
		{name: "negation then pain", text: "No problem, but onboarding is too slow", company: "<nil>", domain: "<nil>", problem: "No problem, but onboarding is too slow", budget: "<nil>"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := e.Heuristic(tc.text)
			if str(got.CompanyName) != tc.company {
				t.Errorf("CompanyName = %q, want %q", str(got.CompanyName), tc.company)
			}
			if str(got.Domain) != tc.domain {
				t.Errorf("Domain = %q, want %q", str(got.Domain), tc.domain)
			}
			if str(got.Problem) != tc.problem {
				t.Errorf("Problem = %q, want %q", str(got.Problem), tc.problem)
			}
			if str(got.Budget) != tc.budget {
				t.Errorf("Budget = %q, want %q", str(got.Budget), tc.budget)
			}
		})
	}
}

func TestLeadExtractor_Correction(t *testing.T) {
	e := NewLeadExtractor(nil, 0)

	for _, text := range []string{
		"Actually, our company is called Globex",
		"Sorry, it's Globex",
		"I meant Globex",
		"Let me correct that, the budget is $20k",
		"It's not Acme but Globex",
	} {
		if got := e.Heuristic(text); !got.Correction {
			t.Errorf("Heuristic(%q).Correction = false, want true", text)
		}
	}
	for _, text := range []string{
		"It's not Acme but Globex",
		"Actually it's Globex",
		"Sorry, actually it's Globex",
		"Sorry, it is Globex",
		"I meant Globex",
		"Our company is Acme. Sorry, I meant Globex",
	} {
		got := e.Heuristic(text)
		if str(got.CompanyName) != "Globex" || !got.Correction {
			t.Errorf("Heuristic(%q) = company %q correction %v, want Globex true", text, str(got.CompanyName), got.Correction)
		}
	}
	if e.Heuristic("Our company is Acme").Correction {
		t.Fatalf("plain statement flagged as correction")
	}
}

func TestLeadExtractor_ModelFillsOnlyMissing(t *testing.T) {
	fake := &fakeChatModel{reply: "Sure:\n" + `{"company_name": "Wrong Co", "domain": "Healthcare", "problem": null, "budget": "  "}`}
	e := NewLeadExtractor(fake, time.Second)

	got := e.Extract(context.Background(), "Our company is Acme", "Nice to meet you!")
	if str(got.CompanyName) != "Acme" {
		t.Fatalf("CompanyName = %q, heuristic value must win", str(got.CompanyName))
	}
	if str(got.Domain) != "Healthcare" {
		t.Fatalf("Domain = %q, want Healthcare from the model", str(got.Domain))
	}
	if got.Problem != nil || got.Budget != nil {
		t.Fatalf("null and blank model values must stay unset: %+v", got)
	}
	if fake.calls() != 1 {
		t.Fatalf("model calls = %d, want 1", fake.calls())
	}
}

func TestLeadExtractor_ModelFailureIgnored(t *testing.T) {
	for name, fake := range map[string]*fakeChatModel{
		"error":    {err: errors.New("boom")},
		"bad json": {reply: "I could not find anything"},
	} {
		t.Run(name, func(t *testing.T) {
			e := NewLeadExtractor(fake, time.Second)
			got := e.Extract(context.Background(), "budget is $5k", "Thanks")
			if str(got.Budget) != "$5k" {
				t.Fatalf("Budget = %q, want $5k", str(got.Budget))
			}
			if got.CompanyName != nil || got.Domain != nil {
				t.Fatalf("unexpected fields: %+v", got)
			}
		})
	}
}

func TestLeadExtractor_EmptyUtterance(t *testing.T) {
	e := NewLeadExtractor(nil, 0)
	if got := e.Heuristic("   "); !got.Empty() || got.Correction {
		t.Fatalf("Heuristic(blank) = %+v, want empty", got)
	}
}
