// Package router turns a typed natural-language request into a flat plan
// of candidate tool invocations, using a rule-first regex matcher, then
// owns writing validated candidates to the queue and (in waiting modes)
// polling for their receipts.
package router

import (
	"regexp"
	"strconv"
)

// Rule is one pattern-match planner rule. For each incoming message the
// Planner iterates Rules in order and returns the first whose Patterns
// match and whose Extract output passes the named tool's input_schema.
type Rule struct {
	// Name labels the rule for diagnostics; it is not the tool name.
	Name string
	// Patterns are tried in order; the first match wins and is handed to
	// Extract. A rule with multiple patterns lets near-duplicate phrasings
	// share one extraction function.
	Patterns []*regexp.Regexp
	// Tool is the registry tool name this rule plans a call for.
	Tool string
	// Extract builds the candidate input payload from the regex match,
	// the raw message, and the caller-supplied context.
	Extract func(match []string, message string, ctx map[string]any) map[string]any
	// Guard, if non-empty, is a CEL expression evaluated against
	// {message, context}; the rule is skipped unless it evaluates true.
	Guard string
	// Confidence is copied onto the planned call returned to the caller;
	// it does not affect which rule fires — rule order does that.
	Confidence float64
}

// DefaultRules is GEM's fixed planner table. New intents are added here,
// never inferred at runtime — the whole point of a rule-first planner is
// that its behavior is enumerable and testable.
var DefaultRules = []Rule{
	{
		Name:       "create_lead",
		Tool:       "leads.create",
		Confidence: 0.9,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)new lead[:\s]+(?P<name>[^,]+),\s*(?P<phone>[0-9+][0-9 ]{6,14}),\s*(?P<suburb>[^,]+)(?:,\s*(?P<source>\w+))?`),
		},
		Extract: func(m []string, message string, ctx map[string]any) map[string]any {
			source := "web"
			if len(m) > 4 && m[4] != "" {
				source = m[4]
			}
			return map[string]any{
				"name":   trimSpace(m[1]),
				"phone":  trimSpace(m[2]),
				"suburb": trimSpace(m[3]),
				"source": source,
			}
		},
	},
	{
		Name:       "schedule_inspection",
		Tool:       "inspections.schedule",
		Confidence: 0.85,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)schedule (?:an? )?inspection.*?(?P<when>\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:Z|[+-]\d{2}:\d{2}))`),
		},
		Extract: func(m []string, message string, ctx map[string]any) map[string]any {
			return map[string]any{"scheduled_for": m[1]}
		},
	},
	{
		Name:       "create_quote",
		Tool:       "quotes.create",
		Confidence: 0.8,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)quote.*?\$?(?P<dollars>\d+(?:\.\d{1,2})?)`),
		},
		Extract: func(m []string, message string, ctx map[string]any) map[string]any {
			cents := dollarsToCents(m[1])
			return map[string]any{"amount_cents": cents}
		},
	},
	{
		Name:       "send_quote",
		Tool:       "quotes.send",
		Confidence: 0.8,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)send (?:the )?quote`),
		},
		Extract: func(m []string, message string, ctx map[string]any) map[string]any {
			return map[string]any{}
		},
	},
	{
		Name:       "create_job",
		Tool:       "jobs.create",
		Confidence: 0.75,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(?:book|schedule) (?:the )?job.*?(?P<when>\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:Z|[+-]\d{2}:\d{2}))`),
		},
		Extract: func(m []string, message string, ctx map[string]any) map[string]any {
			return map[string]any{"scheduled_for": m[1]}
		},
	},
	{
		Name:       "update_job_status",
		Tool:       "jobs.update_status",
		Confidence: 0.75,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)mark (?:the )?job (?:as )?(?P<stage>scheduled|in_progress|completed|cancelled)`),
		},
		Extract: func(m []string, message string, ctx map[string]any) map[string]any {
			return map[string]any{"stage": m[1]}
		},
	},
	{
		Name:       "create_invoice",
		Tool:       "invoices.create",
		Confidence: 0.7,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)invoice.*?\$?(?P<dollars>\d+(?:\.\d{1,2})?)`),
		},
		Extract: func(m []string, message string, ctx map[string]any) map[string]any {
			return map[string]any{"amount_cents": dollarsToCents(m[1])}
		},
	},
	{
		Name:       "mark_invoice_paid",
		Tool:       "invoices.mark_paid",
		Confidence: 0.7,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)invoice.*?paid.*?\$?(?P<dollars>\d+(?:\.\d{1,2})?)`),
		},
		Extract: func(m []string, message string, ctx map[string]any) map[string]any {
			return map[string]any{"paid_amount_cents": dollarsToCents(m[1])}
		},
	},
	{
		Name:       "send_sms",
		Tool:       "comms.send_sms",
		Confidence: 0.6,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)text (?P<to>[0-9+][0-9 ]{6,14})[:\s]+(?P<body>.+)`),
		},
		Extract: func(m []string, message string, ctx map[string]any) map[string]any {
			return map[string]any{"to": trimSpace(m[1]), "body": trimSpace(m[2])}
		},
	},
	{
		Name:       "health_check",
		Tool:       "os.health_check",
		Confidence: 0.95,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)^\s*(?:health\s*check|are you (?:up|alive))\s*\??\s*$`),
		},
		Extract: func(m []string, message string, ctx map[string]any) map[string]any {
			return map[string]any{}
		},
	},
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' }

// dollarsToCents converts a decimal dollar string like "1250" or "1250.50"
// into integer cents, matching the registry's amount_cents fields.
func dollarsToCents(dollars string) int {
	f, err := strconv.ParseFloat(dollars, 64)
	if err != nil {
		return 0
	}
	return int(f*100 + 0.5)
}

// contextFields names, per tool, which input fields the planner is allowed
// to backfill from request context when extraction left them missing —
// mirrors §4.3's "inject lead_id, job_id, quote_id etc." rule, scoped to
// fields the tool's own schema actually declares.
var contextFields = map[string][]string{
	"inspections.schedule": {"lead_id"},
	"inspections.complete": {"inspection_id"},
	"quotes.create":        {"lead_id"},
	"quotes.send":          {"quote_id"},
	"jobs.create":          {"quote_id"},
	"jobs.update_status":   {"job_id"},
	"invoices.create":      {"job_id"},
	"invoices.mark_paid":   {"invoice_id"},
	"leads.update":         {"lead_id"},
}

func contextFieldNames(tool string) []string {
	return contextFields[tool]
}
