// Package rules evaluates a company's declarative business rules against a
// record's field context.
//
// Rule definitions arrive as JSON objects in one of three shapes:
//
//	{"gt":    ["amount", 10000]}          numeric comparison (strictly greater)
//	{"in":    ["currency", ["USD","EUR"]]} set membership
//	{"regex": ["partner", "^acme"]}        case-insensitive pattern match
//
// Unknown or malformed shapes parse into an inert definition that never
// triggers and never errors: one bad rule must not take down the rest of the
// set.
package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind tags a rule definition variant.
type Kind string

const (
	// KindGreaterThan triggers when a numeric field strictly exceeds a
	// threshold.
	KindGreaterThan Kind = "greater-than"

	// KindInSet triggers when a field value is a member of an enumerated
	// list.
	KindInSet Kind = "in-set"

	// KindRegex triggers when a field value matches a case-insensitive
	// regular expression.
	KindRegex Kind = "regex"

	// KindInert marks an unknown or malformed definition. Inert rules never
	// trigger.
	KindInert Kind = "inert"
)

// Definition is the tagged-variant rule definition. Exactly the fields for
// the tagged kind are meaningful.
type Definition struct {
	Kind      Kind
	Field     string
	Threshold float64  // greater-than
	Set       []string // in-set
	Pattern   string   // regex

	// Confidence overrides the aggregator's per-kind default when positive.
	Confidence float64
}

// Rule is a company-scoped rule. Lifecycle (creation, editing) is external;
// rules are read-only inputs here.
type Rule struct {
	ID         string          `json:"id"`
	CompanyID  string          `json:"company_id"`
	Name       string          `json:"name"`
	Definition json.RawMessage `json:"definition"`
	Confidence float64         `json:"confidence,omitempty"`
}

// rawDefinition mirrors the JSON wire shape for parsing.
type rawDefinition struct {
	GT    []json.RawMessage `json:"gt"`
	In    []json.RawMessage `json:"in"`
	Regex []json.RawMessage `json:"regex"`
}

// ParseDefinition parses a JSON rule definition into its tagged variant.
// Malformed input yields an inert definition, never an error.
func ParseDefinition(raw json.RawMessage) Definition {
	if len(raw) == 0 {
		return Definition{Kind: KindInert}
	}

	var def rawDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return Definition{Kind: KindInert}
	}

	switch {
	case len(def.GT) == 2:
		field, okField := parseString(def.GT[0])
		threshold, okNum := parseNumber(def.GT[1])
		if !okField || !okNum {
			return Definition{Kind: KindInert}
		}
		return Definition{Kind: KindGreaterThan, Field: field, Threshold: threshold}

	case len(def.In) == 2:
		field, okField := parseString(def.In[0])
		var set []string
		if err := json.Unmarshal(def.In[1], &set); err != nil || !okField || len(set) == 0 {
			return Definition{Kind: KindInert}
		}
		return Definition{Kind: KindInSet, Field: field, Set: set}

	case len(def.Regex) == 2:
		field, okField := parseString(def.Regex[0])
		pattern, okPat := parseString(def.Regex[1])
		if !okField || !okPat || pattern == "" {
			return Definition{Kind: KindInert}
		}
		return Definition{Kind: KindRegex, Field: field, Pattern: pattern}

	default:
		return Definition{Kind: KindInert}
	}
}

// Describe renders a human-readable summary of the definition for finding
// descriptions.
func (d Definition) Describe() string {
	switch d.Kind {
	case KindGreaterThan:
		return fmt.Sprintf("%s > %v", d.Field, d.Threshold)
	case KindInSet:
		return fmt.Sprintf("%s in [%s]", d.Field, strings.Join(d.Set, ", "))
	case KindRegex:
		return fmt.Sprintf("%s matches /%s/i", d.Field, d.Pattern)
	default:
		return "inert rule"
	}
}

func parseString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// parseNumber accepts JSON numbers and numeric strings.
func parseNumber(raw json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
