package rules

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/record"
)

// Triggered reports one rule firing against one record.
type Triggered struct {
	RecordID    string
	RuleID      string
	RuleKind    string
	Confidence  float64
	Description string
}

// FieldSource supplies per-record evaluation fields the record itself does
// not carry, such as rolling counters maintained by an external
// collaborator. Field names are matched case-insensitively.
type FieldSource interface {
	Fields(ctx context.Context, recordID string) map[string]any
}

// StaticFields is a FieldSource backed by a fixed map keyed by record ID.
type StaticFields map[string]map[string]any

// Fields returns the fields registered for recordID.
func (s StaticFields) Fields(ctx context.Context, recordID string) map[string]any {
	return s[recordID]
}

// Engine evaluates rule sets against records. A single Engine is safe for
// concurrent use; compiled regexes are cached across evaluations.
type Engine struct {
	logger *zap.Logger

	mu       sync.RWMutex
	regexes  map[string]*regexp.Regexp
	badRegex map[string]struct{}
}

// NewEngine creates a rule engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		logger:   logger.Named("rules"),
		regexes:  make(map[string]*regexp.Regexp),
		badRegex: make(map[string]struct{}),
	}
}

// Evaluate runs every rule against every record and returns the triggered
// pairs. Optional sources contribute extra fields per record; record fields
// win on name collision. A failure inside one rule (bad pattern, panic in
// evaluation) is logged and isolated; remaining rules still run.
func (e *Engine) Evaluate(ctx context.Context, rules []Rule, records []*record.Record, sources ...FieldSource) []Triggered {
	var extras map[string]map[string]any
	if len(sources) > 0 {
		extras = make(map[string]map[string]any, len(records))
		for _, rec := range records {
			merged := make(map[string]any)
			for _, src := range sources {
				for k, v := range src.Fields(ctx, rec.ID) {
					merged[strings.ToLower(k)] = v
				}
			}
			extras[rec.ID] = merged
		}
	}

	var out []Triggered
	for _, rl := range rules {
		if ctx.Err() != nil {
			return out
		}
		def := ParseDefinition(rl.Definition)
		if def.Kind == KindInert {
			e.logger.Debug("skipping inert rule", zap.String("rule_id", rl.ID))
			continue
		}
		if rl.Confidence > 0 {
			def.Confidence = rl.Confidence
		}
		for _, rec := range records {
			hit := e.evaluateOne(rl, def, rec, extras[rec.ID])
			if hit != nil {
				out = append(out, *hit)
			}
		}
	}
	return out
}

// evaluateOne applies a single rule to a single record, recovering from any
// panic so one pathological rule cannot abort the batch.
func (e *Engine) evaluateOne(rl Rule, def Definition, rec *record.Record, extra map[string]any) (hit *Triggered) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("rule evaluation panicked",
				zap.String("rule_id", rl.ID),
				zap.String("record_id", rec.ID),
				zap.Any("panic", r))
			hit = nil
		}
	}()

	triggered := false
	switch def.Kind {
	case KindGreaterThan:
		v, ok := numericField(rec, def.Field, extra)
		triggered = ok && v > def.Threshold
	case KindInSet:
		v, ok := stringField(rec, def.Field, extra)
		if ok {
			for _, member := range def.Set {
				if strings.EqualFold(v, member) {
					triggered = true
					break
				}
			}
		}
	case KindRegex:
		v, ok := stringField(rec, def.Field, extra)
		if ok {
			re := e.compiled(rl.ID, def.Pattern)
			triggered = re != nil && re.MatchString(v)
		}
	}
	if !triggered {
		return nil
	}

	name := rl.Name
	if name == "" {
		name = rl.ID
	}
	return &Triggered{
		RecordID:    rec.ID,
		RuleID:      rl.ID,
		RuleKind:    string(def.Kind),
		Confidence:  def.Confidence,
		Description: fmt.Sprintf("rule %q triggered: %s", name, def.Describe()),
	}
}

// compiled returns the cached case-insensitive regex for pattern, or nil if
// the pattern does not compile. Bad patterns are remembered so the compile
// failure is logged once per pattern.
func (e *Engine) compiled(ruleID, pattern string) *regexp.Regexp {
	e.mu.RLock()
	re, ok := e.regexes[pattern]
	_, bad := e.badRegex[pattern]
	e.mu.RUnlock()
	if ok {
		return re
	}
	if bad {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if re, ok := e.regexes[pattern]; ok {
		return re
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		e.badRegex[pattern] = struct{}{}
		e.logger.Warn("rule pattern does not compile",
			zap.String("rule_id", ruleID),
			zap.String("pattern", pattern),
			zap.Error(err))
		return nil
	}
	e.regexes[pattern] = re
	return re
}

// numericField resolves a field to a number, consulting source-supplied
// extras for names the record does not carry. Absent or non-numeric fields
// report false, which never triggers a rule.
func numericField(rec *record.Record, field string, extra map[string]any) (float64, bool) {
	switch strings.ToLower(field) {
	case "amount":
		if rec.MinorUnits == nil {
			return 0, false
		}
		return float64(*rec.MinorUnits) / 100, true
	case "amount_minor", "minor_units":
		if rec.MinorUnits == nil {
			return 0, false
		}
		return float64(*rec.MinorUnits), true
	default:
		if v, ok := extraNumeric(extra, field); ok {
			return v, true
		}
		s, ok := stringField(rec, field, extra)
		if !ok {
			return 0, false
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}
}

// extraNumeric coerces a source-supplied value to float64.
func extraNumeric(extra map[string]any, field string) (float64, bool) {
	v, ok := extra[strings.ToLower(field)]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// stringField resolves a field to its string value, consulting
// source-supplied extras for names the record does not carry. Empty values
// are treated as absent.
func stringField(rec *record.Record, field string, extra map[string]any) (string, bool) {
	var v string
	switch strings.ToLower(field) {
	case "partner":
		v = rec.Partner
	case "display_partner":
		v = rec.DisplayPartner
	case "currency":
		v = rec.Currency
	case "transaction_id", "txid":
		v = rec.TransactionID
	case "description":
		v = rec.RawText
	case "mcc":
		v = rec.MCC
	case "location":
		v = rec.Location
	case "device":
		v = rec.Device
	case "channel":
		v = rec.Channel
	case "amount":
		if rec.MinorUnits == nil {
			return "", false
		}
		v = strconv.FormatFloat(float64(*rec.MinorUnits)/100, 'f', -1, 64)
	default:
		ev, ok := extra[strings.ToLower(field)]
		if !ok {
			return "", false
		}
		switch t := ev.(type) {
		case string:
			v = t
		case float64:
			v = strconv.FormatFloat(t, 'f', -1, 64)
		case int:
			v = strconv.Itoa(t)
		case int64:
			v = strconv.FormatInt(t, 10)
		default:
			return "", false
		}
	}
	if v == "" {
		return "", false
	}
	return v, true
}
