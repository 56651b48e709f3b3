package rules

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/record"
)

func testRecord(id string, minor int64, fields map[string]string) *record.Record {
	r := &record.Record{
		ID:            id,
		CompanyID:     "co-1",
		TransactionID: "tx-" + id,
		Partner:       "acme supplies",
		Currency:      "USD",
		MinorUnits:    &minor,
	}
	for k, v := range fields {
		switch k {
		case "partner":
			r.Partner = v
		case "currency":
			r.Currency = v
		case "mcc":
			r.MCC = v
		case "location":
			r.Location = v
		case "description":
			r.RawText = v
		}
	}
	return r
}

func TestParseDefinitionVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Kind
	}{
		{"greater than", `{"gt":["amount",10000]}`, KindGreaterThan},
		{"greater than numeric string", `{"gt":["amount","10000"]}`, KindGreaterThan},
		{"in set", `{"in":["currency",["USD","EUR"]]}`, KindInSet},
		{"regex", `{"regex":["partner","^acme"]}`, KindRegex},
		{"unknown operator", `{"lt":["amount",5]}`, KindInert},
		{"wrong arity", `{"gt":["amount"]}`, KindInert},
		{"non-numeric threshold", `{"gt":["amount",true]}`, KindInert},
		{"empty set", `{"in":["currency",[]]}`, KindInert},
		{"empty pattern", `{"regex":["partner",""]}`, KindInert},
		{"not json", `not json`, KindInert},
		{"empty", ``, KindInert},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := ParseDefinition(json.RawMessage(tt.raw))
			assert.Equal(t, tt.want, def.Kind)
		})
	}
}

func TestGreaterThanTriggersOnMajorUnits(t *testing.T) {
	e := NewEngine(zap.NewNop())
	rules := []Rule{{
		ID:         "r1",
		Name:       "large amount",
		Definition: json.RawMessage(`{"gt":["amount",10000]}`),
	}}

	// 15000.00 in minor units is 1500000; the threshold reads in major units.
	hits := e.Evaluate(context.Background(), rules, []*record.Record{
		testRecord("a", 1500000, nil),
		testRecord("b", 999900, nil),
	})

	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].RecordID)
	assert.Equal(t, "r1", hits[0].RuleID)
	assert.Equal(t, string(KindGreaterThan), hits[0].RuleKind)
	assert.Contains(t, hits[0].Description, "large amount")
}

func TestGreaterThanBoundaryNotTriggered(t *testing.T) {
	e := NewEngine(zap.NewNop())
	rules := []Rule{{ID: "r1", Definition: json.RawMessage(`{"gt":["amount",100]}`)}}

	hits := e.Evaluate(context.Background(), rules, []*record.Record{
		testRecord("exact", 10000, nil),
	})
	assert.Empty(t, hits, "strict comparison must not trigger on equality")
}

func TestGreaterThanAbsentAmountNotTriggered(t *testing.T) {
	e := NewEngine(zap.NewNop())
	rules := []Rule{{ID: "r1", Definition: json.RawMessage(`{"gt":["amount",1]}`)}}

	rec := testRecord("a", 0, nil)
	rec.MinorUnits = nil
	hits := e.Evaluate(context.Background(), rules, []*record.Record{rec})
	assert.Empty(t, hits)
}

func TestFieldSourceSuppliesRollingCounter(t *testing.T) {
	e := NewEngine(zap.NewNop())
	rules := []Rule{{
		ID:         "r-velocity",
		Name:       "velocity",
		Definition: json.RawMessage(`{"gt":["count_in_last_hour",5]}`),
	}}

	counters := StaticFields{
		"busy":  {"count_in_last_hour": 9},
		"quiet": {"count_in_last_hour": 2},
	}
	hits := e.Evaluate(context.Background(), rules, []*record.Record{
		testRecord("busy", 100, nil),
		testRecord("quiet", 100, nil),
		testRecord("uncounted", 100, nil),
	}, counters)

	require.Len(t, hits, 1)
	assert.Equal(t, "busy", hits[0].RecordID)
}

func TestFieldSourceStringFieldInSet(t *testing.T) {
	e := NewEngine(zap.NewNop())
	rules := []Rule{{
		ID:         "r-risk",
		Definition: json.RawMessage(`{"in":["risk_tier",["high","critical"]]}`),
	}}

	tiers := StaticFields{
		"flagged": {"risk_tier": "HIGH"},
		"normal":  {"risk_tier": "low"},
	}
	hits := e.Evaluate(context.Background(), rules, []*record.Record{
		testRecord("flagged", 100, nil),
		testRecord("normal", 100, nil),
	}, tiers)

	require.Len(t, hits, 1)
	assert.Equal(t, "flagged", hits[0].RecordID)
}

func TestFieldSourceDoesNotShadowRecordFields(t *testing.T) {
	e := NewEngine(zap.NewNop())
	rules := []Rule{{ID: "r1", Definition: json.RawMessage(`{"gt":["amount",10000]}`)}}

	// "amount" always resolves from the record itself.
	shadow := StaticFields{"a": {"amount": 99999.0}}
	hits := e.Evaluate(context.Background(), rules, []*record.Record{
		testRecord("a", 500000, nil),
	}, shadow)
	assert.Empty(t, hits)
}

func TestInSetCaseInsensitive(t *testing.T) {
	e := NewEngine(zap.NewNop())
	rules := []Rule{{
		ID:         "r-cur",
		Definition: json.RawMessage(`{"in":["mcc",["7995","7273"]]}`),
	}}

	hits := e.Evaluate(context.Background(), rules, []*record.Record{
		testRecord("gamble", 100, map[string]string{"mcc": "7995"}),
		testRecord("grocery", 100, map[string]string{"mcc": "5411"}),
		testRecord("nomcc", 100, nil),
	})

	require.Len(t, hits, 1)
	assert.Equal(t, "gamble", hits[0].RecordID)
}

func TestRegexCaseInsensitive(t *testing.T) {
	e := NewEngine(zap.NewNop())
	rules := []Rule{{
		ID:         "r-pat",
		Definition: json.RawMessage(`{"regex":["description","wire\\s+transfer"]}`),
	}}

	hits := e.Evaluate(context.Background(), rules, []*record.Record{
		testRecord("a", 100, map[string]string{"description": "International WIRE  Transfer"}),
		testRecord("b", 100, map[string]string{"description": "card payment"}),
	})

	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].RecordID)
}

func TestBadRegexIsolated(t *testing.T) {
	e := NewEngine(zap.NewNop())
	rules := []Rule{
		{ID: "bad", Definition: json.RawMessage(`{"regex":["partner","["]}`)},
		{ID: "good", Definition: json.RawMessage(`{"regex":["partner","acme"]}`)},
	}

	hits := e.Evaluate(context.Background(), rules, []*record.Record{
		testRecord("a", 100, nil),
	})

	require.Len(t, hits, 1)
	assert.Equal(t, "good", hits[0].RuleID)
}

func TestExplicitConfidenceCarried(t *testing.T) {
	e := NewEngine(zap.NewNop())
	rules := []Rule{{
		ID:         "r1",
		Definition: json.RawMessage(`{"gt":["amount",1]}`),
		Confidence: 0.95,
	}}

	hits := e.Evaluate(context.Background(), rules, []*record.Record{
		testRecord("a", 10000, nil),
	})
	require.Len(t, hits, 1)
	assert.InDelta(t, 0.95, hits[0].Confidence, 1e-9)
}

func TestEvaluateMultipleRulesMultipleRecords(t *testing.T) {
	e := NewEngine(zap.NewNop())
	rules := []Rule{
		{ID: "big", Definition: json.RawMessage(`{"gt":["amount",500]}`)},
		{ID: "eur", Definition: json.RawMessage(`{"in":["currency",["EUR"]]}`)},
	}

	hits := e.Evaluate(context.Background(), rules, []*record.Record{
		testRecord("a", 100000, map[string]string{"currency": "EUR"}),
		testRecord("b", 100, nil),
	})

	assert.Len(t, hits, 2)
	ids := map[string]string{}
	for _, h := range hits {
		ids[h.RuleID] = h.RecordID
	}
	assert.Equal(t, "a", ids["big"])
	assert.Equal(t, "a", ids["eur"])
}

func TestCancelledContextStopsEvaluation(t *testing.T) {
	e := NewEngine(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	hits := e.Evaluate(ctx, []Rule{
		{ID: "r1", Definition: json.RawMessage(`{"gt":["amount",1]}`)},
	}, []*record.Record{testRecord("a", 10000, nil)})
	assert.Empty(t, hits)
}
