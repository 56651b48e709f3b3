package storage

import (
	"context"
	"sync"
	"time"

	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/record"
	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/threat"
)

// MemoryStore is an in-memory Store implementation used in tests and the
// CLI's self-contained mode.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string][]*record.Record // companyID -> records
	findings map[string]threat.Finding   // dedup key -> finding
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string][]*record.Record),
		findings: make(map[string]threat.Finding),
	}
}

// SaveRecords persists records for future duplicate lookups, replacing any
// record already stored under the same ID.
func (s *MemoryStore) SaveRecords(ctx context.Context, records []*record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		existing := s.records[r.CompanyID]
		replaced := false
		for i, e := range existing {
			if e.ID == r.ID {
				existing[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			s.records[r.CompanyID] = append(existing, r)
		}
	}
	return nil
}

// FindByTransactionID returns persisted company records sharing the
// transaction id.
func (s *MemoryStore) FindByTransactionID(ctx context.Context, companyID, txID string) ([]*record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*record.Record
	for _, r := range s.records[companyID] {
		if r.TransactionID == txID {
			out = append(out, r)
		}
	}
	return out, nil
}

// FindByCanonicalKey returns persisted candidate duplicates: same partner and
// currency, amount within tolerance, timestamp within window of the key's day
// or missing on either side.
func (s *MemoryStore) FindByCanonicalKey(ctx context.Context, companyID string, key record.CanonicalKey, amountTolerance int64, window time.Duration) ([]*record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var probeDay *time.Time
	if key.DayBucket != "" {
		if day, err := time.Parse("2006-01-02", key.DayBucket); err == nil {
			probeDay = &day
		}
	}

	var out []*record.Record
	for _, r := range s.records[companyID] {
		if r.Partner != key.Partner || r.Currency != key.Currency {
			continue
		}
		if r.MinorUnits == nil {
			continue
		}
		delta := *r.MinorUnits - key.MinorUnits
		if delta < 0 {
			delta = -delta
		}
		if delta > amountTolerance {
			continue
		}
		// A missing timestamp on either side cannot disprove closeness.
		if probeDay != nil && r.Timestamp != nil {
			gap := r.Timestamp.Sub(*probeDay)
			if gap < 0 {
				gap = -gap
			}
			// Widen by a day since the probe carries day granularity.
			if gap > window+24*time.Hour {
				continue
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// SaveThreats upserts findings keyed by (record id, type, evidence key).
func (s *MemoryStore) SaveThreats(ctx context.Context, findings []threat.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range findings {
		s.findings[f.DedupKey()] = f
	}
	return nil
}

// Findings returns all persisted findings. Test helper.
func (s *MemoryStore) Findings() []threat.Finding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]threat.Finding, 0, len(s.findings))
	for _, f := range s.findings {
		out = append(out, f)
	}
	return out
}
