package record

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrValidation indicates a malformed required input. Fatal for the single
// record, never for the batch.
var ErrValidation = errors.New("record validation failed")

// timestampLayouts are tried in order when parsing source timestamps.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalizer canonicalizes raw records into comparable fields.
type Normalizer struct {
	defaultCurrency string
	logger          *zap.Logger
}

// NewNormalizer creates a normalizer. Currency defaults to defaultCurrency
// when a record carries none.
func NewNormalizer(defaultCurrency string, logger *zap.Logger) *Normalizer {
	return &Normalizer{
		defaultCurrency: strings.ToUpper(strings.TrimSpace(defaultCurrency)),
		logger:          logger.Named("normalizer"),
	}
}

// recordNamespace seeds deterministic record IDs so replaying a batch under
// at-least-once delivery reproduces the same IDs and finding upserts land on
// the same keys.
var recordNamespace = uuid.MustParse("8c3f1a6e-42d7-4b19-9f05-2d8a71c44b1d")

// Normalize converts a raw record into a normalized Record. seq is the
// record's position within its batch; it disambiguates repeated transaction
// IDs (which are themselves a duplicate signal) in the derived record ID.
//
// Missing transaction or company IDs fail with ErrValidation. Optional fields
// never fail: an unparseable amount yields a nil MinorUnits (unknown, not
// zero) and an unparseable timestamp yields a nil Timestamp.
func (n *Normalizer) Normalize(raw Raw, batchID string, seq int) (*Record, error) {
	txID := strings.TrimSpace(raw.TransactionID)
	if txID == "" {
		return nil, fmt.Errorf("%w: missing transaction id", ErrValidation)
	}
	companyID := strings.TrimSpace(raw.CompanyID)
	if companyID == "" {
		return nil, fmt.Errorf("%w: missing company id (transaction %s)", ErrValidation, txID)
	}

	display := strings.TrimSpace(raw.Partner)

	currency := strings.ToUpper(strings.TrimSpace(raw.Currency))
	if currency == "" {
		currency = n.defaultCurrency
	}

	rec := &Record{
		ID:             deriveRecordID(companyID, batchID, txID, seq),
		CompanyID:      companyID,
		BatchID:        batchID,
		TransactionID:  txID,
		Partner:        strings.ToLower(display),
		DisplayPartner: display,
		MinorUnits:     n.parseAmount(raw.Amount, txID),
		Currency:       currency,
		Timestamp:      n.parseTimestamp(raw.Timestamp, txID),
		MCC:            strings.TrimSpace(raw.MCC),
		Location:       strings.TrimSpace(raw.Location),
		Device:         strings.TrimSpace(raw.Device),
		Channel:        strings.TrimSpace(raw.Channel),
		RawText:        strings.TrimSpace(raw.Description),
		Status:         StatusNormalized,
	}

	return rec, nil
}

func deriveRecordID(companyID, batchID, txID string, seq int) string {
	name := fmt.Sprintf("%s|%s|%s|%d", companyID, batchID, txID, seq)
	return uuid.NewSHA1(recordNamespace, []byte(name)).String()
}

// parseAmount converts a decimal amount string to integer minor units,
// rounding (not truncating) to avoid floating-point drift. Returns nil for
// absent or unparseable amounts.
func (n *Normalizer) parseAmount(amount, txID string) *int64 {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil
	}

	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		n.logger.Debug("unparseable amount, treating as unknown",
			zap.String("transaction_id", txID),
			zap.String("amount", trimmed))
		return nil
	}

	minor := d.Shift(2).Round(0).IntPart()
	return &minor
}

// parseTimestamp parses a source timestamp, returning nil when absent or
// unparseable.
func (n *Normalizer) parseTimestamp(value, txID string) *time.Time {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}

	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, trimmed); err == nil {
			utc := ts.UTC()
			return &utc
		}
	}

	n.logger.Debug("unparseable timestamp, treating as unknown",
		zap.String("transaction_id", txID),
		zap.String("timestamp", trimmed))
	return nil
}
