package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"payment-reconciliation-engine/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reason classifies a normalization failure.
type Reason string

const (
	ReasonUnsupportedEventType Reason = "unsupported_event_type"
	ReasonMalformedField       Reason = "malformed_field"
)

// Error is a normalization failure for a single verified event. The event
// is dead-lettered; other events are unaffected.
type Error struct {
	Reason Reason
	Field  string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("normalization failed: %s(%s)", e.Reason, e.Field)
	}
	return fmt.Sprintf("normalization failed: %s", e.Reason)
}

func malformed(field string) error {
	return &Error{Reason: ReasonMalformedField, Field: field}
}

// ControlEvent is a non-transaction provider notification (connection
// revoked, consent expired). Routed to its own handler, never stored as a
// Transaction.
type ControlEvent struct {
	Tenant   string
	Provider models.Provider
	Kind     string
	Detail   json.RawMessage
}

// bank provider payload shapes.
type bankEvent struct {
	Type        string          `json:"type"`
	Transaction bankTransaction `json:"transaction"`
	Detail      json.RawMessage `json:"detail"`
}

type bankTransaction struct {
	ID           string          `json:"id"`
	Amount       json.RawMessage `json:"amount"`
	Currency     string          `json:"currency"`
	Description  string          `json:"description"`
	Counterparty struct {
		Name string `json:"name"`
	} `json:"counterparty"`
	Created string `json:"created"`
}

// card processor payload shapes.
type cardEvent struct {
	EventType string          `json:"event_type"`
	Data      cardPayment     `json:"data"`
	Detail    json.RawMessage `json:"detail"`
}

type cardPayment struct {
	PaymentID      string          `json:"payment_id"`
	Amount         json.RawMessage `json:"amount"`
	Currency       string          `json:"currency"`
	Reference      string          `json:"reference"`
	CardholderName string          `json:"cardholder_name"`
	ProcessedAt    string          `json:"processed_at"`
}

// Normalize maps a verified provider payload into the canonical Transaction
// record, or into a ControlEvent for non-transaction notifications. Exactly
// one of the two results is non-nil on success.
func Normalize(tenant string, provider models.Provider, payload []byte, now time.Time) (*models.Transaction, *ControlEvent, error) {
	switch provider {
	case models.ProviderBank:
		return normalizeBank(tenant, payload, now)
	case models.ProviderCardProcessor:
		return normalizeCard(tenant, payload, now)
	default:
		return nil, nil, &Error{Reason: ReasonUnsupportedEventType, Field: string(provider)}
	}
}

func normalizeBank(tenant string, payload []byte, now time.Time) (*models.Transaction, *ControlEvent, error) {
	var ev bankEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, nil, malformed("payload")
	}

	switch ev.Type {
	case "transaction.created", "transaction.settled":
		// fallthrough to transaction handling below
	case "connection.revoked", "consent.expired", "account.closed":
		return nil, &ControlEvent{Tenant: tenant, Provider: models.ProviderBank, Kind: ev.Type, Detail: ev.Detail}, nil
	default:
		return nil, nil, &Error{Reason: ReasonUnsupportedEventType, Field: ev.Type}
	}

	t := ev.Transaction
	if t.ID == "" {
		return nil, nil, malformed("transaction.id")
	}
	amount, err := parseAmount(t.Amount)
	if err != nil {
		return nil, nil, malformed("transaction.amount")
	}
	currency, err := parseCurrency(t.Currency)
	if err != nil {
		return nil, nil, malformed("transaction.currency")
	}
	eventAt, err := parseTimestamp(t.Created)
	if err != nil {
		return nil, nil, malformed("transaction.created")
	}

	return &models.Transaction{
		ID:           uuid.New(),
		TenantID:     tenant,
		Provider:     models.ProviderBank,
		ExternalID:   t.ID,
		AmountMinor:  amount,
		Currency:     currency,
		Reference:    t.Description,
		Counterparty: t.Counterparty.Name,
		EventAt:      eventAt,
		IngestedAt:   now,
		Status:       models.TxUnmatched,
	}, nil, nil
}

func normalizeCard(tenant string, payload []byte, now time.Time) (*models.Transaction, *ControlEvent, error) {
	var ev cardEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, nil, malformed("payload")
	}

	switch ev.EventType {
	case "payment.succeeded", "payment.captured":
		// fallthrough to payment handling below
	case "account.deauthorized", "dispute.created":
		return nil, &ControlEvent{Tenant: tenant, Provider: models.ProviderCardProcessor, Kind: ev.EventType, Detail: ev.Detail}, nil
	default:
		return nil, nil, &Error{Reason: ReasonUnsupportedEventType, Field: ev.EventType}
	}

	p := ev.Data
	if p.PaymentID == "" {
		return nil, nil, malformed("data.payment_id")
	}
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return nil, nil, malformed("data.amount")
	}
	currency, err := parseCurrency(p.Currency)
	if err != nil {
		return nil, nil, malformed("data.currency")
	}
	eventAt, err := parseTimestamp(p.ProcessedAt)
	if err != nil {
		return nil, nil, malformed("data.processed_at")
	}

	return &models.Transaction{
		ID:           uuid.New(),
		TenantID:     tenant,
		Provider:     models.ProviderCardProcessor,
		ExternalID:   p.PaymentID,
		AmountMinor:  amount,
		Currency:     currency,
		Reference:    p.Reference,
		Counterparty: p.CardholderName,
		EventAt:      eventAt,
		IngestedAt:   now,
		Status:       models.TxUnmatched,
	}, nil, nil
}

// parseAmount accepts either a minor-unit integer (10000) or a decimal
// string ("100.00") and returns minor units. Decimal strings are converted
// exactly; anything that does not land on a whole minor unit is rejected.
func parseAmount(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing amount")
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		d, err := decimal.NewFromString(strings.TrimSpace(str))
		if err != nil {
			return 0, err
		}
		minor := d.Shift(2)
		if !minor.IsInteger() {
			return 0, fmt.Errorf("amount %s is not a whole minor unit", str)
		}
		return minor.IntPart(), nil
	}

	var n json.Number
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return 0, err
	}
	i, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("numeric amount must be an integer of minor units: %w", err)
	}
	return i, nil
}

func parseCurrency(c string) (string, error) {
	c = strings.ToUpper(strings.TrimSpace(c))
	if len(c) != 3 {
		return "", fmt.Errorf("invalid currency %q", c)
	}
	return c, nil
}

// timestampFormats are tried in order; providers disagree on this.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	for _, layout := range timestampFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
