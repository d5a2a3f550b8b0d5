package matching

import (
	"testing"
	"time"

	"payment-reconciliation-engine/internal/billing"
	"payment-reconciliation-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var eventDate = time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

func gbpTransaction(reference string, amountMinor int64) *models.Transaction {
	return &models.Transaction{
		TenantID:    "tenant-a",
		AmountMinor: amountMinor,
		Currency:    "GBP",
		Reference:   reference,
		EventAt:     eventDate,
	}
}

func invoice(id, number, client string, amountMinor int64, currency string, due time.Time) billing.Invoice {
	return billing.Invoice{
		ID:             id,
		TenantID:       "tenant-a",
		Number:         number,
		ClientName:     client,
		AmountDueMinor: amountMinor,
		Currency:       currency,
		DueDate:        due,
		Status:         "open",
	}
}

func TestScoreExactReferenceAndAmount(t *testing.T) {
	// transaction 10000 GBP "INV-1042 payment" against the matching invoice
	tx := gbpTransaction("INV-1042 payment", 10000)
	candidates := []billing.Invoice{
		invoice("7", "INV-1042", "Acme", 10000, "GBP", eventDate.AddDate(0, 0, 2)),
	}

	proposals := Score(tx, candidates, Config{})
	require.Len(t, proposals, 1)

	p := proposals[0]
	assert.GreaterOrEqual(t, p.Confidence, 0.80)
	assert.LessOrEqual(t, p.Confidence, 1.0)
	assert.Contains(t, p.Rationale, SignalExactReference)
	assert.Contains(t, p.Rationale, SignalAmountMatch)
}

func TestScoreCurrencyMismatchExcludesCandidate(t *testing.T) {
	tx := &models.Transaction{
		TenantID:    "tenant-a",
		AmountMinor: 10000,
		Currency:    "EUR",
		Reference:   "INV-1042 payment",
		EventAt:     eventDate,
	}
	candidates := []billing.Invoice{
		invoice("7", "INV-1042", "Acme", 10000, "GBP", eventDate),
	}

	proposals := Score(tx, candidates, Config{})
	assert.Empty(t, proposals)
}

func TestScoreDeterministic(t *testing.T) {
	tx := gbpTransaction("payment ref INV-20 acme", 5000)
	candidates := []billing.Invoice{
		invoice("3", "INV-20", "Acme Ltd", 5000, "GBP", eventDate.AddDate(0, 0, 1)),
		invoice("9", "INV-21", "Acme Ltd", 5000, "GBP", eventDate.AddDate(0, 0, 1)),
		invoice("5", "INV-22", "Other Co", 5000, "GBP", eventDate.AddDate(0, 0, 20)),
	}

	first := Score(tx, candidates, Config{})
	second := Score(tx, candidates, Config{})
	assert.Equal(t, first, second)
}

func TestScoreTieBreak(t *testing.T) {
	tx := gbpTransaction("no useful reference", 5000)

	// identical signals for all three: amount only
	early := invoice("b", "INV-1", "X", 5000, "GBP", eventDate.AddDate(0, 0, 10))
	lateLowID := invoice("a", "INV-2", "Y", 5000, "GBP", eventDate.AddDate(0, 0, 20))
	lateHighID := invoice("c", "INV-3", "Z", 5000, "GBP", eventDate.AddDate(0, 0, 20))

	proposals := Score(tx, []billing.Invoice{lateHighID, early, lateLowID}, Config{})
	require.Len(t, proposals, 3)

	assert.Equal(t, "b", proposals[0].InvoiceID) // earliest due date first
	assert.Equal(t, "a", proposals[1].InvoiceID) // then lowest invoice id
	assert.Equal(t, "c", proposals[2].InvoiceID)
}

func TestScoreConfidenceFloor(t *testing.T) {
	tx := gbpTransaction("unrelated text", 12345)

	// date proximity alone: 0.05, far below any reasonable floor
	weak := invoice("1", "INV-90", "Nobody", 99999, "GBP", eventDate)

	proposals := Score(tx, []billing.Invoice{weak}, Config{ConfidenceFloor: 0.30})
	assert.Empty(t, proposals)

	// amount + date: 0.35, just above the default floor
	ok := invoice("2", "INV-91", "Nobody", 12345, "GBP", eventDate)
	proposals = Score(tx, []billing.Invoice{ok}, Config{ConfidenceFloor: 0.30})
	require.Len(t, proposals, 1)
	assert.InDelta(t, 0.35, proposals[0].Confidence, 1e-9)
}

func TestScoreConfidenceBounds(t *testing.T) {
	// every signal fires: exact ref + amount + name + date
	tx := &models.Transaction{
		TenantID:     "tenant-a",
		AmountMinor:  10000,
		Currency:     "GBP",
		Reference:    "INV-1042 Acme settlement",
		Counterparty: "Acme Ltd",
		EventAt:      eventDate,
	}
	inv := invoice("7", "INV-1042", "Acme Ltd", 10000, "GBP", eventDate.AddDate(0, 0, 3))

	proposals := Score(tx, []billing.Invoice{inv}, Config{})
	require.Len(t, proposals, 1)
	assert.LessOrEqual(t, proposals[0].Confidence, 1.0)
	assert.GreaterOrEqual(t, proposals[0].Confidence, 0.0)
	assert.InDelta(t, 1.0, proposals[0].Confidence, 1e-9)
}

func TestScoreFuzzyReference(t *testing.T) {
	// one character off the invoice number: fuzzy fires, exact does not
	tx := gbpTransaction("payment INV-1043", 10000)
	inv := invoice("7", "INV-1042", "Acme", 10000, "GBP", eventDate.AddDate(0, 0, 60))

	proposals := Score(tx, []billing.Invoice{inv}, Config{FuzzyMaxDistance: 2})
	require.Len(t, proposals, 1)
	assert.Contains(t, proposals[0].Rationale, SignalFuzzyReference)
	assert.NotContains(t, proposals[0].Rationale, SignalExactReference)
}

func TestScoreRationaleWeightOrder(t *testing.T) {
	tx := &models.Transaction{
		TenantID:     "tenant-a",
		AmountMinor:  10000,
		Currency:     "GBP",
		Reference:    "INV-1042 Acme settlement",
		Counterparty: "Acme Ltd",
		EventAt:      eventDate,
	}
	inv := invoice("7", "INV-1042", "Acme Ltd", 10000, "GBP", eventDate.AddDate(0, 0, 3))

	proposals := Score(tx, []billing.Invoice{inv}, Config{})
	require.Len(t, proposals, 1)
	assert.Equal(t, []string{
		SignalExactReference,
		SignalAmountMatch,
		SignalNameOverlap,
		SignalDateProximity,
	}, proposals[0].Rationale)
}

func TestScoreNoFloatAmountTolerance(t *testing.T) {
	tx := gbpTransaction("INV-7", 10001)
	inv := invoice("7", "INV-7", "Acme", 10000, "GBP", eventDate)

	proposals := Score(tx, []billing.Invoice{inv}, Config{})
	require.Len(t, proposals, 1)
	// off by one minor unit is not an amount match
	assert.NotContains(t, proposals[0].Rationale, SignalAmountMatch)
}
