package normalize

import (
	"testing"
	"time"

	"payment-reconciliation-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ingestedAt = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func TestNormalizeBankTransaction(t *testing.T) {
	payload := []byte(`{
		"type": "transaction.created",
		"transaction": {
			"id": "tx_001",
			"amount": 10000,
			"currency": "gbp",
			"description": "INV-1042 payment",
			"counterparty": {"name": "Acme Ltd"},
			"created": "2026-07-30T09:15:00Z"
		}
	}`)

	tx, control, err := Normalize("tenant-a", models.ProviderBank, payload, ingestedAt)
	require.NoError(t, err)
	require.Nil(t, control)

	assert.Equal(t, "tenant-a", tx.TenantID)
	assert.Equal(t, models.ProviderBank, tx.Provider)
	assert.Equal(t, "tx_001", tx.ExternalID)
	assert.Equal(t, int64(10000), tx.AmountMinor)
	assert.Equal(t, "GBP", tx.Currency)
	assert.Equal(t, "INV-1042 payment", tx.Reference)
	assert.Equal(t, "Acme Ltd", tx.Counterparty)
	assert.Equal(t, time.Date(2026, 7, 30, 9, 15, 0, 0, time.UTC), tx.EventAt)
	assert.Equal(t, ingestedAt, tx.IngestedAt)
	assert.Equal(t, models.TxUnmatched, tx.Status)
}

func TestNormalizeCardPaymentDecimalAmount(t *testing.T) {
	payload := []byte(`{
		"event_type": "payment.succeeded",
		"data": {
			"payment_id": "pay_77",
			"amount": "100.00",
			"currency": "GBP",
			"reference": "INV-1042",
			"cardholder_name": "A Customer",
			"processed_at": "2026-07-30 09:15:00"
		}
	}`)

	tx, control, err := Normalize("tenant-a", models.ProviderCardProcessor, payload, ingestedAt)
	require.NoError(t, err)
	require.Nil(t, control)

	assert.Equal(t, models.ProviderCardProcessor, tx.Provider)
	assert.Equal(t, "pay_77", tx.ExternalID)
	assert.Equal(t, int64(10000), tx.AmountMinor)
}

func TestNormalizeAmountFormats(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		want    int64
		wantErr bool
	}{
		{name: "minor unit integer", amount: `2500`, want: 2500},
		{name: "decimal string", amount: `"25.00"`, want: 2500},
		{name: "decimal string one fraction digit", amount: `"25.5"`, want: 2550},
		{name: "whole decimal string", amount: `"25"`, want: 2500},
		{name: "sub-minor-unit fraction", amount: `"25.005"`, wantErr: true},
		{name: "float number", amount: `25.5`, wantErr: true},
		{name: "non-numeric string", amount: `"lots"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := []byte(`{
				"type": "transaction.created",
				"transaction": {
					"id": "tx_a",
					"amount": ` + tt.amount + `,
					"currency": "EUR",
					"created": "2026-07-30"
				}
			}`)

			tx, _, err := Normalize("tenant-a", models.ProviderBank, payload, ingestedAt)
			if tt.wantErr {
				var nerr *Error
				require.ErrorAs(t, err, &nerr)
				assert.Equal(t, ReasonMalformedField, nerr.Reason)
				assert.Equal(t, "transaction.amount", nerr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, tx.AmountMinor)
		})
	}
}

func TestNormalizeTimestampFormats(t *testing.T) {
	formats := map[string]string{
		"rfc3339":      "2026-07-30T09:15:00Z",
		"rfc3339 nano": "2026-07-30T09:15:00.123456789Z",
		"space":        "2026-07-30 09:15:00",
		"date only":    "2026-07-30",
	}

	for name, ts := range formats {
		t.Run(name, func(t *testing.T) {
			payload := []byte(`{
				"type": "transaction.created",
				"transaction": {
					"id": "tx_a",
					"amount": 100,
					"currency": "EUR",
					"created": "` + ts + `"
				}
			}`)
			tx, _, err := Normalize("tenant-a", models.ProviderBank, payload, ingestedAt)
			require.NoError(t, err)
			assert.Equal(t, 2026, tx.EventAt.Year())
			assert.Equal(t, time.July, tx.EventAt.Month())
		})
	}
}

func TestNormalizeControlEvents(t *testing.T) {
	t.Run("bank connection revoked", func(t *testing.T) {
		payload := []byte(`{"type": "connection.revoked", "detail": {"account": "acc_1"}}`)
		tx, control, err := Normalize("tenant-a", models.ProviderBank, payload, ingestedAt)
		require.NoError(t, err)
		assert.Nil(t, tx)
		require.NotNil(t, control)
		assert.Equal(t, "connection.revoked", control.Kind)
		assert.Equal(t, models.ProviderBank, control.Provider)
	})

	t.Run("card account deauthorized", func(t *testing.T) {
		payload := []byte(`{"event_type": "account.deauthorized"}`)
		tx, control, err := Normalize("tenant-a", models.ProviderCardProcessor, payload, ingestedAt)
		require.NoError(t, err)
		assert.Nil(t, tx)
		require.NotNil(t, control)
		assert.Equal(t, "account.deauthorized", control.Kind)
	})
}

func TestNormalizeFailures(t *testing.T) {
	tests := []struct {
		name       string
		provider   models.Provider
		payload    string
		wantReason Reason
		wantField  string
	}{
		{
			name:       "unsupported bank event type",
			provider:   models.ProviderBank,
			payload:    `{"type": "balance.updated"}`,
			wantReason: ReasonUnsupportedEventType,
			wantField:  "balance.updated",
		},
		{
			name:       "unsupported card event type",
			provider:   models.ProviderCardProcessor,
			payload:    `{"event_type": "payout.created"}`,
			wantReason: ReasonUnsupportedEventType,
			wantField:  "payout.created",
		},
		{
			name:       "not json",
			provider:   models.ProviderBank,
			payload:    `not json at all`,
			wantReason: ReasonMalformedField,
			wantField:  "payload",
		},
		{
			name:       "missing external id",
			provider:   models.ProviderBank,
			payload:    `{"type": "transaction.created", "transaction": {"amount": 1, "currency": "EUR", "created": "2026-07-30"}}`,
			wantReason: ReasonMalformedField,
			wantField:  "transaction.id",
		},
		{
			name:       "bad currency",
			provider:   models.ProviderBank,
			payload:    `{"type": "transaction.created", "transaction": {"id": "t", "amount": 1, "currency": "POUNDS", "created": "2026-07-30"}}`,
			wantReason: ReasonMalformedField,
			wantField:  "transaction.currency",
		},
		{
			name:       "bad timestamp",
			provider:   models.ProviderBank,
			payload:    `{"type": "transaction.created", "transaction": {"id": "t", "amount": 1, "currency": "EUR", "created": "30/07/2026"}}`,
			wantReason: ReasonMalformedField,
			wantField:  "transaction.created",
		},
		{
			name:       "unknown provider",
			provider:   models.Provider("carrier_pigeon"),
			payload:    `{}`,
			wantReason: ReasonUnsupportedEventType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, control, err := Normalize("tenant-a", tt.provider, []byte(tt.payload), ingestedAt)
			assert.Nil(t, tx)
			assert.Nil(t, control)
			var nerr *Error
			require.ErrorAs(t, err, &nerr)
			assert.Equal(t, tt.wantReason, nerr.Reason)
			if tt.wantField != "" {
				assert.Equal(t, tt.wantField, nerr.Field)
			}
		})
	}
}
