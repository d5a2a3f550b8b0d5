package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyKeyDeterministic(t *testing.T) {
	a := IdempotencyKey("tenant-a", "inv-7", "tx-1")
	b := IdempotencyKey("tenant-a", "inv-7", "tx-1")
	assert.Equal(t, a, b)

	// any component changing changes the key
	assert.NotEqual(t, a, IdempotencyKey("tenant-b", "inv-7", "tx-1"))
	assert.NotEqual(t, a, IdempotencyKey("tenant-a", "inv-8", "tx-1"))
	assert.NotEqual(t, a, IdempotencyKey("tenant-a", "inv-7", "tx-2"))
}

func TestApplyPaymentSendsIdempotencyKey(t *testing.T) {
	var gotKey string
	var gotReq ApplyPaymentRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(PaymentApplication{BillingTransactionID: "bill_1"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "token", 5*time.Second)
	req := ApplyPaymentRequest{
		TenantID:      "tenant-a",
		InvoiceID:     "inv-7",
		TransactionID: "tx-1",
		AmountMinor:   10000,
		Currency:      "GBP",
	}

	app, err := client.ApplyPayment(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "bill_1", app.BillingTransactionID)
	assert.Equal(t, IdempotencyKey("tenant-a", "inv-7", "tx-1"), gotKey)
	assert.Equal(t, req, gotReq)
}

func TestApplyPaymentErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantRetryable bool
	}{
		{name: "server error retryable", status: http.StatusServiceUnavailable, wantRetryable: true},
		{name: "client error not retryable", status: http.StatusUnprocessableEntity, wantRetryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			client := NewHTTPClient(srv.URL, "token", 5*time.Second)
			_, err := client.ApplyPayment(context.Background(), ApplyPaymentRequest{})

			var wbErr *WriteBackError
			require.ErrorAs(t, err, &wbErr)
			assert.Equal(t, tt.status, wbErr.StatusCode)
			assert.Equal(t, tt.wantRetryable, wbErr.Retryable)
		})
	}
}

func TestPaymentStatusNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "token", 5*time.Second)
	app, err := client.PaymentStatus(context.Background(), "tenant-a", "inv-7", "tx-1")
	require.NoError(t, err)
	assert.Nil(t, app)
}

func TestOpenInvoicesQuery(t *testing.T) {
	due := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "tenant-a", q.Get("tenant_id"))
		assert.Equal(t, "GBP", q.Get("currency"))
		assert.Equal(t, "open", q.Get("status"))
		json.NewEncoder(w).Encode([]Invoice{{
			ID: "7", TenantID: "tenant-a", Number: "INV-1042",
			AmountDueMinor: 10000, Currency: "GBP", DueDate: due, Status: "open",
		}})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "token", 5*time.Second)
	invoices, err := client.OpenInvoices(context.Background(), InvoiceQuery{
		TenantID: "tenant-a",
		Currency: "GBP",
		Status:   "open",
		DueFrom:  due.AddDate(0, -3, 0),
		DueTo:    due.AddDate(0, 1, 0),
	})
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, "INV-1042", invoices[0].Number)
}
