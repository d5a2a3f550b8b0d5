package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPClient talks to the billing system's REST API. It implements both
// Client and InvoiceSource.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient builds a billing client with a bounded request timeout.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) ApplyPayment(ctx context.Context, req ApplyPaymentRequest) (*PaymentApplication, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &WriteBackError{Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/payment-applications", bytes.NewReader(body))
	if err != nil {
		return nil, &WriteBackError{Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Idempotency-Key", IdempotencyKey(req.TenantID, req.InvoiceID, req.TransactionID))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		// network errors and timeouts are worth retrying
		return nil, &WriteBackError{Retryable: true, Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusCreated:
		var app PaymentApplication
		if err := json.NewDecoder(resp.Body).Decode(&app); err != nil {
			return nil, &WriteBackError{StatusCode: resp.StatusCode, Cause: err}
		}
		return &app, nil
	case resp.StatusCode >= 500:
		return nil, &WriteBackError{StatusCode: resp.StatusCode, Retryable: true}
	default:
		return nil, &WriteBackError{StatusCode: resp.StatusCode}
	}
}

func (c *HTTPClient) PaymentStatus(ctx context.Context, tenant, invoiceID, transactionID string) (*PaymentApplication, error) {
	u := fmt.Sprintf("%s/v1/payment-applications/%s",
		c.baseURL, url.PathEscape(IdempotencyKey(tenant, invoiceID, transactionID)))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &WriteBackError{Cause: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &WriteBackError{Retryable: true, Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var app PaymentApplication
		if err := json.NewDecoder(resp.Body).Decode(&app); err != nil {
			return nil, &WriteBackError{StatusCode: resp.StatusCode, Cause: err}
		}
		return &app, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode >= 500:
		return nil, &WriteBackError{StatusCode: resp.StatusCode, Retryable: true}
	default:
		return nil, &WriteBackError{StatusCode: resp.StatusCode}
	}
}

func (c *HTTPClient) OpenInvoices(ctx context.Context, q InvoiceQuery) ([]Invoice, error) {
	params := url.Values{}
	params.Set("tenant_id", q.TenantID)
	params.Set("currency", q.Currency)
	params.Set("status", q.Status)
	params.Set("due_from", q.DueFrom.Format(time.RFC3339))
	params.Set("due_to", q.DueTo.Format(time.RFC3339))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/invoices?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("invoice lookup failed: status %d", resp.StatusCode)
	}

	var invoices []Invoice
	if err := json.NewDecoder(resp.Body).Decode(&invoices); err != nil {
		return nil, err
	}
	return invoices, nil
}
