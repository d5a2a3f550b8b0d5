package verify

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"payment-reconciliation-engine/internal/config"
	"payment-reconciliation-engine/internal/models"

	log "github.com/sirupsen/logrus"
)

// Reason classifies why verification failed.
type Reason string

const (
	ReasonMissingSignature   Reason = "missing_signature"
	ReasonSignatureMismatch  Reason = "signature_mismatch"
	ReasonInvalidCertificate Reason = "invalid_certificate"
	ReasonUnknownProvider    Reason = "unknown_provider"
)

// Error is a verification failure. Untrusted input: rejected, never retried.
type Error struct {
	Reason   Reason
	Tenant   string
	Provider string
}

func (e *Error) Error() string {
	return fmt.Sprintf("verification failed for tenant=%s provider=%s: %s", e.Tenant, e.Provider, e.Reason)
}

// VerifiedEvent is a payload that passed provider authentication. Payload
// is the raw body exactly as signed; parsing happens downstream.
type VerifiedEvent struct {
	Tenant   string
	Provider models.Provider
	Payload  []byte
}

// DefaultSignatureHeader is used when the tenant config does not name one.
const DefaultSignatureHeader = "X-Signature"

// Verify authenticates a raw webhook body against the tenant's provider
// credentials. It is pure validation: no side effects beyond logging the
// outcome. The secret and the presented signature are never logged.
func Verify(raw []byte, header http.Header, tlsState *tls.ConnectionState, tenant, provider string, creds config.ProviderCredentials) (*VerifiedEvent, error) {
	logger := log.WithFields(log.Fields{
		"tenant":   tenant,
		"provider": provider,
	})

	fail := func(reason Reason) (*VerifiedEvent, error) {
		logger.WithField("reason", reason).Warn("webhook verification failed")
		return nil, &Error{Reason: reason, Tenant: tenant, Provider: provider}
	}

	switch creds.Mode {
	case config.ModeHMAC:
		name := creds.SignatureHeader
		if name == "" {
			name = DefaultSignatureHeader
		}
		presented := header.Get(name)
		if presented == "" {
			return fail(ReasonMissingSignature)
		}
		if !hmacMatches(raw, presented, creds.Secret) {
			return fail(ReasonSignatureMismatch)
		}

	case config.ModeClientCert:
		if !certTrusted(tlsState, creds.TrustedIssuers) {
			return fail(ReasonInvalidCertificate)
		}

	default:
		return fail(ReasonUnknownProvider)
	}

	logger.Debug("webhook verified")
	return &VerifiedEvent{
		Tenant:   tenant,
		Provider: models.Provider(provider),
		Payload:  raw,
	}, nil
}

// hmacMatches compares the presented hex signature against HMAC-SHA256 of
// the raw body. hmac.Equal is constant time.
func hmacMatches(raw []byte, presented, secret string) bool {
	presented = strings.TrimPrefix(presented, "sha256=")
	got, err := hex.DecodeString(presented)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(raw)
	return hmac.Equal(got, mac.Sum(nil))
}

// certTrusted checks that the request carried a client certificate whose
// issuer common name is in the trusted set.
func certTrusted(state *tls.ConnectionState, issuers []string) bool {
	if state == nil || len(state.PeerCertificates) == 0 || len(issuers) == 0 {
		return false
	}
	leaf := state.PeerCertificates[0]
	for _, issuer := range issuers {
		if leaf.Issuer.CommonName == issuer {
			return true
		}
	}
	return false
}

// Sign computes the hex HMAC-SHA256 signature for a payload. Exported for
// provider simulators and tests.
func Sign(raw []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil))
}
