package matching

import (
	"math"
	"sort"
	"strings"
	"time"

	"payment-reconciliation-engine/internal/billing"
	"payment-reconciliation-engine/internal/models"
)

// Signal weights. Additive, capped so total confidence stays in [0,1].
const (
	weightExactReference = 0.50
	weightAmountMatch    = 0.30
	weightFuzzyReference = 0.25
	weightNameOverlap    = 0.15
	weightDateProximity  = 0.05

	dateProximityWindow = 7 * 24 * time.Hour
)

// Rationale labels, one per signal.
const (
	SignalExactReference = "exact reference match"
	SignalAmountMatch    = "amount match"
	SignalFuzzyReference = "fuzzy reference match"
	SignalNameOverlap    = "counterparty name overlap"
	SignalDateProximity  = "date proximity"
)

// Config tunes the scorer. Zero values fall back to the defaults.
type Config struct {
	// ConfidenceFloor drops proposals scoring below it; they are noise,
	// not candidates.
	ConfidenceFloor float64

	// FuzzyMaxDistance is the Levenshtein threshold for a fuzzy
	// reference match between normalized tokens.
	FuzzyMaxDistance int
}

func (c Config) withDefaults() Config {
	if c.ConfidenceFloor == 0 {
		c.ConfidenceFloor = 0.30
	}
	if c.FuzzyMaxDistance == 0 {
		c.FuzzyMaxDistance = 2
	}
	return c
}

// Proposal is one scored candidate pairing. The scorer assigns no ids and
// reads no clock, so identical inputs always produce identical output.
type Proposal struct {
	InvoiceID      string
	InvoiceNumber  string
	InvoiceDueDate time.Time
	Confidence     float64
	Rationale      []string
}

// Score ranks candidate invoices against one transaction, highest
// confidence first. Ties break by earliest due date, then lowest invoice
// id. Pure: no side effects, no randomness.
func Score(tx *models.Transaction, candidates []billing.Invoice, cfg Config) []Proposal {
	cfg = cfg.withDefaults()

	proposals := make([]Proposal, 0, len(candidates))
	for _, inv := range candidates {
		// currency mismatch excludes the candidate outright, whatever
		// its other signals would score
		if inv.Currency != tx.Currency {
			continue
		}
		p := scoreOne(tx, inv, cfg)
		if p.Confidence >= cfg.ConfidenceFloor {
			proposals = append(proposals, p)
		}
	}

	sort.SliceStable(proposals, func(i, j int) bool {
		if proposals[i].Confidence != proposals[j].Confidence {
			return proposals[i].Confidence > proposals[j].Confidence
		}
		if !proposals[i].InvoiceDueDate.Equal(proposals[j].InvoiceDueDate) {
			return proposals[i].InvoiceDueDate.Before(proposals[j].InvoiceDueDate)
		}
		return proposals[i].InvoiceID < proposals[j].InvoiceID
	})

	return proposals
}

// scoreOne evaluates every signal for one pair. Rationale lists fired
// signals in weight-descending order.
func scoreOne(tx *models.Transaction, inv billing.Invoice, cfg Config) Proposal {
	reference := normalizeText(tx.Reference)
	number := normalizeText(inv.Number)

	exact := number != "" && strings.Contains(reference, number)
	fuzzy := !exact && fuzzyReferenceMatch(reference, number, cfg.FuzzyMaxDistance)
	amount := tx.AmountMinor == inv.AmountDueMinor && tx.Currency == inv.Currency
	name := nameTokenOverlap(tx.Counterparty+" "+tx.Reference, inv.ClientName)
	date := absDuration(tx.EventAt.Sub(inv.DueDate)) <= dateProximityWindow

	var confidence float64
	var rationale []string

	if exact {
		confidence += weightExactReference
		rationale = append(rationale, SignalExactReference)
	}
	if amount {
		confidence += weightAmountMatch
		rationale = append(rationale, SignalAmountMatch)
	}
	if fuzzy {
		confidence += weightFuzzyReference
		rationale = append(rationale, SignalFuzzyReference)
	}
	if name {
		confidence += weightNameOverlap
		rationale = append(rationale, SignalNameOverlap)
	}
	if date {
		confidence += weightDateProximity
		rationale = append(rationale, SignalDateProximity)
	}

	return Proposal{
		InvoiceID:      inv.ID,
		InvoiceNumber:  inv.Number,
		InvoiceDueDate: inv.DueDate,
		Confidence:     math.Min(confidence, 1.0),
		Rationale:      rationale,
	}
}

// fuzzyReferenceMatch reports a near-miss between the transaction
// reference and the invoice number: either a normalized substring hit or
// a token within the edit-distance threshold.
func fuzzyReferenceMatch(reference, number string, maxDistance int) bool {
	if number == "" || reference == "" {
		return false
	}
	compactRef := strings.ReplaceAll(reference, " ", "")
	compactNum := strings.ReplaceAll(number, " ", "")
	if strings.Contains(compactRef, compactNum) {
		return true
	}
	for _, tok := range strings.Fields(reference) {
		if levenshtein(tok, compactNum) <= maxDistance {
			return true
		}
	}
	return false
}

// nameTokenOverlap reports whether any meaningful client-name token
// appears among the transaction's description/counterparty tokens.
func nameTokenOverlap(txText, clientName string) bool {
	clientTokens := strings.Fields(normalizeText(clientName))
	if len(clientTokens) == 0 {
		return false
	}
	txTokens := make(map[string]bool)
	for _, tok := range strings.Fields(normalizeText(txText)) {
		txTokens[tok] = true
	}
	for _, tok := range clientTokens {
		if len(tok) < 2 {
			continue
		}
		if txTokens[tok] {
			return true
		}
	}
	return false
}

func normalizeText(s string) string {
	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	return s
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	dp := make([][]int, len(a)+1)
	for i := range dp {
		dp[i] = make([]int, len(b)+1)
	}

	for i := 0; i <= len(a); i++ {
		dp[i][0] = i
	}
	for j := 0; j <= len(b); j++ {
		dp[0][j] = j
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			dp[i][j] = minOf(
				dp[i-1][j]+1,
				dp[i][j-1]+1,
				dp[i-1][j-1]+cost,
			)
		}
	}
	return dp[len(a)][len(b)]
}

func minOf(a, b, c int) int {
	if a < b && a < c {
		return a
	}
	if b < c {
		return b
	}
	return c
}
