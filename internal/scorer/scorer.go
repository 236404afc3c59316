// Package scorer computes the 0-100 compatibility score for one candidate
// pairing, along with human-readable reasons for audit.
//
// The score is the sum of three independent terms:
//
//	date term        max 30  (proximity of the two civil dates)
//	amount term      max 50  (agreement of the absolute amounts)
//	description term max 20  (text similarity over three channels)
//
// The amount term dominates and is deliberately step-shaped rather than
// linear: an amount mismatch withholds points instead of being traded off
// against a strong text match.
package scorer

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"

	"bookledger/internal/models"
	"bookledger/internal/rules"
)

// Point schedule for the date term.
const (
	DateExactScore   = 30
	DateWithin1Score = 25
	DateWithin3Score = 15
	DateWithin7Score = 5
)

// Point schedule for the amount term.
const (
	AmountExactScore = 50
	AmountCloseScore = 25
)

// Point schedule for the description term, keyed by similarity ratio.
const (
	DescStrongScore = 20 // similarity > 0.8
	DescMediumScore = 10 // similarity > 0.5
	DescWeakScore   = 5  // similarity > 0.3
)

// MaxScore is the highest total the schedule can produce.
const MaxScore = DateExactScore + AmountExactScore + DescStrongScore

// Description channels, recorded so a reviewer can see where the text
// points came from.
const (
	ChannelPayee         = "payee"
	ChannelOriginal      = "original-description"
	ChannelMemorizedRule = "memorized-rule"
)

var (
	amountCloseTolerance = decimal.NewFromInt(1) // within $1
)

// Result is the outcome of scoring one candidate pair.
type Result struct {
	Total              int
	DateScore          int
	AmountScore        int
	DescriptionScore   int
	DescriptionChannel string
	Reasons            []string
}

// Scorer scores candidate pairs against a fixed rule set. Construct one per
// solver run so rule changes between runs are picked up.
type Scorer struct {
	rules []rules.PayeeRule
}

// New creates a Scorer using the memorized rules from the given lookup.
func New(lookup rules.Lookup) (*Scorer, error) {
	var all []rules.PayeeRule
	if lookup != nil {
		var err error
		all, err = lookup.GetAllRules()
		if err != nil {
			return nil, fmt.Errorf("loading payee rules: %w", err)
		}
	}
	return &Scorer{rules: all}, nil
}

// ScoreRecord scores an external statement record against a ledger entry.
// The amount compared is the entry's posting for the account under
// reconciliation, not the whole transaction.
func (s *Scorer) ScoreRecord(rec models.ExternalRecord, entry models.LedgerEntry, accountID string) Result {
	var result Result

	result.DateScore = dateScore(rec.Date, entry.Date)
	addDateReason(&result, rec.Date, entry.Date)

	if posting, ok := entry.PostingFor(accountID); ok {
		result.AmountScore = amountScore(rec.SignedAmount(), posting.Amount)
		addAmountReason(&result, rec.SignedAmount(), posting.Amount)
	} else {
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("no posting touches account %s", accountID))
	}

	score, channel, sim := s.descriptionScore(rec.Description, entry)
	result.DescriptionScore = score
	result.DescriptionChannel = channel
	addDescriptionReason(&result, channel, sim)

	result.Total = result.DateScore + result.AmountScore + result.DescriptionScore
	return result
}

// ScoreEntries scores two single-sided ledger entries as transfer legs,
// using each entry's posting amount in its own account.
func (s *Scorer) ScoreEntries(a models.LedgerEntry, accountA string, b models.LedgerEntry, accountB string) Result {
	var result Result

	result.DateScore = dateScore(a.Date, b.Date)
	addDateReason(&result, a.Date, b.Date)

	postingA, okA := a.PostingFor(accountA)
	postingB, okB := b.PostingFor(accountB)
	if okA && okB {
		result.AmountScore = amountScore(postingA.Amount, postingB.Amount)
		addAmountReason(&result, postingA.Amount, postingB.Amount)
	}

	// Transfer legs have no external description; compare the two payees,
	// falling back to original descriptions when present.
	sim := SimilarityRatio(NormalizeText(a.Payee), NormalizeText(b.Payee))
	channel := ChannelPayee
	if a.OriginalDescription != "" && b.OriginalDescription != "" {
		if orig := SimilarityRatio(NormalizeText(a.OriginalDescription), NormalizeText(b.OriginalDescription)); orig > sim {
			sim, channel = orig, ChannelOriginal
		}
	}
	result.DescriptionScore = descriptionPoints(sim)
	if result.DescriptionScore > 0 {
		result.DescriptionChannel = channel
	}
	addDescriptionReason(&result, result.DescriptionChannel, sim)

	result.Total = result.DateScore + result.AmountScore + result.DescriptionScore
	return result
}

// dateScore awards points for civil-date proximity. Bank posting dates and
// user-entry dates legitimately drift by a few days.
func dateScore(a, b time.Time) int {
	switch days := models.DaysBetween(a, b); {
	case days == 0:
		return DateExactScore
	case days <= 1:
		return DateWithin1Score
	case days <= 3:
		return DateWithin3Score
	case days <= 7:
		return DateWithin7Score
	default:
		return 0
	}
}

// amountScore compares absolute amounts: sign conventions differ between
// statements and ledger postings, so only magnitude is considered.
func amountScore(a, b decimal.Decimal) int {
	diff := a.Abs().Sub(b.Abs()).Abs()
	switch {
	case diff.LessThanOrEqual(models.CentTolerance):
		return AmountExactScore
	case diff.LessThanOrEqual(amountCloseTolerance):
		return AmountCloseScore
	default:
		return 0
	}
}

// descriptionScore evaluates the three description channels and returns the
// best points, the channel that produced them, and its similarity ratio.
func (s *Scorer) descriptionScore(description string, entry models.LedgerEntry) (int, string, float64) {
	normDesc := NormalizeText(description)

	best := SimilarityRatio(normDesc, NormalizeText(entry.Payee))
	channel := ChannelPayee

	// A memorized rule may have rewritten the payee at import time; the
	// stored original description preserves the pre-transformation text.
	if entry.OriginalDescription != "" {
		if sim := SimilarityRatio(normDesc, NormalizeText(entry.OriginalDescription)); sim > best {
			best, channel = sim, ChannelOriginal
		}
	}

	// If a rule that produces this exact payee would also fire for the
	// external description, treat the texts as equivalent.
	if best < 1.0 {
		for _, rule := range rules.ProducingPayee(s.rules, entry.Payee) {
			if rule.Matches(description) {
				best, channel = 1.0, ChannelMemorizedRule
				break
			}
		}
	}

	points := descriptionPoints(best)
	if points == 0 {
		return 0, "", best
	}
	return points, channel, best
}

func descriptionPoints(similarity float64) int {
	switch {
	case similarity > 0.8:
		return DescStrongScore
	case similarity > 0.5:
		return DescMediumScore
	case similarity > 0.3:
		return DescWeakScore
	default:
		return 0
	}
}

func addDateReason(result *Result, a, b time.Time) {
	days := models.DaysBetween(a, b)
	switch {
	case result.DateScore == DateExactScore:
		result.Reasons = append(result.Reasons, "same date")
	case result.DateScore > 0:
		result.Reasons = append(result.Reasons, fmt.Sprintf("dates %d day(s) apart", days))
	default:
		result.Reasons = append(result.Reasons, fmt.Sprintf("dates %d days apart", days))
	}
}

func addAmountReason(result *Result, a, b decimal.Decimal) {
	switch result.AmountScore {
	case AmountExactScore:
		result.Reasons = append(result.Reasons, "exact amount match")
	case AmountCloseScore:
		result.Reasons = append(result.Reasons, "amounts within $1")
	default:
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("amount mismatch: %s vs %s", a.Abs().StringFixed(2), b.Abs().StringFixed(2)))
	}
}

func addDescriptionReason(result *Result, channel string, sim float64) {
	if result.DescriptionScore == 0 {
		return
	}
	if channel == ChannelMemorizedRule {
		result.Reasons = append(result.Reasons, "memorized rule produces this payee")
		return
	}
	result.Reasons = append(result.Reasons,
		fmt.Sprintf("description matches %s (similarity %.2f)", channel, sim))
}

// NormalizeText lowercases, strips non-alphanumerics and collapses
// whitespace so cosmetic differences do not depress similarity.
func NormalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// SimilarityRatio returns a 0..1 similarity between two normalized strings,
// derived from edit distance. Two empty strings are not similar: an absent
// description carries no signal.
func SimilarityRatio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}
