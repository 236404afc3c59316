package scorer

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bookledger/internal/models"
	"bookledger/internal/rules"
)

const testAccount = "assets:checking"

func civilDate(s string) time.Time {
	t, err := models.ParseCivilDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func debitRecord(date, description, amount string) models.ExternalRecord {
	return models.ExternalRecord{
		Date:        civilDate(date),
		Description: description,
		Debit:       decimal.RequireFromString(amount),
	}
}

func checkingEntry(date, payee, amount string) models.LedgerEntry {
	return models.LedgerEntry{
		ID:    "entry-" + payee,
		Date:  civilDate(date),
		Payee: payee,
		Postings: []models.Posting{
			{ID: "p1", AccountID: testAccount, Amount: decimal.RequireFromString(amount)},
			{ID: "p2", AccountID: "expenses:misc", Amount: decimal.RequireFromString(amount).Neg()},
		},
	}
}

func newTestScorer(t *testing.T, all []rules.PayeeRule) *Scorer {
	t.Helper()
	s, err := New(rules.StaticLookup(all))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return s
}

func TestScoreRecordDateSchedule(t *testing.T) {
	s := newTestScorer(t, nil)
	entry := checkingEntry("2026-03-14", "Woolworths", "-54.20")

	tests := []struct {
		name string
		date string
		want int
	}{
		{"same day", "2026-03-14", DateExactScore},
		{"one day off", "2026-03-15", DateWithin1Score},
		{"three days off", "2026-03-11", DateWithin3Score},
		{"seven days off", "2026-03-21", DateWithin7Score},
		{"eight days off", "2026-03-22", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := debitRecord(tt.date, "unrelated text", "54.20")
			result := s.ScoreRecord(rec, entry, testAccount)
			if result.DateScore != tt.want {
				t.Errorf("DateScore = %d, want %d", result.DateScore, tt.want)
			}
		})
	}
}

func TestScoreRecordAmountSchedule(t *testing.T) {
	s := newTestScorer(t, nil)
	entry := checkingEntry("2026-03-14", "Woolworths", "-54.20")

	tests := []struct {
		name   string
		amount string
		want   int
	}{
		{"exact", "54.20", AmountExactScore},
		{"within a cent", "54.21", AmountExactScore},
		{"within a dollar", "54.99", AmountCloseScore},
		{"over a dollar off", "56.00", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := debitRecord("2026-03-14", "x", tt.amount)
			result := s.ScoreRecord(rec, entry, testAccount)
			if result.AmountScore != tt.want {
				t.Errorf("AmountScore = %d, want %d", result.AmountScore, tt.want)
			}
		})
	}
}

func TestScoreRecordComparesAbsoluteAmounts(t *testing.T) {
	s := newTestScorer(t, nil)

	// A statement debit of 54.20 is a -54.20 posting on the asset account;
	// the signs differ but the magnitudes agree.
	rec := debitRecord("2026-03-14", "x", "54.20")
	entry := checkingEntry("2026-03-14", "Woolworths", "-54.20")

	result := s.ScoreRecord(rec, entry, testAccount)
	if result.AmountScore != AmountExactScore {
		t.Errorf("AmountScore = %d, want %d", result.AmountScore, AmountExactScore)
	}
}

func TestScoreRecordNoPostingForAccount(t *testing.T) {
	s := newTestScorer(t, nil)
	rec := debitRecord("2026-03-14", "x", "54.20")
	entry := checkingEntry("2026-03-14", "Woolworths", "-54.20")

	result := s.ScoreRecord(rec, entry, "assets:savings")
	if result.AmountScore != 0 {
		t.Errorf("AmountScore = %d, want 0 when no posting touches the account", result.AmountScore)
	}
}

func TestScoreRecordDescriptionChannels(t *testing.T) {
	tests := []struct {
		name        string
		description string
		entry       models.LedgerEntry
		rules       []rules.PayeeRule
		wantScore   int
		wantChannel string
	}{
		{
			name:        "payee channel strong",
			description: "Woolworths",
			entry:       checkingEntry("2026-03-14", "Woolworths", "-54.20"),
			wantScore:   DescStrongScore,
			wantChannel: ChannelPayee,
		},
		{
			name:        "payee channel medium",
			description: "WOOLWORTHS 1234",
			entry:       checkingEntry("2026-03-14", "Woolworths", "-54.20"),
			wantScore:   DescMediumScore,
			wantChannel: ChannelPayee,
		},
		{
			name:        "original description channel wins",
			description: "WOOLWORTHS 1234 SYDNEY",
			entry: func() models.LedgerEntry {
				e := checkingEntry("2026-03-14", "Groceries", "-54.20")
				e.OriginalDescription = "WOOLWORTHS 1234 SYDNEY"
				return e
			}(),
			wantScore:   DescStrongScore,
			wantChannel: ChannelOriginal,
		},
		{
			name:        "memorized rule synthesizes perfect match",
			description: "WOOLWORTHS 1234 SYDNEY NSW AU",
			entry:       checkingEntry("2026-03-14", "Woolworths", "-54.20"),
			rules: []rules.PayeeRule{
				{Mode: rules.ModeContains, MatchValue: "WOOLWORTHS", DefaultPayee: "Woolworths"},
			},
			wantScore:   DescStrongScore,
			wantChannel: ChannelMemorizedRule,
		},
		{
			name:        "rule for a different payee does not fire",
			description: "WOOLWORTHS 1234 SYDNEY NSW AU",
			entry:       checkingEntry("2026-03-14", "Coles", "-54.20"),
			rules: []rules.PayeeRule{
				{Mode: rules.ModeContains, MatchValue: "WOOLWORTHS", DefaultPayee: "Woolworths"},
			},
			wantScore:   0,
			wantChannel: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScorer(t, tt.rules)
			rec := debitRecord("2026-03-14", tt.description, "54.20")
			result := s.ScoreRecord(rec, tt.entry, testAccount)
			if result.DescriptionScore != tt.wantScore {
				t.Errorf("DescriptionScore = %d, want %d", result.DescriptionScore, tt.wantScore)
			}
			if result.DescriptionChannel != tt.wantChannel {
				t.Errorf("DescriptionChannel = %q, want %q", result.DescriptionChannel, tt.wantChannel)
			}
		})
	}
}

func TestScoreRecordIdenticalDateAndAmount(t *testing.T) {
	s := newTestScorer(t, nil)

	// Same date and exact amount alone reach the top confidence band even
	// with useless description text.
	rec := debitRecord("2026-03-14", "zzzz", "54.20")
	entry := checkingEntry("2026-03-14", "Woolworths", "-54.20")

	result := s.ScoreRecord(rec, entry, testAccount)
	if want := DateExactScore + AmountExactScore; result.Total < want {
		t.Errorf("Total = %d, want at least %d", result.Total, want)
	}
}

func TestScoreRecordGroceryScenario(t *testing.T) {
	s := newTestScorer(t, nil)

	rec := debitRecord("2026-03-14", "WOOLWORTHS 1234", "54.20")
	entry := checkingEntry("2026-03-14", "Woolworths", "-54.20")

	result := s.ScoreRecord(rec, entry, testAccount)
	want := DateExactScore + AmountExactScore + DescMediumScore
	if result.Total != want {
		t.Errorf("Total = %d, want %d", result.Total, want)
	}
	if len(result.Reasons) == 0 {
		t.Error("expected score reasons to be recorded")
	}
}

func TestScoreEntriesTransferLegs(t *testing.T) {
	s := newTestScorer(t, nil)

	legA := models.LedgerEntry{
		ID:    "leg-a",
		Date:  civilDate("2026-02-01"),
		Payee: "Transfer to savings",
		Postings: []models.Posting{
			{ID: "pa", AccountID: "assets:checking", Amount: decimal.RequireFromString("-500")},
		},
	}
	legB := models.LedgerEntry{
		ID:    "leg-b",
		Date:  civilDate("2026-02-01"),
		Payee: "Transfer from checking",
		Postings: []models.Posting{
			{ID: "pb", AccountID: "assets:savings", Amount: decimal.RequireFromString("500")},
		},
	}

	result := s.ScoreEntries(legA, "assets:checking", legB, "assets:savings")
	if result.DateScore != DateExactScore {
		t.Errorf("DateScore = %d, want %d", result.DateScore, DateExactScore)
	}
	if result.AmountScore != AmountExactScore {
		t.Errorf("AmountScore = %d, want %d", result.AmountScore, AmountExactScore)
	}
	if result.Total < 80 {
		t.Errorf("Total = %d, want at least 80 for matching transfer legs", result.Total)
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"WOOLWORTHS 1234", "woolworths 1234"},
		{"  Pay*Pal -- Transfer  ", "pay pal transfer"},
		{"ÉPICERIE", "épicerie"},
		{"***", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeText(tt.in); got != tt.want {
			t.Errorf("NormalizeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSimilarityRatio(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "woolworths", "woolworths", 1.0},
		{"disjoint", "abcde", "vwxyz", 0.0},
		{"empty carries no signal", "", "", 0.0},
		{"one empty", "woolworths", "", 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SimilarityRatio(tt.a, tt.b); got != tt.want {
				t.Errorf("SimilarityRatio(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}

	// Prefix noise should land in the medium band, not destroy the match.
	got := SimilarityRatio("woolworths 1234", "woolworths")
	if got <= 0.5 || got > 0.8 {
		t.Errorf("SimilarityRatio with trailing noise = %v, want in (0.5, 0.8]", got)
	}
}
