package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sagebank/orchestrator/internal/idgen"
	"github.com/sagebank/orchestrator/internal/metrics"
)

// Component contribution constants.
const (
	zScoreReasonFloor = 1.5 // z contributes always, but only flags a reason above this

	offHoursScore = 0.8

	highFrequencyCount     = 10
	highFrequencyScore     = 1.0
	elevatedFrequencyCount = 5
	elevatedFrequencyScore = 0.5

	veryLargeAmountCents = 100000 // > $1000
	veryLargeAmountScore = 0.8
	largeAmountCents     = 50000 // > $500
	largeAmountScore     = 0.4

	unknownRecipientScore = 0.1
	balanceDrainScore     = 0.4 // amount exceeds 90% of current balance
	balanceDrainRatio     = 0.9
)

// Evaluator scores proposed transfers against account profiles.
type Evaluator struct {
	profiles            ProfileStore
	assessments         AssessmentStore
	fraudThreshold      float64
	suspiciousThreshold float64
	now                 func() time.Time
}

// NewEvaluator creates a risk evaluator backed by the given stores.
func NewEvaluator(profiles ProfileStore, assessments AssessmentStore) *Evaluator {
	return &Evaluator{
		profiles:            profiles,
		assessments:         assessments,
		fraudThreshold:      DefaultFraudThreshold,
		suspiciousThreshold: DefaultSuspiciousThreshold,
		now:                 time.Now,
	}
}

// WithThresholds overrides the default verdict thresholds.
func (e *Evaluator) WithThresholds(suspicious, fraud float64) *Evaluator {
	e.suspiciousThreshold = suspicious
	e.fraudThreshold = fraud
	return e
}

// Evaluate scores one proposed transfer and returns the assessment.
// The assessment is persisted asynchronously as a best-effort audit record.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (*Assessment, error) {
	profile, err := e.profiles.GetOrCreate(ctx, in.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load risk profile: %w", err)
	}

	var components []float64
	var reasons []string

	// Amount z-score. Contributes even when not flagged: the deviation
	// always feeds the combined score.
	if profile.StddevAmountCents > 0 {
		z := math.Abs(float64(in.AmountCents-profile.MeanAmountCents)) / float64(profile.StddevAmountCents)
		components = append(components, z)
		if z > zScoreReasonFloor {
			direction := "higher"
			if in.AmountCents < profile.MeanAmountCents {
				direction = "lower"
			}
			reasons = append(reasons, fmt.Sprintf("Amount significantly %s than average (z=%.2f)", direction, z))
		}
	}

	// Off-hours activity.
	if len(profile.ActiveHours) > 0 && !containsHour(profile.ActiveHours, in.Hour) {
		components = append(components, offHoursScore)
		reasons = append(reasons, fmt.Sprintf("Transaction at hour %d outside active hours", in.Hour))
	}

	// Same-day frequency.
	if in.TxnCountToday > highFrequencyCount {
		components = append(components, highFrequencyScore)
		reasons = append(reasons, fmt.Sprintf("High transaction count today: %d", in.TxnCountToday))
	} else if in.TxnCountToday > elevatedFrequencyCount {
		components = append(components, elevatedFrequencyScore)
		reasons = append(reasons, fmt.Sprintf("Elevated transaction count today: %d", in.TxnCountToday))
	}

	// Absolute amount tiers.
	if in.AmountCents > veryLargeAmountCents {
		components = append(components, veryLargeAmountScore)
		reasons = append(reasons, "Very large amount")
	} else if in.AmountCents > largeAmountCents {
		components = append(components, largeAmountScore)
		reasons = append(reasons, "Large amount")
	}

	// Recipient familiarity.
	if !in.KnownRecipient {
		components = append(components, unknownRecipientScore)
		reasons = append(reasons, "Recipient not in saved contacts")
	}
	if in.BalanceCents > 0 && float64(in.AmountCents) > balanceDrainRatio*float64(in.BalanceCents) {
		components = append(components, balanceDrainScore)
		reasons = append(reasons, "Amount exceeds 90% of current balance")
	}

	// Primary-plus-additive combination: the single worst signal dominates,
	// accumulating weak signals still raises the score.
	var score float64
	if len(components) > 0 {
		score = maxOf(components) + 0.1*sumOf(components)
	}

	verdict := VerdictNormal
	switch {
	case score >= e.fraudThreshold:
		verdict = VerdictFraud
	case score >= e.suspiciousThreshold:
		verdict = VerdictSuspicious
	}

	if len(reasons) == 0 && verdict == VerdictNormal {
		reasons = append(reasons, DefaultReason)
	}

	assessment := &Assessment{
		ID:          idgen.WithPrefix("risk_"),
		AccountID:   in.AccountID,
		AmountCents: in.AmountCents,
		Score:       math.Round(score*1000) / 1000, // 3 decimal places
		Verdict:     verdict,
		Reasons:     reasons,
		EvaluatedAt: e.now(),
	}

	metrics.RiskVerdictsTotal.WithLabelValues(string(verdict)).Inc()

	// Persist asynchronously (best-effort audit trail)
	if e.assessments != nil {
		go func() {
			_ = e.assessments.Record(context.Background(), assessment)
		}()
	}

	return assessment, nil
}

func containsHour(hours []int, h int) bool {
	for _, v := range hours {
		if v == h {
			return true
		}
	}
	return false
}

func maxOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func sumOf(vals []float64) float64 {
	var s float64
	for _, v := range vals {
		s += v
	}
	return s
}
