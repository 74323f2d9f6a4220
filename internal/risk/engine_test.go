package risk

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEvaluator(t *testing.T) (*Evaluator, *MemoryProfileStore) {
	t.Helper()
	profiles := NewMemoryProfileStore()
	profiles.Put(&Profile{
		AccountID:         "1234567890",
		MeanAmountCents:   10000,
		StddevAmountCents: 5000,
		ActiveHours:       []int{9, 10, 11, 12, 13, 14, 15, 16, 17},
		CreatedAt:         time.Now(),
	})
	return NewEvaluator(profiles, nil), profiles
}

func routineInput(amountCents int64) Input {
	return Input{
		AccountID:      "1234567890",
		AmountCents:    amountCents,
		Hour:           11,
		KnownRecipient: true,
		TxnCountToday:  2,
		BalanceCents:   1000000,
	}
}

func TestEvaluate_RoutineTransferIsNormal(t *testing.T) {
	e, _ := newTestEvaluator(t)

	// Slightly above the mean, known recipient, active hours.
	a, err := e.Evaluate(context.Background(), routineInput(12000))
	require.NoError(t, err)

	assert.Equal(t, VerdictNormal, a.Verdict)
	assert.Less(t, a.Score, DefaultSuspiciousThreshold)
	require.Len(t, a.Reasons, 1)
	assert.Equal(t, DefaultReason, a.Reasons[0])
}

func TestEvaluate_AmountDeviationIsSuspicious(t *testing.T) {
	e, _ := newTestEvaluator(t)

	// Three standard deviations above the mean.
	a, err := e.Evaluate(context.Background(), routineInput(25000))
	require.NoError(t, err)

	assert.Equal(t, VerdictSuspicious, a.Verdict)
	assert.GreaterOrEqual(t, a.Score, DefaultSuspiciousThreshold)
	assert.True(t, hasReasonContaining(a.Reasons, "higher than average"), "reasons: %v", a.Reasons)
}

func TestEvaluate_ExtremeDeviationIsFraud(t *testing.T) {
	e, _ := newTestEvaluator(t)

	in := routineInput(150000)
	in.KnownRecipient = false
	in.Hour = 3

	a, err := e.Evaluate(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, VerdictFraud, a.Verdict)
	assert.GreaterOrEqual(t, a.Score, DefaultFraudThreshold)
	assert.True(t, hasReasonContaining(a.Reasons, "outside active hours"), "reasons: %v", a.Reasons)
	assert.True(t, hasReasonContaining(a.Reasons, "not in saved contacts"), "reasons: %v", a.Reasons)
}

func TestEvaluate_ScoreMonotoneAboveMean(t *testing.T) {
	e, _ := newTestEvaluator(t)

	amounts := []int64{10000, 15000, 25000, 51000, 101000, 200000}
	prev := -1.0
	for _, amt := range amounts {
		a, err := e.Evaluate(context.Background(), routineInput(amt))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, a.Score, prev, "score dipped at amount %d", amt)
		prev = a.Score
	}
}

func TestEvaluate_OffHoursComponent(t *testing.T) {
	e, _ := newTestEvaluator(t)

	in := routineInput(10000) // exactly the mean, z = 0
	in.Hour = 3

	a, err := e.Evaluate(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, VerdictNormal, a.Verdict)
	assert.InDelta(t, 0.88, a.Score, 0.001) // 0.8 + 0.1*0.8
	assert.True(t, hasReasonContaining(a.Reasons, "outside active hours"), "reasons: %v", a.Reasons)
}

func TestEvaluate_FrequencyTiers(t *testing.T) {
	e, _ := newTestEvaluator(t)

	elevated := routineInput(10000)
	elevated.TxnCountToday = 7
	a, err := e.Evaluate(context.Background(), elevated)
	require.NoError(t, err)
	assert.True(t, hasReasonContaining(a.Reasons, "Elevated transaction count"), "reasons: %v", a.Reasons)

	high := routineInput(10000)
	high.TxnCountToday = 12
	a, err = e.Evaluate(context.Background(), high)
	require.NoError(t, err)
	assert.True(t, hasReasonContaining(a.Reasons, "High transaction count"), "reasons: %v", a.Reasons)
}

func TestEvaluate_BalanceDrain(t *testing.T) {
	e, _ := newTestEvaluator(t)

	in := routineInput(10000)
	in.BalanceCents = 10500 // transfer leaves under 10% behind

	a, err := e.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, hasReasonContaining(a.Reasons, "90% of current balance"), "reasons: %v", a.Reasons)
}

func TestEvaluate_UnknownAccountGetsDefaultProfile(t *testing.T) {
	profiles := NewMemoryProfileStore()
	e := NewEvaluator(profiles, nil)

	a, err := e.Evaluate(context.Background(), Input{
		AccountID:      "9999999999",
		AmountCents:    DefaultMeanAmountCents,
		Hour:           12,
		KnownRecipient: true,
		BalanceCents:   1000000,
	})
	require.NoError(t, err)

	// Default profile has no active-hours restriction and z = 0 at the mean.
	assert.Equal(t, VerdictNormal, a.Verdict)
	assert.Zero(t, a.Score)

	p, err := profiles.GetOrCreate(context.Background(), "9999999999")
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultMeanAmountCents), p.MeanAmountCents)
	assert.Equal(t, int64(DefaultStddevAmountCents), p.StddevAmountCents)
}

func TestEvaluate_ThresholdOverrides(t *testing.T) {
	e, _ := newTestEvaluator(t)
	e.WithThresholds(0.3, 0.9)

	a, err := e.Evaluate(context.Background(), routineInput(12000))
	require.NoError(t, err)
	assert.Equal(t, VerdictSuspicious, a.Verdict)
}

func TestEvaluate_RecordsAuditTrail(t *testing.T) {
	profiles := NewMemoryProfileStore()
	assessments := NewMemoryAssessmentStore()
	e := NewEvaluator(profiles, assessments)

	a, err := e.Evaluate(context.Background(), Input{
		AccountID:      "1234567890",
		AmountCents:    5000,
		Hour:           12,
		KnownRecipient: true,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a.ID, "risk_"))

	// Recording is asynchronous.
	require.Eventually(t, func() bool {
		got, err := assessments.ListByAccount(context.Background(), "1234567890", 10)
		return err == nil && len(got) == 1
	}, time.Second, 10*time.Millisecond)
}

func hasReasonContaining(reasons []string, substr string) bool {
	for _, r := range reasons {
		if strings.Contains(r, substr) {
			return true
		}
	}
	return false
}
