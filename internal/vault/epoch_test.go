package vault_test

import (
	"math/big"
	"testing"
	"time"

	fpmath "PerpParity/internal/math"
	"PerpParity/internal/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epochStart = time.Unix(1_700_000_000, 0).UTC()

func newModel(t *testing.T) *vault.Model {
	t.Helper()
	m, err := vault.NewModel(vault.DefaultEpochConfig())
	require.NoError(t, err)
	return m
}

func fulfillAll(t *testing.T, m *vault.Model, s *vault.EpochState, jobs []uint64, answers ...int64) *big.Int {
	t.Helper()
	var median *big.Int
	for i, a := range answers {
		out, err := m.Fulfill(s, jobs[i], fpmath.Weth(a))
		require.NoError(t, err)
		require.True(t, out.Accepted)
		if out.Median != nil {
			median = out.Median
		}
	}
	return median
}

func TestEpochLifecycle(t *testing.T) {
	m := newModel(t)
	s := vault.NewEpochState(epochStart)
	require.Equal(t, uint64(1), s.CurrentEpoch)

	out := m.TryAdvance(s, epochStart)
	assert.Equal(t, vault.OutcomeNoop, out.Kind)
	assert.Equal(t, 0, s.NextEpochValuesRequestCount)

	now := epochStart.Add(2 * time.Hour)
	rounds := []struct {
		jobs    []uint64
		answers []int64
		median  int64
	}{
		{[]uint64{1, 2, 3}, []int64{1000, 1001, 1002}, 1001},
		{[]uint64{7, 8, 9}, []int64{1003, 1004, 1005}, 1004},
		{[]uint64{13, 14, 15}, []int64{1006, 1007, 1008}, 1007},
		{[]uint64{19, 20, 21}, []int64{1009, 1010, 1011}, 1010},
	}

	for i, r := range rounds {
		out := m.TryAdvance(s, now)
		require.Equal(t, vault.OutcomeRequested, out.Kind, "round %d", i+1)
		assert.Equal(t, uint64(i+1), out.RequestID)
		assert.Equal(t, r.jobs[0], out.JobIDs[0])
		assert.Len(t, out.JobIDs, 6)
		assert.Equal(t, i+1, s.NextEpochValuesRequestCount)

		median := fulfillAll(t, m, s, r.jobs, r.answers...)
		assert.Equal(t, fpmath.Weth(r.median), median)
		assert.Equal(t, fpmath.Weth(r.median), s.NextEpochValues[i])

		now = now.Add(30 * time.Minute)
	}

	assert.Equal(t, vault.PhaseRollingEpoch, s.Phase(m.Config()))

	out = m.TryAdvance(s, now)
	require.Equal(t, vault.OutcomeRolled, out.Kind)
	assert.Equal(t, uint64(2), out.Epoch)
	assert.Equal(t, uint64(2), s.CurrentEpoch)
	// (1001 + 1004 + 1007 + 1010) / 4
	assert.Equal(t, "1005500000000000000000", out.Increment.String())
	assert.Equal(t, "1005500000000000000000", s.CurrentEpochPositiveOpenPnl.String())

	assert.Empty(t, s.NextEpochValues)
	assert.Equal(t, 0, s.NextEpochValuesRequestCount)
	assert.Equal(t, vault.PhaseAwaitingFirstSample, s.Phase(m.Config()))
	assert.Equal(t, now, s.EpochStart)
}

func TestTryAdvance_IdempotentWithinGate(t *testing.T) {
	m := newModel(t)
	s := vault.NewEpochState(epochStart)

	now := epochStart.Add(2 * time.Hour)
	first := m.TryAdvance(s, now)
	require.Equal(t, vault.OutcomeRequested, first.Kind)

	lastJob := s.LastJobID
	second := m.TryAdvance(s, now.Add(29*time.Minute))
	assert.Equal(t, vault.OutcomeNoop, second.Kind)
	assert.Equal(t, 1, s.NextEpochValuesRequestCount)
	assert.Equal(t, lastJob, s.LastJobID)
	assert.Equal(t, now, s.LastRequestTime)
}

func TestTryAdvance_FirstGateIsInclusive(t *testing.T) {
	m := newModel(t)
	s := vault.NewEpochState(epochStart)

	assert.Equal(t, vault.OutcomeNoop, m.TryAdvance(s, epochStart.Add(2*time.Hour-time.Second)).Kind)
	assert.Equal(t, vault.OutcomeRequested, m.TryAdvance(s, epochStart.Add(2*time.Hour)).Kind)
}

func TestTryAdvance_WaitsForOutstandingMedians(t *testing.T) {
	m := newModel(t)
	s := vault.NewEpochState(epochStart)

	now := epochStart.Add(2 * time.Hour)
	for i := 0; i < 4; i++ {
		out := m.TryAdvance(s, now)
		require.Equal(t, vault.OutcomeRequested, out.Kind)
		if i < 3 {
			fulfillAll(t, m, s, out.JobIDs, 1, 2, 3)
		}
		now = now.Add(30 * time.Minute)
	}

	out := m.TryAdvance(s, now.Add(time.Hour))
	assert.Equal(t, vault.OutcomeNoop, out.Kind)
	assert.Equal(t, uint64(1), s.CurrentEpoch)
	assert.Equal(t, vault.PhaseSampling, s.Phase(m.Config()))
}

func TestFulfill_UnknownJob(t *testing.T) {
	m := newModel(t)
	s := vault.NewEpochState(epochStart)

	_, err := m.Fulfill(s, 1, fpmath.Weth(1))
	assert.ErrorIs(t, err, vault.ErrUnknownJob)
}

func TestFulfill_AnswersAfterRolloverExpire(t *testing.T) {
	m := newModel(t)
	s := vault.NewEpochState(epochStart)

	now := epochStart.Add(2 * time.Hour)
	var last vault.AdvanceOutcome
	for i := 0; i < 4; i++ {
		last = m.TryAdvance(s, now)
		require.Equal(t, vault.OutcomeRequested, last.Kind)
		fulfillAll(t, m, s, last.JobIDs, 1, 2, 3)
		now = now.Add(30 * time.Minute)
	}
	require.Equal(t, vault.OutcomeRolled, m.TryAdvance(s, now).Kind)
	require.Equal(t, uint64(2), s.CurrentEpoch)

	// The last round fanned out to jobs 19..24; 22..24 answer after the roll.
	for _, job := range last.JobIDs[3:] {
		out, err := m.Fulfill(s, job, fpmath.Weth(9))
		require.NoError(t, err, "job %d", job)
		assert.True(t, out.Expired)
		assert.False(t, out.Accepted)
		assert.Nil(t, out.Median)
	}
	assert.Empty(t, s.NextEpochValues)
	assert.Equal(t, 0, s.NextEpochValuesRequestCount)

	_, err := m.Fulfill(s, s.LastJobID+1, fpmath.Weth(9))
	assert.ErrorIs(t, err, vault.ErrUnknownJob)
}

func TestFulfill_LateAnswersIgnored(t *testing.T) {
	m := newModel(t)
	s := vault.NewEpochState(epochStart)

	out := m.TryAdvance(s, epochStart.Add(2*time.Hour))
	fulfillAll(t, m, s, out.JobIDs, 5, 1, 3)

	late, err := m.Fulfill(s, out.JobIDs[3], fpmath.Weth(100))
	require.NoError(t, err)
	assert.False(t, late.Accepted)
	assert.Nil(t, late.Median)
	require.Len(t, s.NextEpochValues, 1)
	assert.Equal(t, fpmath.Weth(3), s.NextEpochValues[0])
}

func TestResetRequests(t *testing.T) {
	m := newModel(t)
	s := vault.NewEpochState(epochStart)

	now := epochStart.Add(2 * time.Hour)
	first := m.TryAdvance(s, now)
	fulfillAll(t, m, s, first.JobIDs, 1, 2, 3)
	second := m.TryAdvance(s, now.Add(30*time.Minute))
	require.Equal(t, vault.OutcomeRequested, second.Kind)

	m.ResetRequests(s)
	assert.Equal(t, 0, s.NextEpochValuesRequestCount)
	assert.Empty(t, s.NextEpochValues)

	stale, err := m.Fulfill(s, second.JobIDs[0], fpmath.Weth(1))
	require.NoError(t, err)
	assert.True(t, stale.Expired)
	assert.False(t, stale.Accepted)
	assert.Empty(t, s.NextEpochValues)

	// epoch start is long past, so the next poll re-requests immediately
	third := m.TryAdvance(s, now.Add(31*time.Minute))
	require.Equal(t, vault.OutcomeRequested, third.Kind)
	assert.Equal(t, uint64(13), third.JobIDs[0])
}

func TestMedian(t *testing.T) {
	ints := func(vs ...int64) []*big.Int {
		out := make([]*big.Int, len(vs))
		for i, v := range vs {
			out[i] = big.NewInt(v)
		}
		return out
	}

	tests := []struct {
		name   string
		values []*big.Int
		want   int64
	}{
		{"sorted triple", ints(1000, 1001, 1002), 1001},
		{"unsorted triple", ints(1002, 1000, 1001), 1001},
		{"even floors", ints(1, 2), 1},
		{"even negative floors", ints(-1, -2), -2},
		{"even four", ints(4, 1, 3, 10), 3},
		{"single", ints(7), 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, vault.Median(tt.values).Int64())
		})
	}

	in := ints(3, 1, 2)
	vault.Median(in)
	assert.Equal(t, int64(3), in[0].Int64(), "input order preserved")
}

func TestEpochConfig_Validate(t *testing.T) {
	cfg := vault.DefaultEpochConfig()
	require.NoError(t, cfg.Validate())

	cfg.JobsPerRequest = 2
	assert.Error(t, cfg.Validate())

	cfg = vault.DefaultEpochConfig()
	cfg.RequestsPerEpoch = 0
	_, err := vault.NewModel(cfg)
	assert.Error(t, err)
}

func TestEpochState_Clone(t *testing.T) {
	m := newModel(t)
	s := vault.NewEpochState(epochStart)
	out := m.TryAdvance(s, epochStart.Add(2*time.Hour))

	c := s.Clone()
	fulfillAll(t, m, s, out.JobIDs, 1, 2, 3)

	assert.Empty(t, c.NextEpochValues)
	req, ok := c.RequestForJob(out.JobIDs[0])
	require.True(t, ok)
	assert.Empty(t, req.Answers)
}
