package vault

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	fpmath "PerpParity/internal/math"
)

var ErrUnknownJob = errors.New("unknown oracle job")

// EpochConfig is the vault's open-PnL sampling cadence.
type EpochConfig struct {
	FirstRequestDelay time.Duration // since epoch start, before the first request
	RequestInterval   time.Duration // since the previous request
	RequestsPerEpoch  int
	MinAnswers        int // oracle answers reduced to one median
	JobsPerRequest    int // oracle jobs fanned out per request
}

// DefaultEpochConfig returns the deployed cadence: 2h, then 30m, 4 medians of 3.
func DefaultEpochConfig() EpochConfig {
	return EpochConfig{
		FirstRequestDelay: 2 * time.Hour,
		RequestInterval:   30 * time.Minute,
		RequestsPerEpoch:  4,
		MinAnswers:        3,
		JobsPerRequest:    6,
	}
}

func (c EpochConfig) Validate() error {
	if c.FirstRequestDelay < 0 || c.RequestInterval < 0 {
		return fmt.Errorf("epoch delays must be non-negative: first=%s interval=%s",
			c.FirstRequestDelay, c.RequestInterval)
	}
	if c.RequestsPerEpoch <= 0 {
		return fmt.Errorf("requests per epoch must be positive, got %d", c.RequestsPerEpoch)
	}
	if c.MinAnswers <= 0 {
		return fmt.Errorf("min answers must be positive, got %d", c.MinAnswers)
	}
	if c.JobsPerRequest < c.MinAnswers {
		return fmt.Errorf("jobs per request (%d) below min answers (%d)", c.JobsPerRequest, c.MinAnswers)
	}
	return nil
}

// Phase of the sampling cycle.
type Phase int

const (
	PhaseAwaitingFirstSample Phase = iota
	PhaseSampling
	PhaseRollingEpoch
)

func (p Phase) String() string {
	switch p {
	case PhaseSampling:
		return "sampling"
	case PhaseRollingEpoch:
		return "rolling_epoch"
	default:
		return "awaiting_first_sample"
	}
}

// Request is one open-PnL sampling round.
type Request struct {
	ID      uint64
	JobIDs  []uint64
	Answers []*big.Int
	Median  *big.Int // set once MinAnswers arrived
}

// EpochState is owned by the caller and mutated only through Model.
type EpochState struct {
	CurrentEpoch                uint64
	EpochStart                  time.Time
	CurrentEpochPositiveOpenPnl *big.Int
	NextEpochValues             []*big.Int
	NextEpochValuesRequestCount int
	LastRequestTime             time.Time // zero until the first request of the epoch
	LastRequestID               uint64
	LastJobID                   uint64

	Requests map[uint64]*Request // by request id, current epoch only
	jobs     map[uint64]uint64   // job id -> request id
}

// NewEpochState starts epoch 1 at start.
func NewEpochState(start time.Time) *EpochState {
	return &EpochState{
		CurrentEpoch:                1,
		EpochStart:                  start,
		CurrentEpochPositiveOpenPnl: new(big.Int),
		Requests:                    make(map[uint64]*Request),
		jobs:                        make(map[uint64]uint64),
	}
}

// Phase reports where the state sits in the sampling cycle.
func (s *EpochState) Phase(cfg EpochConfig) Phase {
	switch {
	case s.NextEpochValuesRequestCount == 0:
		return PhaseAwaitingFirstSample
	case s.NextEpochValuesRequestCount >= cfg.RequestsPerEpoch && len(s.NextEpochValues) >= cfg.RequestsPerEpoch:
		return PhaseRollingEpoch
	default:
		return PhaseSampling
	}
}

// RequestForJob returns the request a job id was allocated to.
func (s *EpochState) RequestForJob(jobID uint64) (*Request, bool) {
	reqID, ok := s.jobs[jobID]
	if !ok {
		return nil, false
	}
	req, ok := s.Requests[reqID]
	return req, ok
}

// Clone returns a deep copy, used for read-only views.
func (s *EpochState) Clone() *EpochState {
	out := *s
	out.CurrentEpochPositiveOpenPnl = new(big.Int).Set(s.CurrentEpochPositiveOpenPnl)
	out.NextEpochValues = cloneInts(s.NextEpochValues)
	out.Requests = make(map[uint64]*Request, len(s.Requests))
	for id, r := range s.Requests {
		cp := *r
		cp.JobIDs = append([]uint64(nil), r.JobIDs...)
		cp.Answers = cloneInts(r.Answers)
		if r.Median != nil {
			cp.Median = new(big.Int).Set(r.Median)
		}
		out.Requests[id] = &cp
	}
	out.jobs = make(map[uint64]uint64, len(s.jobs))
	for j, r := range s.jobs {
		out.jobs[j] = r
	}
	return &out
}

// OutcomeKind describes what TryAdvance did.
type OutcomeKind int

const (
	OutcomeNoop OutcomeKind = iota
	OutcomeRequested
	OutcomeRolled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRequested:
		return "requested"
	case OutcomeRolled:
		return "rolled"
	default:
		return "noop"
	}
}

type AdvanceOutcome struct {
	Kind      OutcomeKind
	RequestID uint64   // OutcomeRequested
	JobIDs    []uint64 // OutcomeRequested
	Increment *big.Int // OutcomeRolled: average of the epoch's medians
	Epoch     uint64   // epoch after the call
}

type FulfillOutcome struct {
	RequestID uint64
	Accepted  bool     // false when the request already had its median, or expired
	Expired   bool     // job belonged to a round dropped by a rollover or reset
	Median    *big.Int // set when this answer completed the request
}

// Model applies the vault epoch transitions to an EpochState.
type Model struct {
	cfg EpochConfig
}

func NewModel(cfg EpochConfig) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Model{cfg: cfg}, nil
}

func (m *Model) Config() EpochConfig {
	return m.cfg
}

func (m *Model) gateOpen(s *EpochState, now time.Time) bool {
	if s.NextEpochValuesRequestCount == 0 || s.LastRequestTime.IsZero() {
		return !now.Before(s.EpochStart.Add(m.cfg.FirstRequestDelay))
	}
	return !now.Before(s.LastRequestTime.Add(m.cfg.RequestInterval))
}

// TryAdvance issues the next sampling request or rolls the epoch once the
// time gate has elapsed. Before the gate, or while requests are still
// awaiting answers, it leaves s untouched.
func (m *Model) TryAdvance(s *EpochState, now time.Time) AdvanceOutcome {
	if !m.gateOpen(s, now) {
		return AdvanceOutcome{Kind: OutcomeNoop, Epoch: s.CurrentEpoch}
	}

	if s.NextEpochValuesRequestCount < m.cfg.RequestsPerEpoch {
		return m.issueRequest(s, now)
	}

	if len(s.NextEpochValues) < m.cfg.RequestsPerEpoch {
		return AdvanceOutcome{Kind: OutcomeNoop, Epoch: s.CurrentEpoch}
	}

	return m.rollEpoch(s, now)
}

func (m *Model) issueRequest(s *EpochState, now time.Time) AdvanceOutcome {
	if s.Requests == nil || s.jobs == nil {
		s.Requests = make(map[uint64]*Request)
		s.jobs = make(map[uint64]uint64)
	}

	s.LastRequestID++
	req := &Request{
		ID:     s.LastRequestID,
		JobIDs: make([]uint64, 0, m.cfg.JobsPerRequest),
	}
	for i := 0; i < m.cfg.JobsPerRequest; i++ {
		s.LastJobID++
		req.JobIDs = append(req.JobIDs, s.LastJobID)
		s.jobs[s.LastJobID] = req.ID
	}
	s.Requests[req.ID] = req
	s.NextEpochValuesRequestCount++
	s.LastRequestTime = now

	return AdvanceOutcome{
		Kind:      OutcomeRequested,
		RequestID: req.ID,
		JobIDs:    append([]uint64(nil), req.JobIDs...),
		Epoch:     s.CurrentEpoch,
	}
}

func (m *Model) rollEpoch(s *EpochState, now time.Time) AdvanceOutcome {
	if s.CurrentEpochPositiveOpenPnl == nil {
		s.CurrentEpochPositiveOpenPnl = new(big.Int)
	}

	sum := new(big.Int)
	for _, v := range s.NextEpochValues[:m.cfg.RequestsPerEpoch] {
		sum.Add(sum, v)
	}
	avg := fpmath.DivRound(sum, fpmath.Int(int64(m.cfg.RequestsPerEpoch)), fpmath.RoundFloor)

	s.CurrentEpochPositiveOpenPnl = new(big.Int).Add(s.CurrentEpochPositiveOpenPnl, avg)
	s.CurrentEpoch++
	s.EpochStart = now
	m.clearRequests(s)

	return AdvanceOutcome{Kind: OutcomeRolled, Increment: avg, Epoch: s.CurrentEpoch}
}

// Fulfill records an oracle answer for jobID. The MinAnswers-th answer
// closes the request and appends its median to NextEpochValues; later
// answers are ignored. Job ids only grow, so an id at or below LastJobID
// that no current request owns was issued to a dropped round and expires
// quietly; anything else is ErrUnknownJob.
func (m *Model) Fulfill(s *EpochState, jobID uint64, answer *big.Int) (FulfillOutcome, error) {
	req, ok := s.RequestForJob(jobID)
	if !ok {
		if jobID != 0 && jobID <= s.LastJobID {
			return FulfillOutcome{Expired: true}, nil
		}
		return FulfillOutcome{}, fmt.Errorf("%w: job=%d epoch=%d", ErrUnknownJob, jobID, s.CurrentEpoch)
	}
	if answer == nil {
		return FulfillOutcome{}, fmt.Errorf("nil answer for job %d", jobID)
	}

	if req.Median != nil {
		return FulfillOutcome{RequestID: req.ID}, nil
	}

	req.Answers = append(req.Answers, new(big.Int).Set(answer))
	out := FulfillOutcome{RequestID: req.ID, Accepted: true}

	if len(req.Answers) >= m.cfg.MinAnswers {
		req.Median = Median(req.Answers)
		s.NextEpochValues = append(s.NextEpochValues, new(big.Int).Set(req.Median))
		out.Median = new(big.Int).Set(req.Median)
	}
	return out, nil
}

// ResetRequests drops the outstanding sampling round of the current epoch.
// Job ids keep increasing so stale answers expire instead of matching a new
// request.
func (m *Model) ResetRequests(s *EpochState) {
	m.clearRequests(s)
}

func (m *Model) clearRequests(s *EpochState) {
	s.NextEpochValues = nil
	s.NextEpochValuesRequestCount = 0
	s.LastRequestTime = time.Time{}
	s.Requests = make(map[uint64]*Request)
	s.jobs = make(map[uint64]uint64)
}

// Median returns the middle of the sorted values; for an even count, the
// floor average of the two middle values. Input order is preserved.
func Median(values []*big.Int) *big.Int {
	if len(values) == 0 {
		return new(big.Int)
	}

	sorted := cloneInts(values)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Cmp(sorted[j]) < 0
	})

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	sum := new(big.Int).Add(sorted[mid-1], sorted[mid])
	return fpmath.DivRound(sum, fpmath.Int(2), fpmath.RoundFloor)
}

func cloneInts(in []*big.Int) []*big.Int {
	if in == nil {
		return nil
	}
	out := make([]*big.Int, len(in))
	for i, v := range in {
		out[i] = new(big.Int).Set(v)
	}
	return out
}
