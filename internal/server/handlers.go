package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"PerpParity/internal/event"
	"PerpParity/internal/query"
	"PerpParity/internal/state"
	"PerpParity/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	gethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ModelView is the read side of the parity core.
type ModelView interface {
	QuoteClose(key state.PositionKey, price *big.Int, block uint64) (*state.CloseQuote, error)
	Position(key state.PositionKey) (*state.Position, bool)
	PendingPair(pairIndex uint64, block uint64) (*state.PairState, error)
	PositionsByPair(pairIndex uint64) []*state.Position
	Pairs() []uint64
	LatestPrice(pairIndex uint64) (state.PricePoint, bool)
	SuggestedFundingRate(pairIndex uint64, window time.Duration) (*big.Int, bool)
	OpenPnl() (*big.Int, int)
	Epoch() (*vault.EpochState, vault.Phase, bool)
	GetSequence() int64
}

// ParityReader serves persisted check results.
type ParityReader interface {
	Summary(ctx context.Context) (*query.SummaryResponse, error)
	ListMismatches(ctx context.Context, f query.MismatchFilter) (*query.MismatchPage, error)
	GetCheck(ctx context.Context, id uuid.UUID) (*query.CheckResponse, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
	Rollup(ctx context.Context, kind *string) (*query.RollupResponse, error)
}

// EventInjector queues a hand-supplied event for the core.
type EventInjector interface {
	Inject(ctx context.Context, eventType string, data []byte) (event.Event, error)
}

const (
	defaultFundingWindow = time.Hour
	maxInjectBody        = 1 << 20
)

type handlers struct {
	deps *Deps
}

// --- quotes ---

func (h *handlers) quoteClose(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	key, block, err := positionParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	price, err := h.closePrice(r, key)
	if err != nil {
		writeError(w, err)
		return
	}
	q, err := h.deps.Model.QuoteClose(key, price, block)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, closeQuoteResponse{
		Position:     key.String(),
		Block:        q.Block,
		ClosePrice:   q.ClosePrice.String(),
		ProfitP:      q.ProfitP.String(),
		ProfitPct:    scaled(q.ProfitP, 10),
		Gross:        q.Gross.String(),
		BorrowingFee: q.BorrowingFee.String(),
		FundingFee:   q.FundingFee.String(),
		Net:          q.Net.String(),
		NetWETH:      weth(q.Net),
		AsOfSequence: h.asOf(),
	})
}

func (h *handlers) quoteBorrowing(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	h.feeQuote(w, r, func(q *state.CloseQuote) *big.Int { return q.BorrowingFee })
}

func (h *handlers) quoteFunding(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	h.feeQuote(w, r, func(q *state.CloseQuote) *big.Int { return q.FundingFee })
}

// feeQuote prices at the open price; fees do not depend on the close price.
func (h *handlers) feeQuote(w http.ResponseWriter, r *http.Request, pick func(*state.CloseQuote) *big.Int) {
	key, block, err := positionParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	pos, ok := h.deps.Model.Position(key)
	if !ok {
		writeError(w, state.ErrUnknownPosition)
		return
	}
	q, err := h.deps.Model.QuoteClose(key, pos.OpenPrice, block)
	if err != nil {
		writeError(w, err)
		return
	}
	fee := pick(q)
	writeJSON(w, http.StatusOK, feeQuoteResponse{
		Position:     key.String(),
		Block:        q.Block,
		Fee:          fee.String(),
		FeeWETH:      weth(fee),
		AsOfSequence: h.asOf(),
	})
}

func (h *handlers) closePrice(r *http.Request, key state.PositionKey) (*big.Int, error) {
	if raw := r.URL.Query().Get("price"); raw != "" {
		p, ok := gethmath.ParseBig256(raw)
		if !ok || p.Sign() <= 0 {
			return nil, status.Errorf(codes.InvalidArgument, "invalid price %q", raw)
		}
		return p, nil
	}
	pt, ok := h.deps.Model.LatestPrice(key.PairIndex)
	if !ok {
		return nil, status.Errorf(codes.FailedPrecondition, "no price for pair %d; pass price", key.PairIndex)
	}
	return pt.Price, nil
}

// --- pairs and epoch ---

func (h *handlers) listPairs(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pairs":          h.deps.Model.Pairs(),
		"as_of_sequence": h.asOf(),
	})
}

func (h *handlers) getPair(w http.ResponseWriter, r *http.Request, params map[string]string) {
	pairIndex, err := strconv.ParseUint(params["pair"], 10, 64)
	if err != nil {
		writeError(w, status.Errorf(codes.InvalidArgument, "invalid pair %q", params["pair"]))
		return
	}
	block, err := uintParam(r, "block")
	if err != nil {
		writeError(w, err)
		return
	}
	window := defaultFundingWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		if window, err = time.ParseDuration(raw); err != nil || window <= 0 {
			writeError(w, status.Errorf(codes.InvalidArgument, "invalid window %q", raw))
			return
		}
	}

	pair, err := h.deps.Model.PendingPair(pairIndex, block)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := pairResponse{
		PairIndex:           pairIndex,
		GroupIndex:          pair.Params.GroupIndex,
		FeePerBlock:         pair.Params.FeePerBlock.String(),
		FeeExponent:         pair.Params.FeeExponent,
		MaxOi:               pair.Params.MaxOi.String(),
		FundingFeePerBlockP: pair.Params.FundingFeePerBlockP.String(),
		Block:               pair.Borrowing.CurrentBlock,
		OpenInterestLong:    pair.OI.Long.String(),
		OpenInterestShort:   pair.OI.Short.String(),
		OpenInterestWETH:    [2]string{weth(pair.OI.Long), weth(pair.OI.Short)},
		AccFeeLong:          pair.Borrowing.AccFeeLong.String(),
		AccFeeShort:         pair.Borrowing.AccFeeShort.String(),
		FundingValueLong:    pair.Funding.ValueLong.String(),
		FundingValueShort:   pair.Funding.ValueShort.String(),
		Positions:           len(h.deps.Model.PositionsByPair(pairIndex)),
		AsOfSequence:        h.asOf(),
	}
	if pt, ok := h.deps.Model.LatestPrice(pairIndex); ok {
		resp.LatestPrice = scaled(pt.Price, 10)
		resp.LatestPriceBlock = pt.Block
	}
	if rate, ok := h.deps.Model.SuggestedFundingRate(pairIndex, window); ok {
		resp.SuggestedFundingFeePerBlockP = rate.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) getEpoch(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s, phase, ok := h.deps.Model.Epoch()
	if !ok {
		writeError(w, status.Error(codes.FailedPrecondition, "epoch not started"))
		return
	}
	openPnl, unpriced := h.deps.Model.OpenPnl()

	resp := epochResponse{
		CurrentEpoch:                s.CurrentEpoch,
		EpochStart:                  s.EpochStart,
		Phase:                       phase.String(),
		CurrentEpochPositiveOpenPnl: s.CurrentEpochPositiveOpenPnl.String(),
		NextEpochValuesRequestCount: s.NextEpochValuesRequestCount,
		NextEpochValues:             bigStrings(s.NextEpochValues),
		ModelOpenPnl:                openPnl.String(),
		ModelOpenPnlWETH:            weth(openPnl),
		UnpricedPositions:           unpriced,
		AsOfSequence:                h.asOf(),
	}
	if !s.LastRequestTime.IsZero() {
		t := s.LastRequestTime
		resp.LastRequestTime = &t
	}
	for _, req := range s.Requests {
		rr := requestResponse{ID: req.ID, JobIDs: req.JobIDs, Answers: len(req.Answers)}
		if req.Median != nil {
			rr.Median = req.Median.String()
		}
		resp.Requests = append(resp.Requests, rr)
	}
	sortRequests(resp.Requests)
	writeJSON(w, http.StatusOK, resp)
}

// --- parity results ---

func (h *handlers) paritySummary(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	sum, err := h.deps.Parity.Summary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *handlers) parityRollup(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var kind *string
	if k := r.URL.Query().Get("kind"); k != "" {
		kind = &k
	}
	resp, err := h.deps.Parity.Rollup(r.Context(), kind)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) listMismatches(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := r.URL.Query()
	var f query.MismatchFilter
	if kind := q.Get("kind"); kind != "" {
		f.Kind = &kind
	}
	var err error
	if f.PairIndex, err = optionalInt(q.Get("pair"), "pair"); err != nil {
		writeError(w, err)
		return
	}
	if f.BeforeSequence, err = optionalInt(q.Get("before"), "before"); err != nil {
		writeError(w, err)
		return
	}
	if raw := q.Get("limit"); raw != "" {
		if f.Limit, err = strconv.Atoi(raw); err != nil {
			writeError(w, status.Errorf(codes.InvalidArgument, "invalid limit %q", raw))
			return
		}
	}

	page, err := h.deps.Parity.ListMismatches(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handlers) getCheck(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := uuid.Parse(params["id"])
	if err != nil {
		writeError(w, status.Errorf(codes.InvalidArgument, "invalid check id: %v", err))
		return
	}
	c, err := h.deps.Parity.GetCheck(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// --- admin ---

func (h *handlers) verifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	report, err := h.deps.Parity.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handlers) injectEvent(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if h.deps.Ingest == nil {
		writeError(w, status.Error(codes.Unimplemented, "admin ingest disabled"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInjectBody))
	if err != nil {
		writeError(w, status.Errorf(codes.InvalidArgument, "read body: %v", err))
		return
	}

	evt, err := h.deps.Ingest.Inject(r.Context(), params["type"], body)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			writeError(w, status.Error(codes.Unavailable, "core busy"))
			return
		}
		writeError(w, status.Errorf(codes.InvalidArgument, "%v", err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"event_type":      string(evt.EventType()),
		"idempotency_key": evt.IdempotencyKey(),
	})
}

// --- plumbing ---

// instrument records request count, latency and error codes per endpoint.
func (h *handlers) instrument(endpoint string, fn runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r, params)

		if m := h.deps.Metrics; m != nil {
			m.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
			m.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
			if rec.status >= 400 {
				m.QueryErrors.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
			}
		}
		if rec.status >= 500 {
			h.deps.Logger.Error().Str("endpoint", endpoint).Int("status", rec.status).Msg("request failed")
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// asOf is the last applied sequence, -1 before the first event.
func (h *handlers) asOf() int64 {
	return h.deps.Model.GetSequence() - 1
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// writeError maps domain errors to gRPC codes and those to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	st, ok := status.FromError(err)
	if !ok {
		switch {
		case errors.Is(err, state.ErrUnknownPosition),
			errors.Is(err, state.ErrUnknownPair),
			errors.Is(err, query.ErrNotFound):
			st = status.New(codes.NotFound, err.Error())
		case errors.Is(err, state.ErrBlockRegression):
			st = status.New(codes.InvalidArgument, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			st = status.New(codes.DeadlineExceeded, err.Error())
		default:
			st = status.New(codes.Internal, err.Error())
		}
	}
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), errorBody{Code: int(st.Code()), Message: st.Message()})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func positionParams(r *http.Request) (state.PositionKey, uint64, error) {
	q := r.URL.Query()
	trader := q.Get("trader")
	if !common.IsHexAddress(trader) {
		return state.PositionKey{}, 0, status.Errorf(codes.InvalidArgument, "invalid trader %q", trader)
	}
	pair, err := strconv.ParseUint(q.Get("pair"), 10, 64)
	if err != nil {
		return state.PositionKey{}, 0, status.Errorf(codes.InvalidArgument, "invalid pair %q", q.Get("pair"))
	}
	index, err := uintParam(r, "index")
	if err != nil {
		return state.PositionKey{}, 0, err
	}
	block, err := uintParam(r, "block")
	if err != nil {
		return state.PositionKey{}, 0, err
	}
	return state.PositionKey{Trader: common.HexToAddress(trader), PairIndex: pair, Index: index}, block, nil
}

// uintParam parses an optional unsigned query parameter; absent is 0.
func uintParam(r *http.Request, name string) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "invalid %s %q", name, raw)
	}
	return v, nil
}

func optionalInt(raw, name string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("invalid %s %q", name, raw))
	}
	return &v, nil
}
