package server

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"PerpParity/internal/core"
	"PerpParity/internal/event"
	fpmath "PerpParity/internal/math"
	"PerpParity/internal/observability"
	"PerpParity/internal/query"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	trader = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	t0     = time.Unix(1_700_000_000, 0).UTC()
)

func chainRef(block uint64, logIndex uint) event.ChainRef {
	return event.ChainRef{
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*10 + uint64(logIndex))),
		LogIndex:    logIndex,
		BlockNumber: block,
		BlockTime:   t0.Add(time.Duration(block) * 2 * time.Second),
	}
}

// newModel returns a core with one 10 WETH x10 long opened at block 100.
func newModel(t *testing.T) *core.ParityCore {
	t.Helper()
	cfg := core.DefaultCoreConfig()
	cfg.LRUCapacity = 64
	c, err := core.NewParityCore(cfg, make(chan core.CoreOutput, 16), make(chan core.CoreOutput, 16), nil, nil, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, c.ProcessEvent(&event.PairParamsUpdated{
		ChainRef:    chainRef(100, 0),
		FeePerBlock: big.NewInt(24595),
		FeeExponent: 1,
		MaxOi:       fpmath.Weth(10),
	}))
	require.NoError(t, c.ProcessEvent(&event.TradeOpened{
		ChainRef:   chainRef(100, 1),
		Trader:     trader,
		Collateral: fpmath.Weth(10),
		Leverage:   10,
		Buy:        true,
		OpenPrice:  new(big.Int).Mul(big.NewInt(10), big.NewInt(1e10)),
	}))
	return c
}

type fakeParity struct {
	summary    *query.SummaryResponse
	filter     query.MismatchFilter
	rollupKind *string
}

func (f *fakeParity) Summary(context.Context) (*query.SummaryResponse, error) {
	return f.summary, nil
}

func (f *fakeParity) ListMismatches(_ context.Context, filter query.MismatchFilter) (*query.MismatchPage, error) {
	f.filter = filter
	return &query.MismatchPage{Mismatches: []query.CheckResponse{}}, nil
}

func (f *fakeParity) GetCheck(context.Context, uuid.UUID) (*query.CheckResponse, error) {
	return nil, query.ErrNotFound
}

func (f *fakeParity) VerifyIntegrity(context.Context) (*query.IntegrityReport, error) {
	return &query.IntegrityReport{IsHealthy: true}, nil
}

func (f *fakeParity) Rollup(_ context.Context, kind *string) (*query.RollupResponse, error) {
	f.rollupKind = kind
	return &query.RollupResponse{Rows: []query.RollupRow{{Kind: "epoch", Field: "current_epoch", Checks: 4, Mismatches: 1}}}, nil
}

type fakeInjector struct {
	gotType string
	gotBody string
}

func (f *fakeInjector) Inject(_ context.Context, eventType string, data []byte) (event.Event, error) {
	f.gotType = eventType
	f.gotBody = string(data)
	if eventType == "Bogus" {
		return nil, errors.New("unknown event type: Bogus")
	}
	return &event.EpochPolled{ChainRef: chainRef(5, 0)}, nil
}

func newTestMux(t *testing.T, parity *fakeParity, inj *fakeInjector) http.Handler {
	t.Helper()
	health := observability.NewHealthChecker()
	health.SetReady(true)
	mux, err := NewGatewayMux(&Deps{
		Model:  newModel(t),
		Parity: parity,
		Ingest: inj,
		Health: health,
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	return mux
}

func get(t *testing.T, h http.Handler, url string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestQuoteClose(t *testing.T) {
	h := newTestMux(t, &fakeParity{}, &fakeInjector{})

	rec, body := get(t, h, "/v1/quotes/close?trader="+trader.Hex()+"&pair=0&index=0&block=1100&price=120000000000")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "29999999999800000000", body["net"])
	assert.Equal(t, "29.9999999998", body["net_weth"])
	assert.Equal(t, "200000000", body["borrowing_fee"])
	assert.Equal(t, float64(1), body["as_of_sequence"])
}

func TestQuoteClose_NoPriceIsPrecondition(t *testing.T) {
	h := newTestMux(t, &fakeParity{}, &fakeInjector{})

	rec, body := get(t, h, "/v1/quotes/close?trader="+trader.Hex()+"&pair=0&index=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["message"], "no price")
}

func TestQuoteBorrowing(t *testing.T) {
	h := newTestMux(t, &fakeParity{}, &fakeInjector{})

	rec, body := get(t, h, "/v1/quotes/borrowing?trader="+trader.Hex()+"&pair=0&index=0&block=1100")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "200000000", body["fee"])
	assert.Equal(t, "0.0000000002", body["fee_weth"])
}

func TestQuote_Errors(t *testing.T) {
	h := newTestMux(t, &fakeParity{}, &fakeInjector{})

	tests := []struct {
		name string
		url  string
		code int
	}{
		{"bad trader", "/v1/quotes/funding?trader=nope&pair=0&index=0", http.StatusBadRequest},
		{"bad pair", "/v1/quotes/funding?trader=" + trader.Hex() + "&pair=x", http.StatusBadRequest},
		{"unknown position", "/v1/quotes/funding?trader=" + trader.Hex() + "&pair=0&index=7", http.StatusNotFound},
		{"block regression", "/v1/quotes/borrowing?trader=" + trader.Hex() + "&pair=0&index=0&block=5", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := get(t, h, tt.url)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestGetPair(t *testing.T) {
	h := newTestMux(t, &fakeParity{}, &fakeInjector{})

	rec, body := get(t, h, "/v1/pairs/0?block=200")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "100000000000000000000", body["open_interest_long"])
	assert.Equal(t, float64(200), body["block"])
	assert.Equal(t, float64(1), body["positions"])

	rec, _ = get(t, h, "/v1/pairs/9")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetEpoch_NotStarted(t *testing.T) {
	h := newTestMux(t, &fakeParity{}, &fakeInjector{})

	rec, _ := get(t, h, "/v1/epoch")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParityRoutes(t *testing.T) {
	parity := &fakeParity{summary: &query.SummaryResponse{TotalChecks: 3, AsOfSequence: 9}}
	h := newTestMux(t, parity, &fakeInjector{})

	rec, body := get(t, h, "/v1/parity/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["total_checks"])

	rec, _ = get(t, h, "/v1/parity/mismatches?kind=epoch&pair=2&before=50&limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, parity.filter.Kind)
	assert.Equal(t, "epoch", *parity.filter.Kind)
	assert.Equal(t, int64(2), *parity.filter.PairIndex)
	assert.Equal(t, int64(50), *parity.filter.BeforeSequence)
	assert.Equal(t, 10, parity.filter.Limit)

	rec, body = get(t, h, "/v1/parity/rollup?kind=epoch")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, parity.rollupKind)
	assert.Equal(t, "epoch", *parity.rollupKind)
	assert.Len(t, body["rows"], 1)

	rec, _ = get(t, h, "/v1/parity/mismatches?before=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = get(t, h, "/v1/parity/checks/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = get(t, h, "/v1/parity/checks/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInjectEvent(t *testing.T) {
	inj := &fakeInjector{}
	h := newTestMux(t, &fakeParity{}, inj)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/admin/events/EpochPolled", strings.NewReader(`{"block_number":5}`)))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "EpochPolled", inj.gotType)
	assert.Equal(t, `{"block_number":5}`, inj.gotBody)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/admin/events/Bogus", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthRoutes(t *testing.T) {
	h := newTestMux(t, &fakeParity{}, &fakeInjector{})

	rec, _ := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, body := get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body["status"])
}
