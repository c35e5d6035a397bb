package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowquant/flowrisk/internal/domain"
)

type fakeEvaluateService struct {
	previewCalls int
	lastPos      domain.Position
	lastMkt      *domain.MarketContext
	previewErr   error
	evaluateErr  error
}

func (f *fakeEvaluateService) Preview(_ context.Context, pos domain.Position, mkt *domain.MarketContext) (domain.RiskReport, error) {
	f.previewCalls++
	f.lastPos = pos
	f.lastMkt = mkt
	if f.previewErr != nil {
		return domain.RiskReport{}, f.previewErr
	}
	return domain.RiskReport{
		PositionID:  pos.PositionID(),
		Kind:        pos.Kind(),
		Warnings:    []string{},
		EvaluatedAt: time.Now().UTC(),
		Looping:     &domain.LoopingMetrics{HealthFactor: 1.8},
	}, nil
}

func (f *fakeEvaluateService) EvaluateAll(context.Context) error {
	return f.evaluateErr
}

func loopingRequestBody(t *testing.T, market string) string {
	t.Helper()

	body := `{
		"kind": "looping",
		"position": {
			"id": "loop-1",
			"wallet": "0xabc",
			"initial_flow": 1000,
			"total_staked_flow": 2400,
			"total_stflow": 2200,
			"total_borrowed_flow": 1400,
			"loop_count": 3,
			"collateral_factor": 0.7,
			"liquidation_threshold": 0.8,
			"liquidation_penalty": 0.05,
			"staking_apr": 0.08,
			"borrow_rate": 0.05,
			"flow_price": 0.85,
			"stflow_price": 0.92
		}`
	if market != "" {
		body += `, "market": ` + market
	}
	return body + `}`
}

func postEvaluate(h *EvaluateHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/evaluate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Evaluate(rec, req)
	return rec
}

func TestEvaluateReturnsReport(t *testing.T) {
	t.Parallel()

	svc := &fakeEvaluateService{}
	h := NewEvaluateHandler(svc, slog.Default())

	rec := postEvaluate(h, loopingRequestBody(t, ""))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, svc.previewCalls)
	assert.Nil(t, svc.lastMkt)

	pos, ok := svc.lastPos.(domain.LoopingPosition)
	require.True(t, ok)
	assert.Equal(t, "loop-1", pos.ID)

	var report domain.RiskReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "loop-1", report.PositionID)
	require.NotNil(t, report.Looping)
	assert.InDelta(t, 1.8, float64(report.Looping.HealthFactor), 1e-9)
}

func TestEvaluatePassesMarketOverride(t *testing.T) {
	t.Parallel()

	svc := &fakeEvaluateService{}
	h := NewEvaluateHandler(svc, slog.Default())

	market := `{"flow_price": 0.9, "stflow_price": 0.95, "flow_volatility": 0.6, "stflow_flow_correlation": 0.98}`
	rec := postEvaluate(h, loopingRequestBody(t, market))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.lastMkt)
	assert.InDelta(t, 0.9, svc.lastMkt.FlowPrice, 1e-9)
}

func TestEvaluateRejectsEmptyMarketOverride(t *testing.T) {
	t.Parallel()

	svc := &fakeEvaluateService{}
	h := NewEvaluateHandler(svc, slog.Default())

	// A zero-value market override must fail validation up front, not reach
	// the calculators as zero prices.
	rec := postEvaluate(h, loopingRequestBody(t, `{}`))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, svc.previewCalls)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["error"], "flow_price")
}

func TestEvaluateRejectsInvalidPosition(t *testing.T) {
	t.Parallel()

	svc := &fakeEvaluateService{}
	h := NewEvaluateHandler(svc, slog.Default())

	rec := postEvaluate(h, `{"kind": "looping", "position": {"id": "loop-2", "initial_flow": 0}}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, svc.previewCalls)
}

func TestEvaluateRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	svc := &fakeEvaluateService{}
	h := NewEvaluateHandler(svc, slog.Default())

	rec := postEvaluate(h, `{"kind": "carry-trade", "position": {}}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, svc.previewCalls)
}

func TestEvaluateRejectsMalformedBody(t *testing.T) {
	t.Parallel()

	h := NewEvaluateHandler(&fakeEvaluateService{}, slog.Default())

	rec := postEvaluate(h, `{"kind": "looping"`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvaluateAllReportsCompletion(t *testing.T) {
	t.Parallel()

	h := NewEvaluateHandler(&fakeEvaluateService{}, slog.Default())

	req := httptest.NewRequest(http.MethodPost, "/api/evaluate/run", nil)
	rec := httptest.NewRecorder()
	h.EvaluateAll(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp["status"])
	assert.NotEmpty(t, resp["completed_at"])
}
