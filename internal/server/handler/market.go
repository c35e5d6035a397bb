package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/flowquant/flowrisk/internal/domain"
)

// defaultPriceAssets are returned by GetPrices when the client does not
// request specific assets.
var defaultPriceAssets = []string{"FLOW", "stFLOW", "FLOWUSDT"}

// MarketService defines the methods that the market handler requires.
type MarketService interface {
	Current(ctx context.Context) (domain.MarketContext, error)
	Prices(ctx context.Context, assets []string) (map[string]float64, error)
	Price(ctx context.Context, asset string) (float64, time.Time, error)
}

// MarketHandler serves the collected market snapshot and price endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

// GetMarket returns the latest collected market context. A stale or missing
// snapshot maps to 503 so callers can tell collection has stopped.
// GET /api/market
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	mkt, err := h.markets.Current(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrStaleMarketData) {
			writeError(w, http.StatusServiceUnavailable, "no fresh market snapshot")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get market failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get market snapshot")
		return
	}

	writeJSON(w, http.StatusOK, mkt)
}

// GetPrices returns the latest cached prices for the requested assets.
// GET /api/market/prices?assets=FLOW,stFLOW
func (h *MarketHandler) GetPrices(w http.ResponseWriter, r *http.Request) {
	assets := defaultPriceAssets
	if v := r.URL.Query().Get("assets"); v != "" {
		assets = assets[:0:0]
		for _, a := range strings.Split(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				assets = append(assets, a)
			}
		}
	}

	prices, err := h.markets.Prices(r.Context(), assets)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get prices failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get prices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"prices": prices})
}

// GetPrice returns one asset's latest price together with its observation
// time, so callers can judge freshness themselves.
// GET /api/market/prices/{asset}
func (h *MarketHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	asset := pathParam(r, "asset")

	price, at, err := h.markets.Price(r.Context(), asset)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no price for asset")
			return
		}
		if errors.Is(err, domain.ErrStaleMarketData) {
			writeError(w, http.StatusServiceUnavailable, "price is stale")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get price failed",
			slog.String("asset", asset),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get price")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"asset":        asset,
		"price":        price,
		"collected_at": at,
	})
}
