// Package perps is the REST and WebSocket client for the perpetual futures
// venue that carries the short hedge leg. The wire format follows the
// Binance-style futures API: signed query strings, numeric fields quoted as
// strings.
package perps

import (
	"fmt"
	"strconv"
	"time"
)

// MarkPrice is one premium-index snapshot for a perp symbol.
type MarkPrice struct {
	Symbol string
	// Mark is the venue mark price used for margining and liquidation.
	Mark  float64
	Index float64
	// FundingRate is the current per-period funding rate. Positive means
	// longs pay shorts.
	FundingRate     float64
	NextFundingTime time.Time
	Time            time.Time
}

// FundingPayment is one historical funding settlement.
type FundingPayment struct {
	Symbol string
	Rate   float64
	Time   time.Time
}

// AccountPosition is the venue's view of one open perp position.
type AccountPosition struct {
	Symbol string
	// Size is the signed position size in base asset; negative is short.
	Size             float64
	EntryPrice       float64
	MarkPrice        float64
	UnrealizedPnL    float64
	Leverage         float64
	IsolatedMargin   float64
	LiquidationPrice float64
}

// --------------------------------------------------------------------------
// Wire types
// --------------------------------------------------------------------------

type premiumIndexResponse struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	IndexPrice      string `json:"indexPrice"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
	Time            int64  `json:"time"`
}

func (r premiumIndexResponse) toMarkPrice() (MarkPrice, error) {
	mark, err := parseFloat("markPrice", r.MarkPrice)
	if err != nil {
		return MarkPrice{}, err
	}
	index, err := parseFloat("indexPrice", r.IndexPrice)
	if err != nil {
		return MarkPrice{}, err
	}
	rate, err := parseFloat("lastFundingRate", r.LastFundingRate)
	if err != nil {
		return MarkPrice{}, err
	}

	return MarkPrice{
		Symbol:          r.Symbol,
		Mark:            mark,
		Index:           index,
		FundingRate:     rate,
		NextFundingTime: time.UnixMilli(r.NextFundingTime),
		Time:            time.UnixMilli(r.Time),
	}, nil
}

type fundingRateResponse struct {
	Symbol      string `json:"symbol"`
	FundingRate string `json:"fundingRate"`
	FundingTime int64  `json:"fundingTime"`
}

func (r fundingRateResponse) toFundingPayment() (FundingPayment, error) {
	rate, err := parseFloat("fundingRate", r.FundingRate)
	if err != nil {
		return FundingPayment{}, err
	}
	return FundingPayment{
		Symbol: r.Symbol,
		Rate:   rate,
		Time:   time.UnixMilli(r.FundingTime),
	}, nil
}

type positionRiskResponse struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
	IsolatedMargin   string `json:"isolatedMargin"`
	LiquidationPrice string `json:"liquidationPrice"`
}

func (r positionRiskResponse) toAccountPosition() (AccountPosition, error) {
	pos := AccountPosition{Symbol: r.Symbol}

	var err error
	if pos.Size, err = parseFloat("positionAmt", r.PositionAmt); err != nil {
		return AccountPosition{}, err
	}
	if pos.EntryPrice, err = parseFloat("entryPrice", r.EntryPrice); err != nil {
		return AccountPosition{}, err
	}
	if pos.MarkPrice, err = parseFloat("markPrice", r.MarkPrice); err != nil {
		return AccountPosition{}, err
	}
	if pos.UnrealizedPnL, err = parseFloat("unRealizedProfit", r.UnRealizedProfit); err != nil {
		return AccountPosition{}, err
	}
	if pos.Leverage, err = parseFloat("leverage", r.Leverage); err != nil {
		return AccountPosition{}, err
	}
	if pos.IsolatedMargin, err = parseFloat("isolatedMargin", r.IsolatedMargin); err != nil {
		return AccountPosition{}, err
	}
	if pos.LiquidationPrice, err = parseFloat("liquidationPrice", r.LiquidationPrice); err != nil {
		return AccountPosition{}, err
	}
	return pos, nil
}

// markPriceEvent is the WebSocket markPrice stream payload.
type markPriceEvent struct {
	EventType   string `json:"e"`
	EventTime   int64  `json:"E"`
	Symbol      string `json:"s"`
	MarkPrice   string `json:"p"`
	IndexPrice  string `json:"i"`
	FundingRate string `json:"r"`
	NextFunding int64  `json:"T"`
}

func (ev markPriceEvent) toMarkPrice() (MarkPrice, error) {
	mark, err := parseFloat("p", ev.MarkPrice)
	if err != nil {
		return MarkPrice{}, err
	}
	index, err := parseFloat("i", ev.IndexPrice)
	if err != nil {
		return MarkPrice{}, err
	}
	rate, err := parseFloat("r", ev.FundingRate)
	if err != nil {
		return MarkPrice{}, err
	}
	return MarkPrice{
		Symbol:          ev.Symbol,
		Mark:            mark,
		Index:           index,
		FundingRate:     rate,
		NextFundingTime: time.UnixMilli(ev.NextFunding),
		Time:            time.UnixMilli(ev.EventTime),
	}, nil
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func parseFloat(field, raw string) (float64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("perps: parse %s %q: %w", field, raw, err)
	}
	return v, nil
}
