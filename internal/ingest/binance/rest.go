package binance

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"main/internal/model"
	"main/internal/universe"

	"github.com/go-resty/resty/v2"
	"github.com/yanun0323/errors"
)

const (
	pathKlines       = "/fapi/v1/klines"
	pathExchangeInfo = "/fapi/v1/exchangeInfo"
	pathTicker24h    = "/fapi/v1/ticker/24hr"
)

// REST is the batch/snapshot market-data client: historical klines for
// backfill and the 24h snapshot for universe selection.
type REST struct {
	client *resty.Client
}

func NewREST(baseURL string, timeout time.Duration) *REST {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetHeader("Accept", "application/json")
	return &REST{client: client}
}

// FetchRecentBars returns up to limit most recent closed bars ascending.
// The exchange includes the still-forming candle at the tail; it is
// dropped so backfill only ever writes final bars.
func (r *REST) FetchRecentBars(ctx context.Context, symbol, interval string, limit int) ([]model.Bar, error) {
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   symbol,
			"interval": interval,
			"limit":    strconv.Itoa(limit + 1),
		}).
		Get(pathKlines)
	if err != nil {
		return nil, errors.Wrap(err, "fetch klines")
	}
	if resp.IsError() {
		return nil, errors.Errorf("fetch klines: status %s, body %s", resp.Status(), resp.String())
	}

	var rows [][]any
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return nil, errors.Wrap(err, "unmarshal klines")
	}

	nowMilli := time.Now().UnixMilli()
	bars := make([]model.Bar, 0, len(rows))
	for _, row := range rows {
		bar, err := klineRowBar(symbol, interval, row)
		if err != nil {
			return nil, err
		}
		if bar.CloseTime > nowMilli {
			continue // still forming
		}
		bar.IsFinal = true
		bars = append(bars, bar)
	}
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

// kline row layout: [0] open time, [1] open, [2] high, [3] low, [4] close,
// [5] volume, [6] close time, [7] quote volume, [8] trade count, ...
func klineRowBar(symbol, interval string, row []any) (model.Bar, error) {
	if len(row) < 9 {
		return model.Bar{}, errors.Errorf("kline row too short: %d fields", len(row))
	}
	return model.Bar{
		Symbol:      symbol,
		Interval:    interval,
		OpenTime:    asInt64(row[0]),
		Open:        asFloat(row[1]),
		High:        asFloat(row[2]),
		Low:         asFloat(row[3]),
		Close:       asFloat(row[4]),
		Volume:      asFloat(row[5]),
		CloseTime:   asInt64(row[6]),
		QuoteVolume: asFloat(row[7]),
		TradeCount:  asInt64(row[8]),
	}, nil
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol       string `json:"symbol"`
		ContractType string `json:"contractType"`
		QuoteAsset   string `json:"quoteAsset"`
		Status       string `json:"status"`
	} `json:"symbols"`
}

type ticker24h struct {
	Symbol      string `json:"symbol"`
	QuoteVolume string `json:"quoteVolume"`
}

// FetchMarketSnapshot joins tradable USDT perpetuals with their 24h quote
// volume.
func (r *REST) FetchMarketSnapshot(ctx context.Context) ([]universe.Snapshot, error) {
	var info exchangeInfo
	resp, err := r.client.R().
		SetContext(ctx).
		SetResult(&info).
		Get(pathExchangeInfo)
	if err != nil {
		return nil, errors.Wrap(err, "fetch exchange info")
	}
	if resp.IsError() {
		return nil, errors.Errorf("fetch exchange info: status %s", resp.Status())
	}

	tradable := make(map[string]struct{}, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.ContractType == "PERPETUAL" && s.QuoteAsset == "USDT" && s.Status == "TRADING" {
			tradable[s.Symbol] = struct{}{}
		}
	}

	var tickers []ticker24h
	resp, err = r.client.R().
		SetContext(ctx).
		SetResult(&tickers).
		Get(pathTicker24h)
	if err != nil {
		return nil, errors.Wrap(err, "fetch 24h tickers")
	}
	if resp.IsError() {
		return nil, errors.Errorf("fetch 24h tickers: status %s", resp.Status())
	}

	snapshot := make([]universe.Snapshot, 0, len(tickers))
	for _, t := range tickers {
		if _, ok := tradable[t.Symbol]; !ok {
			continue
		}
		volume, err := strconv.ParseFloat(t.QuoteVolume, 64)
		if err != nil {
			continue
		}
		snapshot = append(snapshot, universe.Snapshot{
			Symbol:         t.Symbol,
			QuoteVolume24h: volume,
		})
	}
	return snapshot, nil
}

func asInt64(v any) int64 {
	switch value := v.(type) {
	case float64:
		return int64(value)
	case string:
		n, _ := strconv.ParseInt(value, 10, 64)
		return n
	case json.Number:
		n, _ := value.Int64()
		return n
	default:
		return 0
	}
}

func asFloat(v any) float64 {
	switch value := v.(type) {
	case float64:
		return value
	case string:
		f, _ := strconv.ParseFloat(value, 64)
		return f
	case json.Number:
		f, _ := value.Float64()
		return f
	default:
		return 0
	}
}
