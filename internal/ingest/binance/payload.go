package binance

import (
	"strconv"

	"github.com/yanun0323/decimal"
)

// KlineEvent is one kline stream payload.
type KlineEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     Kline  `json:"k"`
}

// Kline carries one still-forming or closed candle. Prices and volumes
// arrive as decimal strings.
type Kline struct {
	OpenTime    int64           `json:"t"`
	CloseTime   int64           `json:"T"`
	Symbol      string          `json:"s"`
	Interval    string          `json:"i"`
	Open        decimal.Decimal `json:"o"`
	Close       decimal.Decimal `json:"c"`
	High        decimal.Decimal `json:"h"`
	Low         decimal.Decimal `json:"l"`
	Volume      decimal.Decimal `json:"v"`
	TradeCount  int64           `json:"n"`
	Closed      bool            `json:"x"`
	QuoteVolume decimal.Decimal `json:"q"`
}

func f64(d decimal.Decimal) float64 {
	v, _ := strconv.ParseFloat(d.String(), 64)
	return v
}
