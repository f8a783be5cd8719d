// Package binance implements the external market-data collaborators: the
// live kline websocket feed and the REST batch/snapshot client.
package binance

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"main/internal/model"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"
)

// Feed is the push kline stream. One connection multiplexes every
// subscribed (symbol, interval) stream.
type Feed struct {
	wss   *ws.WebSocket
	reqID atomic.Int64
}

func NewFeed(ctx context.Context, url string) *Feed {
	return &Feed{wss: ws.New(ctx, url)}
}

func (f *Feed) Start(ctx context.Context) error {
	if err := f.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start wss")
	}
	return nil
}

func (f *Feed) Len() int {
	return f.wss.Len()
}

func (f *Feed) Close() {
	f.wss.Close()
}

type streamRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type streamResponse struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

func streamName(symbol, interval string) string {
	return fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), interval)
}

// SubscribeKline subscribes the 'Kline/Candlestick Stream' for the key.
func (f *Feed) SubscribeKline(ctx context.Context, symbol, interval string) error {
	return f.send(ctx, "SUBSCRIBE", streamName(symbol, interval), true)
}

// UnsubscribeKline stops live updates for the key. Stored bars are left
// in place; retention removes them eventually.
func (f *Feed) UnsubscribeKline(ctx context.Context, symbol, interval string) error {
	return f.send(ctx, "UNSUBSCRIBE", streamName(symbol, interval), false)
}

func (f *Feed) send(ctx context.Context, method, stream string, appendIntoRegister bool) error {
	id := f.reqID.Add(1)
	if err := f.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, ws *ws.WebSocket) error {
			payload := streamRequest{
				Method: method,
				Params: []string{stream},
				ID:     id,
			}
			if err := ws.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write stream payload").With("payload", payload)
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			var resp streamResponse
			if err := m.Unmarshal(&resp); err != nil || resp.ID != id {
				return false, nil
			}
			if resp.Result != nil {
				return false, errors.Errorf("%s %s, err: %+v", strings.ToLower(method), stream, resp.Result)
			}
			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait")
	}

	return nil
}

// ObserveKlines delivers every kline event until the stream or the
// context ends. The returned done channel closes when the underlying
// stream closes, which is the pipeline's resubscribe trigger.
func (f *Feed) ObserveKlines(ctx context.Context, handler func(e KlineEvent)) (stop func(), done <-chan struct{}) {
	ch, cancel := f.wss.Subscribe()
	closed := make(chan struct{})

	go func() {
		defer cancel()
		defer close(closed)
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					logs.Warnf("kline stream closed")
					return
				}

				event, ok := ws.ReadMessage[KlineEvent](m)
				if !ok || event.EventType != "kline" {
					continue
				}

				handler(event)
			}
		}
	}()

	return cancel, closed
}

// ObserveBars adapts ObserveKlines to the pipeline's stored
// representation.
func (f *Feed) ObserveBars(ctx context.Context, handler func(bar model.Bar)) (stop func(), done <-chan struct{}) {
	return f.ObserveKlines(ctx, func(e KlineEvent) {
		handler(e.Bar())
	})
}

// Bar converts the payload into the stored representation.
func (e KlineEvent) Bar() model.Bar {
	k := e.Kline
	return model.Bar{
		Symbol:      e.Symbol,
		Interval:    k.Interval,
		OpenTime:    k.OpenTime,
		CloseTime:   k.CloseTime,
		Open:        f64(k.Open),
		High:        f64(k.High),
		Low:         f64(k.Low),
		Close:       f64(k.Close),
		Volume:      f64(k.Volume),
		QuoteVolume: f64(k.QuoteVolume),
		TradeCount:  k.TradeCount,
		IsFinal:     k.Closed,
	}
}
