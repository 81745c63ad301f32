package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Trade is a single print from the market stream. Timestamp is unix milliseconds.
type Trade struct {
	Symbol    string
	Timestamp int64
	Price     float64
	Volume    float64
}

func (t *Trade) Time() time.Time { return time.UnixMilli(t.Timestamp).UTC() }

// Bar is an OHLCV record for one (symbol, timeframe) bucket. Bucket is the bucket start.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"tf"`
	Bucket    time.Time `json:"bucket"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Trades    int       `json:"trades,omitempty"`
}

var ErrInvalidBar = errors.New("invalid bar")

// Validate checks the OHLC invariants: finite positive prices, low <= open,close <= high.
func (b *Bar) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidBar)
	}
	if b.Bucket.IsZero() {
		return fmt.Errorf("%w: zero bucket", ErrInvalidBar)
	}
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value", ErrInvalidBar)
		}
	}
	if b.Low > b.High || b.Open < b.Low || b.Open > b.High || b.Close < b.Low || b.Close > b.High {
		return fmt.Errorf("%w: ohlc out of range o=%v h=%v l=%v c=%v", ErrInvalidBar, b.Open, b.High, b.Low, b.Close)
	}
	return nil
}

// StreamKey identifies one engine stream.
func StreamKey(symbol, tf string) string { return symbol + "|" + tf }

// BarMessage is the wire schema of the bars topic. T is the bucket start in unix ms.
type BarMessage struct {
	Symbol string  `json:"symbol"`
	TF     string  `json:"tf"`
	T      int64   `json:"t"`
	O      float64 `json:"o"`
	H      float64 `json:"h"`
	L      float64 `json:"l"`
	C      float64 `json:"c"`
	V      float64 `json:"v"`
	N      int     `json:"n,omitempty"`
}

func NewBarMessage(b *Bar) BarMessage {
	return BarMessage{
		Symbol: b.Symbol, TF: b.Timeframe, T: b.Bucket.UnixMilli(),
		O: b.Open, H: b.High, L: b.Low, C: b.Close, V: b.Volume, N: b.Trades,
	}
}

func (m BarMessage) Bar() *Bar {
	return &Bar{
		Symbol: m.Symbol, Timeframe: m.TF, Bucket: time.UnixMilli(m.T).UTC(),
		Open: m.O, High: m.H, Low: m.L, Close: m.C, Volume: m.V, Trades: m.N,
	}
}
