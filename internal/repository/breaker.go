package repository

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"

	applogger "SwingPull/pkg/logger"
)

// ErrBreakerOpen is returned without calling the backend while the breaker is open.
var ErrBreakerOpen = errors.New("storage circuit open")

// BreakerSettings controls when a WriteBreaker trips.
type BreakerSettings struct {
	ConsecutiveFailures uint32
	MinRequests         uint32
	FailureRatio        float64
	Interval            time.Duration // window for the counts while closed
	Timeout             time.Duration // open -> half-open
	HalfOpenRequests    uint32
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveFailures: 3,
		MinRequests:         20,
		FailureRatio:        0.05,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// WriteBreaker wraps backend writes in a gobreaker circuit.
type WriteBreaker struct {
	cb *gobreaker.CircuitBreaker
	l  *applogger.Logger
}

func NewWriteBreaker(name string) *WriteBreaker {
	return NewWriteBreakerWithSettings(name, DefaultBreakerSettings())
}

func NewWriteBreakerWithSettings(name string, set BreakerSettings) *WriteBreaker {
	wb := &WriteBreaker{}
	wb.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: set.HalfOpenRequests,
		Interval:    set.Interval,
		Timeout:     set.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.ConsecutiveFailures >= set.ConsecutiveFailures {
				return true
			}
			return c.Requests >= set.MinRequests &&
				float64(c.TotalFailures)/float64(c.Requests) > set.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if wb.l != nil {
				wb.l.Warn("circuit breaker state changed",
					applogger.String("breaker", name),
					applogger.String("from", from.String()),
					applogger.String("to", to.String()),
				)
			}
		},
	})
	return wb
}

func (b *WriteBreaker) SetLogger(l *applogger.Logger) { b.l = l }

// Do runs fn unless the circuit is open.
func (b *WriteBreaker) Do(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrBreakerOpen
	}
	return err
}

func (b *WriteBreaker) State() string { return b.cb.State().String() }
