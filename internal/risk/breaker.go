package risk

import (
	"time"

	"github.com/sony/gobreaker"
)

// breaker wraps sony/gobreaker's state machine behind the CanTrade/record
// shape the teacher's hand-rolled risk/circuit_breaker.go exposed, so a
// loss streak opens the circuit and a cooldown window half-opens it again.
type breaker struct {
	cb *gobreaker.CircuitBreaker
}

func newBreaker(name string, lossStreakCap int, cooldown time.Duration) *breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0, // counts never reset except by Timeout/state change
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= lossStreakCap
		},
	}
	return &breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// allow reports whether a trade may proceed; it does not itself place one.
func (b *breaker) allow() bool {
	return b.cb.State() != gobreaker.StateOpen
}

// record feeds the outcome of a resolved trade back into the breaker.
func (b *breaker) record(won bool) {
	_, _ = b.cb.Execute(func() (interface{}, error) {
		if !won {
			return nil, errLoss
		}
		return nil, nil
	})
}

var errLoss = &lossError{}

type lossError struct{}

func (*lossError) Error() string { return "trade recorded as a loss" }
