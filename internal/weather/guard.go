package weather

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig controls the per-model circuit breaker.
type BreakerConfig struct {
	// Failures is the number of consecutive inference failures that opens the
	// breaker. Zero disables it.
	Failures int
	// Cooldown is how long the breaker stays open before letting a trial
	// request through.
	Cooldown time.Duration
}

var (
	// ErrModelNotFound is wrapped by ModelNotFoundError.
	ErrModelNotFound = errors.New("model not found")
	// ErrBreakerOpen is returned while a model's circuit breaker refuses calls.
	ErrBreakerOpen = errors.New("circuit breaker open")
	// ErrNonFinite is returned when a model produces NaN or an infinity.
	ErrNonFinite = errors.New("non-finite prediction")
)

// inputError is implemented by predictor errors caused by the request rather
// than by the model. They do not count against the breaker.
type inputError interface {
	InputError() bool
}

func isInputError(err error) bool {
	var ie inputError
	return errors.As(err, &ie) && ie.InputError()
}

// guard runs predictor invocations for one model, converting panics into
// errors and tripping a circuit breaker on repeated failures.
type guard struct {
	model   string
	circuit *gobreaker.CircuitBreaker
}

func newGuard(model string, cfg BreakerConfig) *guard {
	g := &guard{model: model}
	if cfg.Failures <= 0 {
		return g
	}

	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	threshold := uint32(cfg.Failures)
	g.circuit = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        model,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isInputError(err)
		},
	})
	return g
}

func (g *guard) invoke(p Predictor, x [][]float64) ([]float64, error) {
	if g.circuit == nil {
		return safePredict(p, x)
	}

	result, err := g.circuit.Execute(func() (interface{}, error) {
		out, err := safePredict(p, x)
		if err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: model '%s' is temporarily unavailable after repeated failures", ErrBreakerOpen, g.model)
		}
		return nil, err
	}

	out, ok := result.([]float64)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from circuit breaker")
	}
	return out, nil
}

func (g *guard) state() string {
	if g.circuit == nil {
		return "disabled"
	}
	return g.circuit.State().String()
}

func safePredict(p Predictor, x [][]float64) (out []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%v", r)
		}
	}()
	return p.Predict(x)
}
