package weather

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/i474232898/climate-predict/internal/metrics"
)

// SummarySeparator joins per-feature summaries of sequence models.
const SummarySeparator = " | "

// ModelNotFoundError reports an unknown model together with the models that
// are available.
type ModelNotFoundError struct {
	Name      string
	Available []string
}

func (e *ModelNotFoundError) Error() string {
	quoted := make([]string, len(e.Available))
	for i, n := range e.Available {
		quoted[i] = "'" + n + "'"
	}
	return fmt.Sprintf("Model '%s' not found. Available models: [%s]", e.Name, strings.Join(quoted, ", "))
}

func (e *ModelNotFoundError) Unwrap() error { return ErrModelNotFound }

// Service dispatches prediction requests to the models of a registry.
type Service struct {
	registry Registry
	log      zerolog.Logger

	// Both maps are populated once in NewService and only read afterwards.
	guards map[string]*guard
	served map[string]*atomic.Int64
}

// NewService creates a Service over a fully loaded registry.
func NewService(registry Registry, breaker BreakerConfig, log zerolog.Logger) *Service {
	s := &Service{
		registry: registry,
		log:      log,
		guards:   make(map[string]*guard),
		served:   make(map[string]*atomic.Int64),
	}
	for _, name := range registry.Names() {
		s.guards[name] = newGuard(name, breaker)
		s.served[name] = new(atomic.Int64)
	}
	return s
}

// Names lists the registered model names.
func (s *Service) Names() []string {
	return s.registry.Names()
}

// Predict runs features through the named model and interprets the output.
//
// Sequence models are invoked once per feature with a 1×1 sequence and yield
// one prediction row and one summary segment per feature. Flat models are
// invoked once with the whole feature vector.
func (s *Service) Predict(ctx context.Context, name string, features []float64) (Prediction, error) {
	m, ok := s.registry.Get(name)
	if !ok {
		return Prediction{}, &ModelNotFoundError{Name: name, Available: s.registry.Names()}
	}

	g, ok := s.guards[name]
	if !ok {
		g = newGuard(name, BreakerConfig{})
	}

	result := Prediction{
		Model:         name,
		Kind:          m.Kind,
		InputFeatures: features,
	}

	switch m.Kind {
	case InputPerFeatureSequence:
		summaries := make([]string, 0, len(features))
		for _, v := range features {
			if err := ctx.Err(); err != nil {
				return Prediction{}, err
			}
			out, err := s.invoke(g, m, [][]float64{{v}})
			if err != nil {
				return Prediction{}, err
			}
			result.Rows = append(result.Rows, out)
			summaries = append(summaries, Interpret(out))
		}
		result.Summary = strings.Join(summaries, SummarySeparator)

	default:
		out, err := s.invoke(g, m, [][]float64{features})
		if err != nil {
			return Prediction{}, err
		}
		result.Rows = [][]float64{out}
		result.Summary = Interpret(out)
	}

	if c, ok := s.served[name]; ok {
		c.Add(1)
	}
	metrics.PredictionsTotal.WithLabelValues(name, string(m.Kind), "ok").Inc()
	return result, nil
}

func (s *Service) invoke(g *guard, m Model, x [][]float64) ([]float64, error) {
	start := time.Now()
	out, err := g.invoke(m.Predictor, x)
	metrics.InferenceDuration.WithLabelValues(m.Name).Observe(time.Since(start).Seconds())
	if err == nil && !finite(out) {
		err = fmt.Errorf("model '%s' produced a %w", m.Name, ErrNonFinite)
	}
	if err != nil {
		metrics.PredictionsTotal.WithLabelValues(m.Name, string(m.Kind), "error").Inc()
		s.log.Warn().
			Err(err).
			Str("model", m.Name).
			Str("breaker", g.state()).
			Msg("inference failed")
		return nil, err
	}
	return out, nil
}

func finite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Stats returns per-model usage, sorted by model name.
func (s *Service) Stats() []ModelStats {
	names := s.registry.Names()
	sort.Strings(names)

	stats := make([]ModelStats, 0, len(names))
	for _, name := range names {
		m, ok := s.registry.Get(name)
		if !ok {
			continue
		}
		var served int64
		if c, ok := s.served[name]; ok {
			served = c.Load()
		}
		stats = append(stats, ModelStats{
			Name:              name,
			InputKind:         m.Kind,
			InputShape:        m.InputShape,
			PredictionsServed: served,
		})
	}
	return stats
}
