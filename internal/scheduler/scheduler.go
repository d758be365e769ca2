package scheduler

import (
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"github.com/i474232898/climate-predict/internal/weather"
)

// StatsSource provides per-model usage for the periodic report.
type StatsSource interface {
	Stats() []weather.ModelStats
}

// Scheduler periodically logs how many predictions each model has served.
type Scheduler struct {
	scheduler *gocron.Scheduler
	source    StatsSource
	interval  time.Duration
	log       zerolog.Logger
}

// New creates a new Scheduler.
func New(interval time.Duration, source StatsSource, log zerolog.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		source:    source,
		interval:  interval,
		log:       log,
	}
}

// Start schedules the report job and starts the underlying scheduler.
// A non-positive interval disables the job.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		s.log.Info().Msg("scheduler: stats interval not set; nothing to schedule")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).WaitForSchedule().Do(s.Report)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Report logs a single stats snapshot.
func (s *Scheduler) Report() {
	stats := s.source.Stats()
	if len(stats) == 0 {
		s.log.Info().Msg("scheduler: no models loaded")
		return
	}

	var total int64
	for _, st := range stats {
		total += st.PredictionsServed
		s.log.Info().
			Str("model", st.Name).
			Str("input_kind", string(st.InputKind)).
			Int64("predictions_served", st.PredictionsServed).
			Msg("scheduler: model stats")
	}
	s.log.Info().Int("models", len(stats)).Int64("predictions_served", total).Msg("scheduler: stats report complete")
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// Jobs returns the number of scheduled jobs.
func (s *Scheduler) Jobs() int {
	return len(s.scheduler.Jobs())
}
