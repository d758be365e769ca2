package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/i474232898/climate-predict/internal/model"
	"github.com/i474232898/climate-predict/internal/weather"
)

// ErrDuplicateModel is returned when two models share a name.
var ErrDuplicateModel = errors.New("duplicate model name")

// Registry is an immutable name -> model mapping built once at startup.
// It needs no locking since nothing writes to it after construction.
type Registry struct {
	models map[string]weather.Model
	names  []string
}

// New builds a registry from already constructed models.
func New(models ...weather.Model) (*Registry, error) {
	r := &Registry{models: make(map[string]weather.Model, len(models))}
	for _, m := range models {
		if _, exists := r.models[m.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateModel, m.Name)
		}
		r.models[m.Name] = m
		r.names = append(r.names, m.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Load scans dir for model files and loads each one. The directory is
// created when missing, which yields an empty registry. Any file that fails
// to load aborts the scan.
func Load(dir string, log zerolog.Logger) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read model dir: %w", err)
	}

	var models []weather.Model
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != model.FileExt {
			continue
		}

		name := strings.TrimSuffix(e.Name(), model.FileExt)
		net, err := model.Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}

		models = append(models, weather.Model{
			Name:       name,
			Kind:       net.InputKind(),
			InputShape: net.InputShape(),
			Predictor:  net,
		})
	}

	r, err := New(models...)
	if err != nil {
		return nil, err
	}

	log.Info().Strs("models", r.Names()).Str("dir", dir).Msg("loaded models")
	for _, name := range r.names {
		m := r.models[name]
		log.Info().
			Str("model", name).
			Str("input_shape", m.InputShape).
			Str("input_kind", string(m.Kind)).
			Msg("model input shape")
	}

	return r, nil
}

// Get returns the model registered under name.
func (r *Registry) Get(name string) (weather.Model, bool) {
	m, ok := r.models[name]
	return m, ok
}

// Names returns the registered model names in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Len returns the number of registered models.
func (r *Registry) Len() int {
	return len(r.models)
}
