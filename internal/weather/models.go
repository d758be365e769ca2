package weather

import "encoding/json"

// FeatureNames lists the six input features in the order every model and the
// interpreter expect them.
var FeatureNames = [...]string{
	"temperature",
	"co2",
	"sea_level",
	"precipitation",
	"humidity",
	"wind_speed",
}

// FeatureCount is the number of values in a complete feature vector.
const FeatureCount = len(FeatureNames)

// InputKind describes how a model wants its features shaped.
type InputKind string

const (
	// InputFlatVector models take all features as one row.
	InputFlatVector InputKind = "flat_vector"
	// InputPerFeatureSequence models are invoked once per feature with a
	// single-timestep, single-feature sequence.
	InputPerFeatureSequence InputKind = "per_feature_sequence"
)

// Predictor runs inference on one sample. x holds one row per timestep.
type Predictor interface {
	Predict(x [][]float64) ([]float64, error)
}

// Model is a registry entry: a named predictor plus its declared input kind.
type Model struct {
	Name       string
	Kind       InputKind
	InputShape string // diagnostic only
	Predictor  Predictor
}

// Registry is the read-only lookup the service dispatches against.
type Registry interface {
	Get(name string) (Model, bool)
	Names() []string
}

// Prediction is the result of one dispatch.
type Prediction struct {
	Model         string
	Kind          InputKind
	InputFeatures []float64
	// Rows holds one prediction vector for flat models, or one per input
	// feature for sequence models.
	Rows    [][]float64
	Summary string
}

// Values returns the predictions in their response shape: a flat vector for
// flat models, a list of vectors for sequence models.
func (p Prediction) Values() interface{} {
	if p.Kind == InputPerFeatureSequence {
		return p.Rows
	}
	if len(p.Rows) == 0 {
		return []float64{}
	}
	return p.Rows[0]
}

// MarshalJSON encodes the prediction in its response shape.
func (p Prediction) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Model         string      `json:"model"`
		InputFeatures []float64   `json:"input_features"`
		Predictions   interface{} `json:"predictions"`
		Summary       string      `json:"summary"`
	}{
		Model:         p.Model,
		InputFeatures: p.InputFeatures,
		Predictions:   p.Values(),
		Summary:       p.Summary,
	})
}

// ModelStats is a per-model usage summary.
type ModelStats struct {
	Name              string    `json:"name"`
	InputKind         InputKind `json:"input_kind"`
	InputShape        string    `json:"input_shape"`
	PredictionsServed int64     `json:"predictions_served"`
}
