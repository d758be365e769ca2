package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/climate-predict/internal/model"
	"github.com/i474232898/climate-predict/internal/registry"
	"github.com/i474232898/climate-predict/internal/weather"
)

type fixedPredictor struct {
	out []float64
	err error
}

func (p fixedPredictor) Predict([][]float64) ([]float64, error) {
	return p.out, p.err
}

type countingPredictor struct {
	calls int
}

func (p *countingPredictor) Predict(x [][]float64) ([]float64, error) {
	p.calls++
	v := x[0][0]
	return []float64{v, 400, 1, v, 50, v}, nil
}

func annModel(t *testing.T) weather.Model {
	t.Helper()
	kernel := make([][]float64, 6)
	for i := range kernel {
		kernel[i] = make([]float64, 6)
		kernel[i][i] = 1
	}
	net, err := model.Build(model.File{Layers: []model.LayerSpec{
		{Type: model.LayerDense, Kernel: kernel, Bias: make([]float64, 6)},
	}})
	require.NoError(t, err)
	return weather.Model{
		Name:       "ann_model",
		Kind:       net.InputKind(),
		InputShape: net.InputShape(),
		Predictor:  net,
	}
}

func newTestApp(t *testing.T, models ...weather.Model) *fiber.App {
	t.Helper()
	reg, err := registry.New(models...)
	require.NoError(t, err)

	svc := weather.NewService(reg, weather.BreakerConfig{}, zerolog.Nop())
	app := fiber.New(fiber.Config{Views: NewViews()})
	RegisterRoutes(app, svc, "climate-predict")
	return app
}

func postJSON(t *testing.T, app *fiber.App, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	var payload map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp, payload
}

func postForm(t *testing.T, app *fiber.App, values url.Values) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := app.Test(req)
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func validForm(modelName string) url.Values {
	return url.Values{
		"model_name":    {modelName},
		"temperature":   {"5"},
		"co2":           {"400"},
		"sea_level":     {"0.5"},
		"precipitation": {"2"},
		"humidity":      {"60"},
		"wind_speed":    {"8"},
	}
}

func TestPredictJSONFlatModel(t *testing.T) {
	app := newTestApp(t, annModel(t))

	req := httptest.NewRequest(http.MethodPost, "/predict",
		strings.NewReader(`{"model_name":"ann_model","features":[5,400,0.5,2,60,8]}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Model         string    `json:"model"`
		InputFeatures []float64 `json:"input_features"`
		Predictions   []float64 `json:"predictions"`
		Summary       string    `json:"summary"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))

	assert.Equal(t, "ann_model", payload.Model)
	assert.Equal(t, []float64{5, 400, 0.5, 2, 60, 8}, payload.InputFeatures)
	assert.Len(t, payload.Predictions, 6)
	assert.Contains(t, payload.Summary, "Cold")
	assert.Contains(t, payload.Summary, "Dry")
	assert.Contains(t, payload.Summary, "Calm wind")
}

func TestPredictJSONSequenceModel(t *testing.T) {
	p := &countingPredictor{}
	app := newTestApp(t, weather.Model{Name: "lstm_model", Kind: weather.InputPerFeatureSequence, Predictor: p})

	req := httptest.NewRequest(http.MethodPost, "/predict",
		strings.NewReader(`{"model_name":"lstm_model","features":[5,12,30,1,2,3]}`))
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Predictions [][]float64 `json:"predictions"`
		Summary     string      `json:"summary"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))

	assert.Equal(t, 6, p.calls)
	assert.Len(t, payload.Predictions, 6)
	segments := strings.Split(payload.Summary, " | ")
	require.Len(t, segments, 6)
	assert.Contains(t, segments[0], "Cold")
	assert.Contains(t, segments[1], "Moderate")
	assert.Contains(t, segments[2], "Hot")
}

func TestPredictJSONRejectsNonNumericFeatures(t *testing.T) {
	p := &countingPredictor{}
	app := newTestApp(t, weather.Model{Name: "ann_model", Kind: weather.InputFlatVector, Predictor: p})

	resp, payload := postJSON(t, app, `{"model_name":"ann_model","features":[5,"x",0.5,2,60,8]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Features must be a list of numbers", payload["error"])
	assert.Zero(t, p.calls)
}

func TestPredictJSONValidation(t *testing.T) {
	app := newTestApp(t, annModel(t))

	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty body", ``, "Invalid or empty JSON"},
		{"not json", `model_name=ann_model`, "Invalid or empty JSON"},
		{"empty object", `{}`, "Invalid or empty JSON"},
		{"array body", `[1, 2]`, "Invalid or empty JSON"},
		{"missing features", `{"model_name":"ann_model"}`, "Missing model_name or features"},
		{"missing model", `{"features":[1,2,3,4,5,6]}`, "Missing model_name or features"},
		{"empty model", `{"model_name":"","features":[1,2,3,4,5,6]}`, "Missing model_name or features"},
		{"empty features", `{"model_name":"ann_model","features":[]}`, "Missing model_name or features"},
		{"zero model", `{"model_name":0,"features":[1,2,3,4,5,6]}`, "Missing model_name or features"},
		{"false features", `{"model_name":"ann_model","features":false}`, "Missing model_name or features"},
		{"null model", `{"model_name":null,"features":[1,2,3,4,5,6]}`, "Missing model_name or features"},
		{"empty object features", `{"model_name":"ann_model","features":{}}`, "Missing model_name or features"},
		{"numeric model", `{"model_name":7,"features":[1,2,3,4,5,6]}`, "model_name must be a string"},
		{"features string", `{"model_name":"ann_model","features":"1,2,3"}`, "Features must be a list of numbers"},
		{"features object", `{"model_name":"ann_model","features":{"a":1}}`, "Features must be a list of numbers"},
		{"null feature", `{"model_name":"ann_model","features":[1,null]}`, "Features must be a list of numbers"},
		{"bool feature", `{"model_name":"ann_model","features":[true,1]}`, "Features must be a list of numbers"},
		{"out of range feature", `{"model_name":"ann_model","features":[1e400,1,1,1,1,1]}`, "Features must be a list of numbers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, payload := postJSON(t, app, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.want, payload["error"])
		})
	}
}

func TestPredictJSONUnknownModel(t *testing.T) {
	app := newTestApp(t, annModel(t))

	resp, payload := postJSON(t, app, `{"model_name":"cnn_model","features":[1,2,3,4,5,6]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Model 'cnn_model' not found. Available models: ['ann_model']", payload["error"])
}

func TestPredictJSONSurfacesInferenceErrors(t *testing.T) {
	app := newTestApp(t, annModel(t))

	resp, payload := postJSON(t, app, `{"model_name":"ann_model","features":[1,2,3]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "dense layer expects 6 inputs, got 3", payload["error"])
}

func TestPredictForm(t *testing.T) {
	app := newTestApp(t, annModel(t))

	resp, body := postForm(t, app, validForm("ann_model"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, body, "Weather Summary: Cold day")
	assert.Contains(t, body, "Prediction (ann_model)")
	assert.NotContains(t, body, `class="error"`)
}

func TestPredictFormInvalidNumberRendersError(t *testing.T) {
	app := newTestApp(t, annModel(t))

	values := validForm("ann_model")
	values.Set("humidity", "very")
	resp, body := postForm(t, app, values)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "All feature values must be numbers.")
	assert.NotContains(t, body, "Weather Summary")

	values = validForm("ann_model")
	values.Del("wind_speed")
	_, body = postForm(t, app, values)
	assert.Contains(t, body, "All feature values must be numbers.")
}

func TestPredictFormUnknownModel(t *testing.T) {
	app := newTestApp(t, annModel(t))

	resp, body := postForm(t, app, validForm("cnn_model"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "not found. Available models:")
	assert.NotContains(t, body, "Weather Summary")
}

func TestIndexListsModels(t *testing.T) {
	app := newTestApp(t, annModel(t), weather.Model{Name: "gru_model", Kind: weather.InputPerFeatureSequence, Predictor: &countingPredictor{}})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `<option value="ann_model"`)
	assert.Contains(t, string(body), `<option value="gru_model"`)
	assert.Contains(t, string(body), `name="wind_speed"`)
}

func TestHealthAndModels(t *testing.T) {
	app := newTestApp(t, annModel(t))

	_, _ = postJSON(t, app, `{"model_name":"ann_model","features":[5,400,0.5,2,60,8]}`)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, float64(1), health["models"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/models", nil))
	require.NoError(t, err)
	var models []weather.ModelStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&models))
	require.Len(t, models, 1)
	assert.Equal(t, "ann_model", models[0].Name)
	assert.Equal(t, weather.InputFlatVector, models[0].InputKind)
	assert.Equal(t, "(None, 6)", models[0].InputShape)
	assert.Equal(t, int64(1), models[0].PredictionsServed)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "climate_predict_predictions_total")
}

func TestPredictJSONRejectsNonFiniteOutput(t *testing.T) {
	app := newTestApp(t, weather.Model{
		Name:      "ann_model",
		Kind:      weather.InputFlatVector,
		Predictor: fixedPredictor{out: []float64{math.NaN(), 1, 1, 1, 1, 1}},
	})

	resp, payload := postJSON(t, app, `{"model_name":"ann_model","features":[5,400,0.5,2,60,8]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "model 'ann_model' produced a non-finite prediction", payload["error"])

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/models", nil))
	require.NoError(t, err)
	var models []weather.ModelStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&models))
	require.Len(t, models, 1)
	assert.Zero(t, models[0].PredictionsServed)
}

func TestPredictFormSequenceModel(t *testing.T) {
	p := &countingPredictor{}
	app := newTestApp(t, weather.Model{Name: "lstm_model", Kind: weather.InputPerFeatureSequence, Predictor: p})

	resp, body := postForm(t, app, validForm("lstm_model"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 6, p.calls)
	assert.Contains(t, body, "Prediction (lstm_model)")
	assert.Equal(t, 6, strings.Count(body, "<tr>"))
	assert.Equal(t, 5, strings.Count(body, " | "))
	assert.Equal(t, 6, strings.Count(body, "Weather Summary:"))
}

func TestPredictFormInferenceErrorRendersError(t *testing.T) {
	app := newTestApp(t, weather.Model{
		Name:      "rnn_model",
		Kind:      weather.InputFlatVector,
		Predictor: fixedPredictor{err: errors.New("dense layer expects 1 inputs, got 6")},
	})

	resp, body := postForm(t, app, validForm("rnn_model"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `<p class="error">dense layer expects 1 inputs, got 6</p>`)
	assert.NotContains(t, body, "Weather Summary")
	// The model is reported as unknown, so no option is preselected.
	assert.NotContains(t, body, "selected")
}
