package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/climate-predict/internal/common"
	"github.com/i474232898/climate-predict/internal/weather"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// truthy rejects absent or empty JSON values: null, false, 0, "", [] and {}.
	_ = v.RegisterValidation("truthy", func(fl validator.FieldLevel) bool {
		return !isFalsy(fl.Field().Bytes())
	})
	return v
}

// Messages returned to clients.
const (
	msgNotNumbers     = "All feature values must be numbers."
	msgInvalidJSON    = "Invalid or empty JSON"
	msgMissingFields  = "Missing model_name or features"
	msgModelNotString = "model_name must be a string"
	msgFeaturesList   = "Features must be a list of numbers"
)

// PredictionService is what the handlers need from the dispatcher.
type PredictionService interface {
	Predict(ctx context.Context, name string, features []float64) (weather.Prediction, error)
	Names() []string
	Stats() []weather.ModelStats
}

// RegisterRoutes wires the HTTP handlers into the Fiber app. The app must be
// configured with NewViews for the HTML pages to render.
func RegisterRoutes(app *fiber.App, service PredictionService, serviceName string) {
	h := &handler{service: service, serviceName: serviceName}

	app.Use(requestMetrics)

	app.Get("/", h.index)
	app.Post("/predict", h.predict)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": serviceName,
			"models":  len(service.Names()),
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := app.Group("/api/v1")
	v1.Get("/models", func(c *fiber.Ctx) error {
		return c.JSON(service.Stats())
	})
}

type handler struct {
	service     PredictionService
	serviceName string
}

// predictRequest is the channel-independent form of a prediction request.
type predictRequest struct {
	ModelName string
	Features  []float64
}

// jsonRequest holds the raw JSON fields before type checks.
type jsonRequest struct {
	ModelName json.RawMessage `validate:"truthy"`
	Features  json.RawMessage `validate:"truthy"`
}

// outcome is the neutral result of the prediction pipeline: either a
// prediction or an error message with the status the JSON channel reports.
type outcome struct {
	model      string
	prediction *weather.Prediction
	status     int
	message    string
}

func failure(model string, status int, message string) *outcome {
	return &outcome{model: model, status: status, message: message}
}

func (h *handler) index(c *fiber.Ctx) error {
	return c.Render("index", h.page(outcome{}))
}

func (h *handler) predict(c *fiber.Ctx) error {
	if isFormSubmission(c) {
		return h.renderHTML(c, h.run(c, bindForm))
	}
	return renderJSON(c, h.run(c, bindJSON))
}

// run binds the request with the channel's binder and dispatches it.
func (h *handler) run(c *fiber.Ctx, bind func(*fiber.Ctx) (predictRequest, *outcome)) outcome {
	req, failed := bind(c)
	if failed != nil {
		return *failed
	}

	prediction, err := h.service.Predict(c.UserContext(), req.ModelName, req.Features)
	if err != nil {
		if errors.Is(err, weather.ErrModelNotFound) {
			return *failure(req.ModelName, fiber.StatusBadRequest, err.Error())
		}
		return *failure("unknown", fiber.StatusBadRequest, err.Error())
	}

	return outcome{model: req.ModelName, prediction: &prediction, status: fiber.StatusOK}
}

// renderHTML re-renders the page. The form channel always answers 200, the
// error (if any) is shown inline.
func (h *handler) renderHTML(c *fiber.Ctx, o outcome) error {
	return c.Status(fiber.StatusOK).Render("index", h.page(o))
}

func (h *handler) page(o outcome) fiber.Map {
	data := fiber.Map{
		"Models":     h.service.Names(),
		"Fields":     weather.FeatureNames,
		"Model":      o.model,
		"Error":      o.message,
		"Prediction": nil,
		"Rows":       nil,
		"Summary":    "",
	}
	if o.prediction != nil {
		data["Prediction"] = o.prediction.Values()
		data["Rows"] = o.prediction.Rows
		data["Summary"] = o.prediction.Summary
	}
	return data
}

func renderJSON(c *fiber.Ctx, o outcome) error {
	if o.prediction == nil {
		return c.Status(o.status).JSON(fiber.Map{"error": o.message})
	}
	return c.JSON(o.prediction)
}

// isFormSubmission reports whether the request carries form-encoded fields.
// Everything else is treated as JSON regardless of its content type.
func isFormSubmission(c *fiber.Ctx) bool {
	ct := string(c.Request().Header.ContentType())
	switch {
	case common.HasAny(ct, fiber.MIMEApplicationForm):
		return c.Request().PostArgs().Len() > 0
	case common.HasAny(ct, fiber.MIMEMultipartForm):
		form, err := c.MultipartForm()
		return err == nil && len(form.Value) > 0
	default:
		return false
	}
}

func bindForm(c *fiber.Ctx) (predictRequest, *outcome) {
	req := predictRequest{ModelName: c.FormValue("model_name")}

	for _, name := range weather.FeatureNames {
		v, err := strconv.ParseFloat(strings.TrimSpace(c.FormValue(name)), 64)
		if err != nil {
			return req, failure(req.ModelName, fiber.StatusOK, msgNotNumbers)
		}
		req.Features = append(req.Features, v)
	}

	return req, nil
}

func bindJSON(c *fiber.Ctx) (predictRequest, *outcome) {
	var req predictRequest

	var body map[string]json.RawMessage
	if err := json.Unmarshal(c.Body(), &body); err != nil || len(body) == 0 {
		return req, failure("", fiber.StatusBadRequest, msgInvalidJSON)
	}

	raw := jsonRequest{ModelName: body["model_name"], Features: body["features"]}
	if err := validate.Struct(raw); err != nil {
		return req, failure("", fiber.StatusBadRequest, msgMissingFields)
	}

	if err := json.Unmarshal(raw.ModelName, &req.ModelName); err != nil {
		return req, failure("", fiber.StatusBadRequest, msgModelNotString)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw.Features, &items); err != nil {
		return req, failure(req.ModelName, fiber.StatusBadRequest, msgFeaturesList)
	}
	for _, item := range items {
		// Out-of-range numbers such as 1e400 fail to decode and are rejected too.
		var v float64
		if isNull(item) {
			return req, failure(req.ModelName, fiber.StatusBadRequest, msgFeaturesList)
		}
		if err := json.Unmarshal(item, &v); err != nil {
			return req, failure(req.ModelName, fiber.StatusBadRequest, msgFeaturesList)
		}
		req.Features = append(req.Features, v)
	}

	return req, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// isFalsy reports whether a JSON value is absent or empty: null, false, 0,
// "", [] or {}.
func isFalsy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || isNull(raw) {
		return true
	}
	switch string(raw) {
	case "false", `""`:
		return true
	}
	switch raw[0] {
	case '[':
		var items []json.RawMessage
		return json.Unmarshal(raw, &items) == nil && len(items) == 0
	case '{':
		var fields map[string]json.RawMessage
		return json.Unmarshal(raw, &fields) == nil && len(fields) == 0
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n float64
		return json.Unmarshal(raw, &n) == nil && n == 0
	}
	return false
}
