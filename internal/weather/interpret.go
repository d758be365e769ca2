package weather

import "fmt"

// FallbackSummary is returned when predictions cannot be interpreted.
const FallbackSummary = "Could not interpret weather prediction."

// Interpret turns six predicted values (temperature, CO2, sea level,
// precipitation, humidity, wind speed) into a one-line weather summary.
func Interpret(values []float64) string {
	if len(values) != FeatureCount {
		return FallbackSummary
	}
	temp, co2, sea, precip, hum, wind := values[0], values[1], values[2], values[3], values[4], values[5]

	return fmt.Sprintf(
		"Weather Summary: %s day with CO₂=%.1f, Sea Level=%.1f, %s, Humidity=%.1f%%, %s.",
		temperatureCategory(temp), co2, sea, precipitationCategory(precip), hum, windCategory(wind),
	)
}

func temperatureCategory(t float64) string {
	switch {
	case t < 10:
		return "Cold"
	case t < 25:
		return "Moderate"
	default:
		return "Hot"
	}
}

func precipitationCategory(p float64) string {
	switch {
	case p < 5:
		return "Dry"
	case p < 20:
		return "Light Rain"
	default:
		return "Heavy Rain"
	}
}

func windCategory(w float64) string {
	switch {
	case w < 10:
		return "Calm wind"
	case w < 20:
		return "Breezy"
	default:
		return "Windy"
	}
}
