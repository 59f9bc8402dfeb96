package weather

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// ParsedObservation is the typed form of a current-weather payload.
type ParsedObservation struct {
	ObservedAt time.Time
	Metrics
}

// ParseCurrentWeather extracts the observation time and metric set from an
// OpenWeatherMap current-weather payload. Only "dt" is required; every other
// field that is absent or has the wrong type comes back nil.
func ParseCurrentWeather(payload []byte) (ParsedObservation, error) {
	doc, err := decodeObject(payload)
	if err != nil {
		return ParsedObservation{}, err
	}

	observedAt, ok := epochField(doc, "dt")
	if !ok {
		return ParsedObservation{}, fmt.Errorf("%w: payload missing numeric 'dt'", ErrParse)
	}

	main := objectField(doc, "main")
	wind := objectField(doc, "wind")
	clouds := objectField(doc, "clouds")
	cond := firstCondition(doc)

	return ParsedObservation{
		ObservedAt: observedAt,
		Metrics: Metrics{
			TempC:              numberField(main, "temp"),
			FeelsLikeC:         numberField(main, "feels_like"),
			HumidityPct:        numberField(main, "humidity"),
			PressureHpa:        numberField(main, "pressure"),
			WindSpeedMps:       numberField(wind, "speed"),
			WindDeg:            numberField(wind, "deg"),
			CloudsPct:          numberField(clouds, "all"),
			VisibilityM:        numberField(doc, "visibility"),
			Rain1hMm:           numberField(objectField(doc, "rain"), "1h"),
			Snow1hMm:           numberField(objectField(doc, "snow"), "1h"),
			WeatherMain:        stringField(cond, "main"),
			WeatherDescription: stringField(cond, "description"),
		},
	}, nil
}

// ExtractDataTimestamp returns the payload's "dt" as UTC, or nil when the body
// is not a JSON object with a numeric "dt".
func ExtractDataTimestamp(body []byte) *time.Time {
	doc, err := decodeObject(body)
	if err != nil {
		return nil
	}
	ts, ok := epochField(doc, "dt")
	if !ok {
		return nil
	}
	return &ts
}

func decodeObject(payload []byte) (map[string]any, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrParse)
	}
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrParse)
	}
	return doc, nil
}

func objectField(doc map[string]any, key string) map[string]any {
	if doc == nil {
		return nil
	}
	obj, _ := doc[key].(map[string]any)
	return obj
}

func numberField(doc map[string]any, key string) *float64 {
	if doc == nil {
		return nil
	}
	n, ok := doc[key].(float64)
	if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil
	}
	return &n
}

func stringField(doc map[string]any, key string) *string {
	if doc == nil {
		return nil
	}
	s, ok := doc[key].(string)
	if !ok {
		return nil
	}
	return &s
}

// maxEpochSeconds (year 2242) bounds accepted unix timestamps.
const maxEpochSeconds = 1 << 33

// epochField reads a whole number of unix seconds.
func epochField(doc map[string]any, key string) (time.Time, bool) {
	n := numberField(doc, key)
	if n == nil || *n <= 0 || *n >= maxEpochSeconds || *n != math.Trunc(*n) {
		return time.Time{}, false
	}
	return time.Unix(int64(*n), 0).UTC(), true
}

// firstCondition returns weather[0] when it is an object.
func firstCondition(doc map[string]any) map[string]any {
	items, ok := doc["weather"].([]any)
	if !ok || len(items) == 0 {
		return nil
	}
	first, _ := items[0].(map[string]any)
	return first
}
