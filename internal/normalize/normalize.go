package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"silofy/internal/config"
	"silofy/internal/model"
	"silofy/internal/validation"
)

// ReadingFields is a reading as parsed from the wire, before validation.
// Numeric values stay textual so a missing field can be told apart from a
// zero reading.
type ReadingFields struct {
	Timestamp   string
	BagID       string
	Farm        string
	Crop        string
	Tons        string
	Lat         string
	Lng         string
	Temperature string
	Humidity    string
	CO2         string
	Risk        string
	Extras      map[string]string
	Raw         string
}

// Normalize validates fields and converts them into a reading. Sensor values
// are never defaulted: a missing or unparsable one is a ValidationError.
func Normalize(fields ReadingFields, cfg *config.Config) (model.Reading, error) {
	id := strings.TrimSpace(fields.BagID)
	if id == "" {
		return model.Reading{}, validation.Missing("id")
	}

	loc := time.UTC
	if cfg != nil && cfg.Ingest.Parser.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Ingest.Parser.Timezone); err == nil {
			loc = l
		}
	}

	ts := time.Now().UTC()
	if strings.TrimSpace(fields.Timestamp) != "" {
		parsed, err := ParseTimestamp(fields.Timestamp, loc)
		if err != nil {
			return model.Reading{}, validation.New("timestamp", fields.Timestamp, err.Error())
		}
		ts = parsed.UTC()
	}

	bag := model.Bag{
		ID:   id,
		Farm: strings.TrimSpace(fields.Farm),
		Crop: strings.TrimSpace(fields.Crop),
	}
	required := []struct {
		name  string
		value string
		dst   *float64
	}{
		{"tons", fields.Tons, &bag.Tons},
		{"temperature", fields.Temperature, &bag.Temperature},
		{"humidity", fields.Humidity, &bag.Humidity},
		{"co2", fields.CO2, &bag.CO2},
		{"risk", fields.Risk, &bag.Risk},
	}
	for _, f := range required {
		v, err := parseNumber(f.name, f.value)
		if err != nil {
			return model.Reading{}, err
		}
		*f.dst = v
	}
	if bag.Tons <= 0 {
		return model.Reading{}, validation.New("tons", bag.Tons, "tons must be positive")
	}
	if strings.TrimSpace(fields.Lat) != "" || strings.TrimSpace(fields.Lng) != "" {
		lat, err := parseNumber("lat", fields.Lat)
		if err != nil {
			return model.Reading{}, err
		}
		lng, err := parseNumber("lng", fields.Lng)
		if err != nil {
			return model.Reading{}, err
		}
		bag.Location = model.Location{Lat: lat, Lng: lng}
	}

	return model.Reading{Bag: bag, Timestamp: ts, Source: "log"}, nil
}

func parseNumber(field, value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, validation.Missing(field)
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, validation.New(field, value, "not a finite number")
	}
	return v, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp accepts RFC 3339, a few common local layouts interpreted in
// loc, and Unix seconds or milliseconds.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		return parseUnix(value)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if len(value) >= 13 {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}
