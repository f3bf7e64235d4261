package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"silofy/internal/normalize"
)

func ParseJSONBytes(data []byte) (*normalize.ReadingFields, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

// ParsePayload accepts a JSON object, a JSON array of objects or newline
// separated lines of any format ParseLine understands.
func ParsePayload(p *Parser, data []byte) ([]normalize.ReadingFields, error) {
	trim := bytes.TrimSpace(data)
	if len(trim) == 0 {
		return nil, nil
	}
	if trim[0] == '[' {
		var list []map[string]any
		if err := json.Unmarshal(trim, &list); err != nil {
			return nil, err
		}
		out := make([]normalize.ReadingFields, 0, len(list))
		for _, obj := range list {
			out = append(out, *ParseJSONMap(obj))
		}
		return out, nil
	}
	if trim[0] == '{' {
		fields, err := ParseJSONBytes(trim)
		if err != nil {
			return nil, err
		}
		return []normalize.ReadingFields{*fields}, nil
	}
	var out []normalize.ReadingFields
	for _, line := range strings.Split(string(trim), "\n") {
		fields, err := p.ParseLine(line)
		if err != nil {
			return out, err
		}
		if fields != nil {
			out = append(out, *fields)
		}
	}
	return out, nil
}

// ParseJSONMap flattens one JSON object. A nested "location" object
// contributes lat/lng; null values count as missing.
func ParseJSONMap(obj map[string]any) *normalize.ReadingFields {
	fields := &normalize.ReadingFields{Extras: map[string]string{}}
	values := map[string]string{}
	for key, val := range obj {
		key = strings.ToLower(key)
		switch v := val.(type) {
		case nil:
			continue
		case map[string]any:
			if key == "location" {
				for k, inner := range v {
					if inner != nil {
						values[strings.ToLower(k)] = formatValue(inner)
					}
				}
			}
			continue
		default:
			values[key] = formatValue(v)
		}
	}
	for key, val := range values {
		assignField(fields, key, val)
	}
	fields.BagID = firstNonEmpty(values, "id", "bag_id", "bag", "bagid")
	fields.Farm = firstNonEmpty(values, "farm", "site")
	fields.Timestamp = firstNonEmpty(values, "timestamp", "time", "ts")
	fields.Temperature = firstNonEmpty(values, "temperature", "temp")
	fields.Humidity = firstNonEmpty(values, "humidity", "hum")
	return fields
}

func formatValue(v any) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case string:
		return n
	default:
		return fmt.Sprint(v)
	}
}
