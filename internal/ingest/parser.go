package ingest

import (
	"encoding/csv"
	"regexp"
	"strings"

	"silofy/internal/normalize"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+\-Z]+)`)
	reKV        = regexp.MustCompile(`(?i)([a-z_0-9]+)=("[^"]*"|[^\s]+)`)
)

// positionalColumns is the column order of a headerless CSV reading line.
var positionalColumns = []string{
	"timestamp", "id", "farm", "crop", "tons", "temperature", "humidity", "co2", "risk", "lat", "lng",
}

// Parser turns one line of text into reading fields. It remembers a CSV
// header line, so one Parser must be used per stream.
type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

// ParseLine returns nil fields for blank lines and CSV headers.
func (p *Parser) ParseLine(line string) (*normalize.ReadingFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" || strings.HasPrefix(trim, "#") {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		fields, err := ParseJSONBytes([]byte(trim))
		if err == nil {
			fields.Raw = line
			return fields, nil
		}
	}
	if strings.Contains(trim, ",") && !strings.Contains(trim, "=") {
		fields, err := p.csv.Parse(trim)
		if err == nil {
			if fields == nil {
				return nil, nil
			}
			fields.Raw = line
			return fields, nil
		}
	}
	fields := parsePlain(trim)
	fields.Raw = line
	return fields, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

// parsePlain reads "key=value" pairs with an optional leading timestamp.
func parsePlain(line string) *normalize.ReadingFields {
	fields := &normalize.ReadingFields{Extras: map[string]string{}}
	if m := reTimestamp.FindStringSubmatch(line); len(m) == 2 {
		fields.Timestamp = strings.TrimSpace(m[1])
	}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		assignField(fields, match[1], strings.Trim(strings.TrimRight(match[2], ",;"), `"`))
	}
	return fields
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

type CSVParser struct {
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) Parse(line string) (*normalize.ReadingFields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	if p.header == nil && looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	columns := p.header
	if columns == nil {
		columns = positionalColumns
	}
	fields := &normalize.ReadingFields{Extras: map[string]string{}}
	for i, name := range columns {
		if i >= len(record) {
			break
		}
		assignField(fields, name, record[i])
	}
	return fields, nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "id", "bag_id", "timestamp", "ts", "farm", "crop", "tons", "temperature", "temp", "humidity", "hum", "co2", "risk":
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func assignField(fields *normalize.ReadingFields, name string, value string) {
	name = strings.ToLower(strings.TrimSpace(name))
	value = strings.TrimSpace(value)
	switch name {
	case "timestamp", "time", "ts":
		fields.Timestamp = value
	case "id", "bag_id", "bag", "bagid":
		fields.BagID = value
	case "farm", "site":
		fields.Farm = value
	case "crop":
		fields.Crop = value
	case "tons", "tonnes":
		fields.Tons = value
	case "lat", "latitude":
		fields.Lat = value
	case "lng", "lon", "longitude":
		fields.Lng = value
	case "temperature", "temp":
		fields.Temperature = value
	case "humidity", "hum":
		fields.Humidity = value
	case "co2":
		fields.CO2 = value
	case "risk":
		fields.Risk = value
	default:
		if fields.Extras != nil {
			fields.Extras[name] = value
		}
	}
}
