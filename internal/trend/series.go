// Package trend builds the bounded environmental history series consumed by
// charting.
package trend

import (
	"time"

	"silofy/internal/model"
)

// DefaultWindow is the number of daily points kept per series.
const DefaultWindow = 14

// Append returns series with point appended, keeping at most DefaultWindow
// points. The input slice is never modified.
func Append(series []model.TrendPoint, point model.TrendPoint) []model.TrendPoint {
	return AppendWindow(series, point, DefaultWindow)
}

// AppendWindow is Append with an explicit window. A non-positive window
// falls back to DefaultWindow.
func AppendWindow(series []model.TrendPoint, point model.TrendPoint, window int) []model.TrendPoint {
	if window <= 0 {
		window = DefaultWindow
	}
	start := 0
	if len(series) >= window {
		start = len(series) - window + 1
	}
	out := make([]model.TrendPoint, 0, len(series)-start+1)
	out = append(out, series[start:]...)
	return append(out, point)
}

// DayOrdinal is the number of whole days since the Unix epoch in UTC.
func DayOrdinal(ts time.Time) int {
	return int(ts.UTC().Unix() / 86400)
}

// FromReading projects a reading onto a single trend point.
func FromReading(r model.Reading) model.TrendPoint {
	return model.TrendPoint{
		Day:         DayOrdinal(r.Timestamp),
		Temperature: r.Bag.Temperature,
		Humidity:    r.Bag.Humidity,
		CO2:         r.Bag.CO2,
	}
}

// FleetPoint averages the indicators of bags weighted by tonnage. Bags with
// no tonnage contribute nothing; an empty set yields a zero point.
func FleetPoint(day int, bags []model.Bag) model.TrendPoint {
	p := model.TrendPoint{Day: day}
	var weight float64
	for _, b := range bags {
		if b.Tons <= 0 {
			continue
		}
		weight += b.Tons
		p.Temperature += b.Temperature * b.Tons
		p.Humidity += b.Humidity * b.Tons
		p.CO2 += b.CO2 * b.Tons
	}
	if weight == 0 {
		return model.TrendPoint{Day: day}
	}
	p.Temperature /= weight
	p.Humidity /= weight
	p.CO2 /= weight
	return p
}
