// Package fixtures holds the demo bag fleet and a synthetic trend series
// used by the demo mode and by tests. Nothing here is used on live data.
package fixtures

import (
	"math"
	"time"

	"silofy/internal/model"
	"silofy/internal/trend"
)

func DemoBags() []model.Bag {
	return []model.Bag{
		{ID: "SB-001", Farm: "La Esperanza", Crop: "Maize", Tons: 210, Location: model.Location{Lat: -43.45, Lng: -65.04}, Temperature: 28.4, Humidity: 14.2, CO2: 0.7, Risk: 0.27},
		{ID: "SB-002", Farm: "La Esperanza", Crop: "Maize", Tons: 190, Location: model.Location{Lat: -43.46, Lng: -65.02}, Temperature: 31.1, Humidity: 16.9, CO2: 1.9, Risk: 0.62},
		{ID: "SB-003", Farm: "Los Alamos", Crop: "Soy", Tons: 230, Location: model.Location{Lat: -43.43, Lng: -65.09}, Temperature: 26.6, Humidity: 13.8, CO2: 0.5, Risk: 0.18},
		{ID: "SB-004", Farm: "Los Alamos", Crop: "Soy", Tons: 180, Location: model.Location{Lat: -43.41, Lng: -65.01}, Temperature: 33.2, Humidity: 18.3, CO2: 2.8, Risk: 0.81},
		{ID: "SB-005", Farm: "El Trebol", Crop: "Wheat", Tons: 150, Location: model.Location{Lat: -43.47, Lng: -65.06}, Temperature: 29.5, Humidity: 15.5, CO2: 1.1, Risk: 0.39},
	}
}

// SyntheticSeries returns n daily points (days 1..n) with a mild warming
// and CO2 build-up after day nine.
func SyntheticSeries(n int) []model.TrendPoint {
	out := make([]model.TrendPoint, 0, n)
	for i := 0; i < n; i++ {
		fi := float64(i)
		late := i > 8
		p := model.TrendPoint{
			Day:         i + 1,
			Temperature: 25 + math.Sin(fi/2)*4,
			Humidity:    13 + math.Cos(fi/3)*3,
			CO2:         0.6 + math.Max(0, (fi-8)*0.18),
		}
		if late {
			p.Temperature += 2
			p.Humidity += 2.5
		}
		out = append(out, p)
	}
	return out
}

// DemoHistory replays the demo fleet over the synthetic series so that the
// last day, ending at end, equals DemoBags exactly.
func DemoHistory(end time.Time) []model.Reading {
	series := SyntheticSeries(trend.DefaultWindow)
	last := series[len(series)-1]
	bags := DemoBags()
	out := make([]model.Reading, 0, len(series)*len(bags))
	for i, p := range series {
		ts := end.AddDate(0, 0, i-len(series)+1)
		for _, b := range bags {
			b.Temperature += p.Temperature - last.Temperature
			b.Humidity += p.Humidity - last.Humidity
			b.CO2 = math.Max(0, b.CO2+p.CO2-last.CO2)
			out = append(out, model.Reading{Bag: b, Timestamp: ts, Source: "demo"})
		}
	}
	return out
}
