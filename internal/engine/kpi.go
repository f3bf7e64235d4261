package engine

import (
	"fmt"

	"silofy/internal/model"
	"silofy/internal/risk"
)

// Aggregate computes the KPI summary of subset. Averages divide by at least
// one so an empty subset yields a zero summary. Any bag with an invalid risk
// score fails the whole aggregation.
func Aggregate(subset []model.Bag) (model.KpiSummary, error) {
	var k model.KpiSummary
	var sumTemp, sumHum float64
	for _, b := range subset {
		sev, err := risk.Classify(b.Risk)
		if err != nil {
			return model.KpiSummary{}, fmt.Errorf("bag %s: %w", b.ID, err)
		}
		k.TotalBags++
		k.TotalTons += b.Tons
		if sev != risk.SeverityLow {
			k.AtRiskTons += b.Tons
		}
		sumTemp += b.Temperature
		sumHum += b.Humidity
		if risk.StatusFor(sev) != risk.StatusOK {
			k.OpenAlertCount++
		}
	}
	div := float64(max(1, len(subset)))
	k.AvgTemperature = sumTemp / div
	k.AvgHumidity = sumHum / div
	return k, nil
}

// AtRiskShareSeverity classifies the share of tonnage at risk.
func AtRiskShareSeverity(k model.KpiSummary) risk.Severity {
	total := k.TotalTons
	if total < 1 {
		total = 1
	}
	sev, err := risk.Classify(k.AtRiskTons / total)
	if err != nil {
		return risk.SeverityHigh
	}
	return sev
}
