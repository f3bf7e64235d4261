package engine

import (
	"silofy/internal/model"
	"silofy/internal/risk"
)

// Evaluate runs one evaluation cycle over bags. Bags whose risk score cannot
// be classified are reported in Rejected and excluded from KPIs and alerts.
// The result does not depend on anything but its inputs.
func Evaluate(bags []model.Bag, filter model.Filter) model.Evaluation {
	subset := Select(bags, filter)
	valid := make([]model.Bag, 0, len(subset))
	var rejected []model.Rejection
	for _, b := range subset {
		if _, err := risk.Classify(b.Risk); err != nil {
			rejected = append(rejected, model.Rejection{BagID: b.ID, Error: err.Error()})
			continue
		}
		valid = append(valid, b)
	}
	kpis, _ := Aggregate(valid)
	alerts, _ := ActiveAlerts(valid)
	return model.Evaluation{
		Filter:         filter.Normalized(),
		Bags:           valid,
		KPIs:           kpis,
		Alerts:         alerts,
		Causes:         Causes(alerts),
		AtRiskSeverity: AtRiskShareSeverity(kpis),
		Rejected:       rejected,
	}
}
