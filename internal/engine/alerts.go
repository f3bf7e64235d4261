package engine

import (
	"fmt"

	"silofy/internal/model"
)

// ActiveAlerts emits one alert per bag whose status is not OK, in subset
// order.
func ActiveAlerts(subset []model.Bag) ([]model.Alert, error) {
	out := make([]model.Alert, 0)
	for _, b := range subset {
		typ, detail, ok, err := ClassifyAlert(b)
		if err != nil {
			return nil, fmt.Errorf("bag %s: %w", b.ID, err)
		}
		if !ok {
			continue
		}
		sev, err := b.Severity()
		if err != nil {
			return nil, fmt.Errorf("bag %s: %w", b.ID, err)
		}
		out = append(out, model.Alert{
			BagID:          b.ID,
			Type:           typ,
			Detail:         detail,
			Severity:       sev,
			Recommendation: Recommend(b, typ),
		})
	}
	return out, nil
}

// Acknowledge leaves alerts untouched and reports whether bagID has an
// active alert in them. An alert disappears only when the underlying bag
// condition changes; acknowledgement records are kept by the caller.
func Acknowledge(alerts []model.Alert, bagID string) ([]model.Alert, model.Alert, bool) {
	a, ok := findAlert(alerts, bagID)
	return alerts, a, ok
}

// Causes counts alerts per type, Quality first.
func Causes(alerts []model.Alert) []model.CauseCount {
	out := []model.CauseCount{
		{Type: model.AlertQuality},
		{Type: model.AlertOperational},
	}
	for _, a := range alerts {
		switch a.Type {
		case model.AlertQuality:
			out[0].Count++
		case model.AlertOperational:
			out[1].Count++
		}
	}
	return out
}

func findAlert(alerts []model.Alert, bagID string) (model.Alert, bool) {
	for _, a := range alerts {
		if a.BagID == bagID {
			return a, true
		}
	}
	return model.Alert{}, false
}
