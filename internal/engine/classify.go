package engine

import (
	"fmt"

	"silofy/internal/model"
	"silofy/internal/risk"
)

// QualityCO2Threshold is the CO2 percentage above which an alert is a grain
// quality (fermentation) problem rather than an operational one.
const QualityCO2Threshold = 2.0

// ClassifyAlert derives the alert cause of bag. ok is false when the bag's
// status is OK, in which case there is no alert at all. CO2 is the only
// discriminator between the two types.
func ClassifyAlert(bag model.Bag) (typ model.AlertType, detail string, ok bool, err error) {
	status, err := bag.Status()
	if err != nil {
		return "", "", false, err
	}
	if status == risk.StatusOK {
		return "", "", false, nil
	}
	if bag.CO2 > QualityCO2Threshold {
		return model.AlertQuality, fmt.Sprintf("CO2 elevated (%.1f%%)", bag.CO2), true, nil
	}
	return model.AlertOperational, fmt.Sprintf("T %.1f°C / H %.1f%%", bag.Temperature, bag.Humidity), true, nil
}
