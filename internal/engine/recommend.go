package engine

import (
	"fmt"

	"silofy/internal/model"
)

// MaxSafeHumidity is the grain humidity (%) above which storage is unsafe
// for extended periods.
const MaxSafeHumidity = 16.0

func Recommend(bag model.Bag, typ model.AlertType) string {
	switch {
	case typ == model.AlertQuality:
		return fmt.Sprintf("Inspect %s for fermentation: check the seal and sample the grain; plan extraction if CO2 stays above %.1f%%.", bag.ID, QualityCO2Threshold)
	case bag.Humidity > MaxSafeHumidity:
		return fmt.Sprintf("Verify grain moisture in %s; consider moving it if humidity stays above %.0f%% for 48 h.", bag.ID, MaxSafeHumidity)
	default:
		return fmt.Sprintf("Ventilate %s during the coolest hours, reseal and monitor for 24 h.", bag.ID)
	}
}
