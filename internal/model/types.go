package model

import (
	"encoding/json"
	"time"

	"silofy/internal/risk"
)

// AllValues is the wildcard accepted by the crop and site selectors.
const AllValues = "All"

type AlertType string

const (
	AlertOperational AlertType = "Operational"
	AlertQuality     AlertType = "Quality"
)

type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Bag is the latest known condition of one sealed storage bag. Its status is
// a projection of Risk; there is intentionally no field to set it.
type Bag struct {
	ID          string   `json:"id"`
	Farm        string   `json:"farm"`
	Crop        string   `json:"crop"`
	Tons        float64  `json:"tons"`
	Location    Location `json:"location"`
	Temperature float64  `json:"temperature"`
	Humidity    float64  `json:"humidity"`
	CO2         float64  `json:"co2"`
	Risk        float64  `json:"risk"`
}

func (b Bag) Severity() (risk.Severity, error) {
	return risk.Classify(b.Risk)
}

func (b Bag) Status() (risk.Status, error) {
	return risk.StatusOf(b.Risk)
}

type bagJSON struct {
	ID          string        `json:"id"`
	Farm        string        `json:"farm"`
	Crop        string        `json:"crop"`
	Tons        float64       `json:"tons"`
	Location    Location      `json:"location"`
	Temperature float64       `json:"temperature"`
	Humidity    float64       `json:"humidity"`
	CO2         float64       `json:"co2"`
	Risk        float64       `json:"risk"`
	Severity    risk.Severity `json:"severity,omitempty"`
	Status      risk.Status   `json:"status,omitempty"`
}

// MarshalJSON adds the derived severity and status. Both are omitted when
// the risk score is out of range.
func (b Bag) MarshalJSON() ([]byte, error) {
	out := bagJSON{
		ID:          b.ID,
		Farm:        b.Farm,
		Crop:        b.Crop,
		Tons:        b.Tons,
		Location:    b.Location,
		Temperature: b.Temperature,
		Humidity:    b.Humidity,
		CO2:         b.CO2,
		Risk:        b.Risk,
	}
	if sev, err := risk.Classify(b.Risk); err == nil {
		out.Severity = sev
		out.Status = risk.StatusFor(sev)
	}
	return json.Marshal(out)
}

type Reading struct {
	Bag       Bag       `json:"bag"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
}

type TrendPoint struct {
	Day         int     `json:"day"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	CO2         float64 `json:"co2"`
}

type Alert struct {
	BagID          string        `json:"bag_id"`
	Type           AlertType     `json:"type"`
	Detail         string        `json:"detail"`
	Severity       risk.Severity `json:"severity"`
	Recommendation string        `json:"recommendation"`
}

type KpiSummary struct {
	TotalBags      int     `json:"total_bags"`
	TotalTons      float64 `json:"total_tons"`
	AtRiskTons     float64 `json:"at_risk_tons"`
	AvgTemperature float64 `json:"avg_temperature"`
	AvgHumidity    float64 `json:"avg_humidity"`
	OpenAlertCount int     `json:"open_alert_count"`
}

type CauseCount struct {
	Type  AlertType `json:"type"`
	Count int       `json:"count"`
}

// Filter selects the bags an evaluation runs over. Campaign is carried
// through to the result but bags carry no campaign, so it never narrows the
// selection.
type Filter struct {
	Campaign string `json:"campaign"`
	Crop     string `json:"crop"`
	Site     string `json:"site"`
}

// Normalized returns f with empty crop/site replaced by AllValues.
func (f Filter) Normalized() Filter {
	if f.Crop == "" {
		f.Crop = AllValues
	}
	if f.Site == "" {
		f.Site = AllValues
	}
	return f
}

func (f Filter) Key() string {
	n := f.Normalized()
	return n.Campaign + "|" + n.Crop + "|" + n.Site
}

type Rejection struct {
	BagID string `json:"bag_id"`
	Error string `json:"error"`
}

type Evaluation struct {
	Filter         Filter        `json:"filter"`
	Bags           []Bag         `json:"bags"`
	KPIs           KpiSummary    `json:"kpis"`
	Alerts         []Alert       `json:"alerts"`
	Causes         []CauseCount  `json:"causes"`
	AtRiskSeverity risk.Severity `json:"at_risk_severity"`
	Rejected       []Rejection   `json:"rejected,omitempty"`
	EvaluatedAt    time.Time     `json:"evaluated_at,omitempty"`
}

type Acknowledgement struct {
	ID             string        `json:"id"`
	BagID          string        `json:"bag_id"`
	Type           AlertType     `json:"type"`
	Severity       risk.Severity `json:"severity"`
	Note           string        `json:"note,omitempty"`
	AcknowledgedAt time.Time     `json:"acknowledged_at"`
}
