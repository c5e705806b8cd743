package prediction

import "fmt"

// Risk categories.
const (
	CategoryLow      = "Low"
	CategoryModerate = "Moderate"
	CategoryHigh     = "High"
)

// ValidateVitals rejects physiologically impossible inputs before any
// scoring or hashing happens.
func ValidateVitals(v Vitals) error {
	if v.HeartRate < 20 || v.HeartRate > 250 {
		return fmt.Errorf("heartRate %d out of range [20,250]", v.HeartRate)
	}
	if v.SystolicBP < 50 || v.SystolicBP > 260 {
		return fmt.Errorf("systolicBp %d out of range [50,260]", v.SystolicBP)
	}
	if v.DiastolicBP < 30 || v.DiastolicBP > 180 {
		return fmt.Errorf("diastolicBp %d out of range [30,180]", v.DiastolicBP)
	}
	if v.GlucoseMgdl < 20 || v.GlucoseMgdl > 600 {
		return fmt.Errorf("glucoseMgdl %g out of range [20,600]", v.GlucoseMgdl)
	}
	if v.TemperatureC < 30 || v.TemperatureC > 45 {
		return fmt.Errorf("temperatureC %g out of range [30,45]", v.TemperatureC)
	}
	return nil
}

// ComputeRisk scores vitals with a fixed additive point table. The formula
// is intentionally simple and fully deterministic: the same vitals always
// produce the same risk, category, and health score, which is what makes
// anchored predictions re-verifiable.
func ComputeRisk(v Vitals) (risk int, category string, score int) {
	if v.HeartRate < 60 || v.HeartRate > 100 {
		risk += 12
	}
	switch {
	case v.SystolicBP >= 140:
		risk += 16
	case v.SystolicBP >= 120:
		risk += 8
	}
	switch {
	case v.DiastolicBP >= 90:
		risk += 14
	case v.DiastolicBP >= 80:
		risk += 8
	}
	switch {
	case v.GlucoseMgdl >= 126:
		risk += 18
	case v.GlucoseMgdl >= 100:
		risk += 8
	}
	if v.TemperatureC < 36.0 || v.TemperatureC >= 38.0 {
		risk += 10
	}

	if risk > 100 {
		risk = 100
	}

	switch {
	case risk < 30:
		category = CategoryLow
	case risk < 60:
		category = CategoryModerate
	default:
		category = CategoryHigh
	}
	return risk, category, 100 - risk
}
