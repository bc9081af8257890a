package analytics

import "math"

// Zone is the traffic-light band of an attendance percentage.
type Zone string

const (
	ZoneGreen  Zone = "green"
	ZoneYellow Zone = "yellow"
	ZoneRed    Zone = "red"
)

// Fixed domain thresholds, in percent.
const (
	GreenThreshold     = 75.0
	YellowThreshold    = 65.0
	DetentionThreshold = 75.0
)

// Percentage is attended*100/total, or 0 when there is nothing to divide by.
// Whole percentages come out exact.
func Percentage(attended, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(attended*100) / float64(total)
}

// ZoneFor classifies p.
func ZoneFor(p float64) Zone {
	switch {
	case p >= GreenThreshold:
		return ZoneGreen
	case p >= YellowThreshold:
		return ZoneYellow
	default:
		return ZoneRed
	}
}

func round2(p float64) float64 {
	return math.Round(p*100) / 100
}
