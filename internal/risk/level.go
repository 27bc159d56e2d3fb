package risk

// Level is a coarse risk band used in API responses.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// LevelFor bands a CRI score.
func LevelFor(score float64) Level {
	switch {
	case score >= 70:
		return LevelCritical
	case score >= 50:
		return LevelHigh
	case score >= 30:
		return LevelMedium
	default:
		return LevelLow
	}
}
