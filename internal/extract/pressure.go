package extract

import (
	"regexp"
	"strconv"

	"github.com/loqalabs/loqa-vitals/internal/health"
)

var (
	SystolicRange  = Range{Min: 50, Max: 250}
	DiastolicRange = Range{Min: 30, Max: 150}
)

func pressureRule(name, pattern string) Rule[health.BloodPressure] {
	return Rule[health.BloodPressure]{
		Name:    name,
		Pattern: regexp.MustCompile(pattern),
		Extract: func(m Match) (health.BloodPressure, bool) {
			sys, err := strconv.Atoi(m.Group(1))
			if err != nil {
				return health.BloodPressure{}, false
			}
			dia, err := strconv.Atoi(m.Group(2))
			if err != nil {
				return health.BloodPressure{}, false
			}
			return health.BloodPressure{Systolic: sys, Diastolic: dia}, true
		},
	}
}

// PressureRecognizer captures systolic then diastolic. The bare "a/b" rule
// is last so any keyworded phrasing wins.
var PressureRecognizer = Recognizer[health.BloodPressure]{
	Rules: []Rule[health.BloodPressure]{
		pressureRule("slash", `血压[是为]?\s*(\d+)\s*[/／]\s*(\d+)`),
		pressureRule("high-low", `血压.*?高压?[是为]?\s*(\d+).*?低压?[是为]?\s*(\d+)`),
		pressureRule("gaoya-diya", `高压[是为]?\s*(\d+).*?低压[是为]?\s*(\d+)`),
		pressureRule("clinical", `收缩压[是为]?\s*(\d+).*?舒张压[是为]?\s*(\d+)`),
		pressureRule("english", `(?i)systolic\D*?(\d+).*?diastolic\D*?(\d+)`),
		pressureRule("and", `血压\s*(\d+)\s*和\s*(\d+)`),
		pressureRule("bare-slash", `(\d+)\s*[/／]\s*(\d+)`),
	},
	Valid: func(bp health.BloodPressure) bool {
		return SystolicRange.Contains(float64(bp.Systolic)) &&
			DiastolicRange.Contains(float64(bp.Diastolic))
	},
}
