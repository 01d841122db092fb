package extract

import (
	"regexp"
	"strconv"

	"github.com/loqalabs/loqa-vitals/internal/health"
)

// SugarRange bounds plausible blood glucose in mmol/L.
var SugarRange = Range{Min: 1, Max: 50}

func sugarRule(name, pattern string) Rule[health.BloodSugar] {
	return Rule[health.BloodSugar]{
		Name:    name,
		Pattern: regexp.MustCompile(pattern),
		Extract: func(m Match) (health.BloodSugar, bool) {
			v, err := strconv.ParseFloat(m.Group(1), 64)
			if err != nil {
				return health.BloodSugar{}, false
			}
			return health.BloodSugar{Value: Round1(v)}, true
		},
	}
}

// SugarRecognizer matches glucose readings in mmol/L. HbA1c (糖化血红蛋白)
// is a percentage and is deliberately not matched here.
var SugarRecognizer = Recognizer[health.BloodSugar]{
	Rules: []Rule[health.BloodSugar]{
		sugarRule("sugar", `血糖[是为]?\s*`+number),
		sugarRule("sugar-value", `血糖值[是为]?\s*`+number),
		sugarRule("fasting", `空腹血糖[是为]?\s*`+number),
		sugarRule("post-meal", `餐后血糖[是为]?\s*`+number),
		sugarRule("mmol", `(?i)`+number+`\s*mmol`),
	},
	Valid: func(s health.BloodSugar) bool { return SugarRange.Contains(s.Value) },
}
