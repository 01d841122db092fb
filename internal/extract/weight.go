package extract

import (
	"regexp"
	"strconv"

	"github.com/loqalabs/loqa-vitals/internal/health"
)

const number = `(\d+(?:\.\d+)?)`

// WeightRange bounds plausible body weight in kilograms.
var WeightRange = Range{Min: 20, Max: 300}

func weightRule(name, pattern string) Rule[health.Weight] {
	return Rule[health.Weight]{
		Name:    name,
		Pattern: regexp.MustCompile(pattern),
		Extract: func(m Match) (health.Weight, bool) {
			v, err := strconv.ParseFloat(m.Group(1), 64)
			if err != nil {
				return health.Weight{}, false
			}
			return health.Weight{Value: Round1(Kilograms(v, m.Group(2)))}, true
		},
	}
}

// WeightRecognizer matches body weight phrases; group 1 is the number and
// group 2, when present, the spoken unit.
var WeightRecognizer = Recognizer[health.Weight]{
	Rules: []Rule[health.Weight]{
		weightRule("kg", `(?i)`+number+`\s*(kg)`),
		weightRule("body-weight", `(?i)体重[是为]?(?:多少)?\s*`+number+`\s*(kg|公斤|千克|斤|磅|pounds?|lbs?)?`),
		weightRule("weighs", `(?i)重了?\s*`+number+`\s*(kg|公斤|千克|斤|磅|pounds?|lbs?)`),
		weightRule("weighed", `(?i)称重[是为]?\s*`+number+`\s*(kg|公斤|千克|斤|磅|pounds?|lbs?)`),
		weightRule("gongjin", number+`\s*(公斤|千克)`),
		weightRule("catty", number+`\s*(斤)`),
		weightRule("pound", `(?i)`+number+`\s*(pounds?|lbs?|磅)`),
	},
	Valid: func(w health.Weight) bool { return WeightRange.Contains(w.Value) },
}
