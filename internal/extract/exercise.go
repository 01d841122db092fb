package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/loqalabs/loqa-vitals/internal/health"
)

// ExerciseRange bounds a single session in minutes.
var ExerciseRange = Range{Min: 0, Max: 480}

const (
	activities = `(跑步|走路|散步|健身|运动|锻炼|游泳|骑行|骑车|瑜伽|跳绳|打球|爬山)`
	minutes    = `\s*(?:分钟|分|min)`
)

// activityLabels is checked in order; the first keyword present names the
// activity.
var activityLabels = []struct {
	keywords []string
	label    string
}{
	{[]string{"跑步"}, "跑步"},
	{[]string{"走路", "散步"}, "走路"},
	{[]string{"健身", "锻炼"}, "健身"},
	{[]string{"游泳"}, "游泳"},
	{[]string{"骑行", "骑车"}, "骑行"},
	{[]string{"瑜伽"}, "瑜伽"},
	{[]string{"跳绳"}, "跳绳"},
	{[]string{"打球"}, "打球"},
	{[]string{"爬山"}, "爬山"},
}

// ActivityLabel classifies free text into a canonical activity name,
// defaulting to 运动.
func ActivityLabel(text string) string {
	for _, a := range activityLabels {
		for _, k := range a.keywords {
			if strings.Contains(text, k) {
				return a.label
			}
		}
	}
	return "运动"
}

func exerciseRule(name, pattern string, minuteGroup int, label func(Match) string, dur func(string) (int, bool)) Rule[health.Exercise] {
	return Rule[health.Exercise]{
		Name:    name,
		Pattern: regexp.MustCompile(pattern),
		Extract: func(m Match) (health.Exercise, bool) {
			d, ok := dur(m.Group(minuteGroup))
			if !ok {
				return health.Exercise{}, false
			}
			return health.Exercise{Activity: label(m), DurationMinutes: d}, true
		},
	}
}

func atoi(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	return n, err == nil
}

func wholeText(m Match) string { return ActivityLabel(m.Text) }

// ExerciseRecognizer matches "activity ... N 分钟", "N 分钟 ... activity",
// "运动 N 分钟" and hour idioms such as "跑步一个半小时".
var ExerciseRecognizer = Recognizer[health.Exercise]{
	Rules: []Rule[health.Exercise]{
		exerciseRule("activity-minutes", `(?i)`+activities+`.*?(\d+)`+minutes, 2, wholeText, atoi),
		exerciseRule("minutes-activity", `(?i)(\d+)`+minutes+`.*?`+activities, 1,
			func(m Match) string { return ActivityLabel(m.Group(2)) }, atoi),
		exerciseRule("generic", `运动[了有]?\s*(\d+)`+minutes, 1,
			func(Match) string { return "运动" }, atoi),
		exerciseRule("hours", activities+`.*?(一个半|半|一|两|\d+个半|\d+(?:\.\d+)?)\s*个?(?:小时|钟头)`, 2, wholeText, HoursToMinutes),
	},
	Valid: func(e health.Exercise) bool { return ExerciseRange.Contains(float64(e.DurationMinutes)) },
}
