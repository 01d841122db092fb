package extract

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/loqalabs/loqa-vitals/internal/health"
)

// SleepRange bounds a night's sleep in minutes, inclusive.
var SleepRange = Range{Min: 30, Max: 960, Inclusive: true}

const clock = `(\d{1,2})[点时:](\d{1,2}|半)?分?`

// sleepPairRule reads a bed clock from groups 1-2 and a wake clock from
// groups 3-4.
func sleepPairRule(name, pattern string) Rule[health.Sleep] {
	return Rule[health.Sleep]{
		Name:    name,
		Pattern: regexp.MustCompile(pattern),
		Extract: func(m Match) (health.Sleep, bool) {
			bedH, ok := ClockHour(m.Group(1))
			if !ok {
				return health.Sleep{}, false
			}
			bedM, ok := ClockMinute(m.Group(2))
			if !ok {
				return health.Sleep{}, false
			}
			wakeH, ok := ClockHour(m.Group(3))
			if !ok {
				return health.Sleep{}, false
			}
			wakeM, ok := ClockMinute(m.Group(4))
			if !ok {
				return health.Sleep{}, false
			}
			if eveningBefore(m.Text[:m.Start(1)]) {
				bedH = EveningHour(bedH)
			}
			bed, wake := anchorNight(m.At, bedH, bedM, wakeH, wakeM)
			return health.Sleep{
				BedTime:         bed,
				WakeTime:        wake,
				DurationMinutes: int(math.Floor(wake.Sub(bed).Minutes())),
				Quality:         health.QualityFair,
			}, true
		},
	}
}

// dayMarkers are time-of-day words that can precede a spoken clock. Only
// the closest one to the clock counts.
var dayMarkers = []struct {
	word    string
	evening bool
}{
	{"晚", true},
	{"夜", true},
	{"早", false},
	{"凌晨", false},
	{"清晨", false},
	{"上午", false},
	{"中午", false},
	{"下午", false},
}

// eveningBefore reports whether the nearest time-of-day marker in prefix is
// an evening one.
func eveningBefore(prefix string) bool {
	last, evening := -1, false
	for _, dm := range dayMarkers {
		if i := strings.LastIndex(prefix, dm.word); i > last {
			last, evening = i, dm.evening
		}
	}
	return evening
}

// anchorNight places bed and wake clocks on the capture date. A wake time not
// after the bed time rolls over to the next day, and a night that would end
// after the capture date is moved back so it ends on it.
func anchorNight(at time.Time, bedH, bedM, wakeH, wakeM int) (time.Time, time.Time) {
	y, mo, d := at.Date()
	loc := at.Location()
	bed := time.Date(y, mo, d, bedH, bedM, 0, 0, loc)
	wake := time.Date(y, mo, d, wakeH, wakeM, 0, 0, loc)
	if !wake.After(bed) {
		wake = wake.AddDate(0, 0, 1)
	}
	if wy, wm, wd := wake.Date(); time.Date(wy, wm, wd, 0, 0, 0, 0, loc).After(time.Date(y, mo, d, 0, 0, 0, 0, loc)) {
		bed = bed.AddDate(0, 0, -1)
		wake = wake.AddDate(0, 0, -1)
	}
	return bed, wake
}

var sleptHours = Rule[health.Sleep]{
	Name:    "slept-hours",
	Pattern: regexp.MustCompile(`睡了?\s*(\d+(?:\.\d+)?|\d+个半|一个半|半|一|两)\s*个?(?:小时|钟头)`),
	Extract: func(m Match) (health.Sleep, bool) {
		mins, ok := HoursToMinutes(m.Group(1))
		if !ok {
			return health.Sleep{}, false
		}
		return health.Sleep{
			BedTime:         m.At.Add(-time.Duration(mins) * time.Minute),
			WakeTime:        m.At,
			DurationMinutes: mins,
			Quality:         health.QualityFair,
		}, true
	},
}

// SleepRecognizer matches bed/wake clock pairs and stated durations.
var SleepRecognizer = Recognizer[health.Sleep]{
	Rules: []Rule[health.Sleep]{
		sleepPairRule("last-night-this-morning", `昨[晚夜天].*?`+clock+`.*?睡.*?今[天早晨日]?.*?`+clock+`.*?(?:醒|起)`),
		sleepPairRule("sleep-get-up", clock+`.*?睡.*?`+clock+`.*?起床`),
		sleptHours,
		sleepPairRule("night-morning", `[晚夜].*?`+clock+`.*?睡.*?(?:[早清]上|早晨|清晨|上午).*?`+clock),
	},
	Valid: func(s health.Sleep) bool { return SleepRange.Contains(float64(s.DurationMinutes)) },
}
