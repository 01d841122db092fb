package extract

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/width"
)

const (
	poundToKilogram  = 0.453592
	cattyPerKilogram = 2
)

// FoldWidth rewrites full-width ASCII (digits, slash, colon, latin letters)
// to its half-width form. CJK ideographs pass through unchanged.
func FoldWidth(s string) string {
	return width.Fold.String(s)
}

// Round1 rounds to one decimal place, halves away from zero.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Kilograms converts a weight in the given unit to kilograms. Unknown or
// empty units are taken as kilograms.
func Kilograms(value float64, unit string) float64 {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "斤":
		return value / cattyPerKilogram
	case "磅", "lb", "lbs", "pound", "pounds":
		return value * poundToKilogram
	default:
		return value
	}
}

// HoursToMinutes converts an hour count phrase ("半", "一", "一个半", "两",
// "7个半", "1.5") to whole minutes.
func HoursToMinutes(phrase string) (int, bool) {
	if n, ok := strings.CutSuffix(phrase, "个半"); ok && n != "一" {
		h, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return h*60 + 30, true
	}
	switch phrase {
	case "半":
		return 30, true
	case "一":
		return 60, true
	case "一个半":
		return 90, true
	case "两":
		return 120, true
	}
	h, err := strconv.ParseFloat(phrase, 64)
	if err != nil {
		return 0, false
	}
	return int(math.Round(h * 60)), true
}

// ClockMinute parses the minute part of a spoken clock time. Empty means on
// the hour and "半" means half past.
func ClockMinute(s string) (int, bool) {
	switch s {
	case "":
		return 0, true
	case "半":
		return 30, true
	}
	m, err := strconv.Atoi(s)
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return m, true
}

// ClockHour parses an hour of day in 0..24; 24 is folded to 0.
func ClockHour(s string) (int, bool) {
	h, err := strconv.Atoi(s)
	if err != nil || h < 0 || h > 24 {
		return 0, false
	}
	if h == 24 {
		h = 0
	}
	return h, true
}

// EveningHour reads a 12-hour clock value said in an evening context: 6..11
// become 18..23 and 12 becomes midnight. Other hours are returned as-is.
func EveningHour(h int) int {
	switch {
	case h >= 6 && h <= 11:
		return h + 12
	case h == 12:
		return 0
	default:
		return h
	}
}
