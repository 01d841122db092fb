package extract

import (
	"regexp"

	"github.com/loqalabs/loqa-vitals/internal/health"
)

var qualityKeywords = []struct {
	pattern *regexp.Regexp
	quality health.SleepQuality
}{
	{regexp.MustCompile(`睡得好|睡得不错|睡眠质量好|睡得很香|睡眠充足|睡得很好`), health.QualityGood},
	{regexp.MustCompile(`睡得不好|睡眠质量差|没睡好|失眠|睡不着|睡眠不足|睡得很差`), health.QualityPoor},
	{regexp.MustCompile(`一般|还行|凑合|普通`), health.QualityFair},
}

// SleepQualityOf classifies the whole transcript. Positive phrases win over
// negative ones, which win over neutral ones; no keyword means fair.
func SleepQualityOf(transcript string) health.SleepQuality {
	for _, k := range qualityKeywords {
		if k.pattern.MatchString(transcript) {
			return k.quality
		}
	}
	return health.QualityFair
}
