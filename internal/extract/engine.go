package extract

import (
	"time"

	"github.com/loqalabs/loqa-vitals/internal/health"
)

// Engine runs every domain recognizer over a transcript. It holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	clock func() time.Time
}

type Option func(*Engine)

// WithClock overrides the capture clock used by Extract.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{clock: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract stamps records with the engine clock.
func (e *Engine) Extract(transcript string) health.ExtractionResult {
	return e.ExtractAt(transcript, e.clock())
}

// ExtractAt recognizes every domain in transcript as if it was captured at
// at. Domains are independent; the result is empty when nothing matched.
func (e *Engine) ExtractAt(transcript string, at time.Time) health.ExtractionResult {
	text := FoldWidth(transcript)
	meta := func(t health.RecordType) health.Meta {
		return health.Meta{ID: health.RecordID(t, transcript, at), CapturedAt: at}
	}

	var res health.ExtractionResult
	if w, _, ok := WeightRecognizer.Recognize(text, at); ok {
		w.Meta = meta(health.TypeWeight)
		res.Weight = &w
	}
	if bp, _, ok := PressureRecognizer.Recognize(text, at); ok {
		bp.Meta = meta(health.TypeBloodPressure)
		res.BloodPressure = &bp
	}
	if s, _, ok := SugarRecognizer.Recognize(text, at); ok {
		s.Meta = meta(health.TypeBloodSugar)
		res.BloodSugar = &s
	}
	if ex, _, ok := ExerciseRecognizer.Recognize(text, at); ok {
		ex.Meta = meta(health.TypeExercise)
		res.Exercise = &ex
	}
	if sl, _, ok := SleepRecognizer.Recognize(text, at); ok {
		sl.Meta = meta(health.TypeSleep)
		sl.Quality = SleepQualityOf(text)
		res.Sleep = &sl
	}
	return res
}
