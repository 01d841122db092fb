package health

import (
	"encoding/json"
	"fmt"
	"time"
)

// RecordType names one of the tracked metric domains.
type RecordType string

const (
	TypeWeight        RecordType = "weight"
	TypeBloodPressure RecordType = "bloodPressure"
	TypeBloodSugar    RecordType = "bloodSugar"
	TypeExercise      RecordType = "exercise"
	TypeSleep         RecordType = "sleep"
)

// Types lists every domain in extraction order.
var Types = []RecordType{TypeWeight, TypeBloodPressure, TypeBloodSugar, TypeExercise, TypeSleep}

// ParseType validates a record type string.
func ParseType(s string) (RecordType, error) {
	for _, t := range Types {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown record type %q", s)
}

// SleepQuality is the coarse self-reported sleep rating.
type SleepQuality string

const (
	QualityGood SleepQuality = "good"
	QualityFair SleepQuality = "fair"
	QualityPoor SleepQuality = "poor"
)

// Meta is shared by every domain record. CapturedAt is when the audio was
// captured, not when it was recognized.
type Meta struct {
	ID         string    `json:"id"`
	CapturedAt time.Time `json:"timestamp"`
}

// Weight in kilograms.
type Weight struct {
	Meta
	Value float64 `json:"value"`
}

// BloodPressure in mmHg.
type BloodPressure struct {
	Meta
	Systolic  int `json:"systolic"`
	Diastolic int `json:"diastolic"`
}

// BloodSugar in mmol/L.
type BloodSugar struct {
	Meta
	Value float64 `json:"value"`
}

type Exercise struct {
	Meta
	Activity        string `json:"type"`
	DurationMinutes int    `json:"duration"`
}

type Sleep struct {
	Meta
	BedTime         time.Time    `json:"bedTime"`
	WakeTime        time.Time    `json:"wakeTime"`
	DurationMinutes int          `json:"duration"`
	Quality         SleepQuality `json:"quality"`
}

// ExtractionResult holds at most one record per domain. A nil slot means the
// domain was not mentioned or did not validate.
type ExtractionResult struct {
	Weight        *Weight        `json:"weight,omitempty"`
	BloodPressure *BloodPressure `json:"bloodPressure,omitempty"`
	BloodSugar    *BloodSugar    `json:"bloodSugar,omitempty"`
	Exercise      *Exercise      `json:"exercise,omitempty"`
	Sleep         *Sleep         `json:"sleep,omitempty"`
}

// Empty reports whether no domain was recognized.
func (r ExtractionResult) Empty() bool {
	return r.Weight == nil && r.BloodPressure == nil && r.BloodSugar == nil &&
		r.Exercise == nil && r.Sleep == nil
}

// Domains returns the populated domains in extraction order.
func (r ExtractionResult) Domains() []RecordType {
	var out []RecordType
	if r.Weight != nil {
		out = append(out, TypeWeight)
	}
	if r.BloodPressure != nil {
		out = append(out, TypeBloodPressure)
	}
	if r.BloodSugar != nil {
		out = append(out, TypeBloodSugar)
	}
	if r.Exercise != nil {
		out = append(out, TypeExercise)
	}
	if r.Sleep != nil {
		out = append(out, TypeSleep)
	}
	return out
}

// Record is the storage envelope handed to the record store.
type Record struct {
	ID        string          `json:"id"`
	Type      RecordType      `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Records converts the populated slots into storage envelopes.
func (r ExtractionResult) Records() ([]Record, error) {
	var out []Record
	add := func(t RecordType, m Meta, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s record: %w", t, err)
		}
		out = append(out, Record{ID: m.ID, Type: t, Data: data, Timestamp: m.CapturedAt})
		return nil
	}
	if r.Weight != nil {
		if err := add(TypeWeight, r.Weight.Meta, r.Weight); err != nil {
			return nil, err
		}
	}
	if r.BloodPressure != nil {
		if err := add(TypeBloodPressure, r.BloodPressure.Meta, r.BloodPressure); err != nil {
			return nil, err
		}
	}
	if r.BloodSugar != nil {
		if err := add(TypeBloodSugar, r.BloodSugar.Meta, r.BloodSugar); err != nil {
			return nil, err
		}
	}
	if r.Exercise != nil {
		if err := add(TypeExercise, r.Exercise.Meta, r.Exercise); err != nil {
			return nil, err
		}
	}
	if r.Sleep != nil {
		if err := add(TypeSleep, r.Sleep.Meta, r.Sleep); err != nil {
			return nil, err
		}
	}
	return out, nil
}
