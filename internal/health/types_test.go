package health

import (
	"encoding/json"
	"testing"
	"time"
)

func TestExtractionResultRecords(t *testing.T) {
	at := time.Date(2025, 3, 4, 8, 0, 0, 0, time.UTC)
	res := ExtractionResult{
		Weight:        &Weight{Meta: Meta{ID: "w1", CapturedAt: at}, Value: 75},
		BloodPressure: &BloodPressure{Meta: Meta{ID: "bp1", CapturedAt: at}, Systolic: 120, Diastolic: 80},
	}
	if res.Empty() {
		t.Fatal("expected non-empty result")
	}
	records, err := res.Records()
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Type != TypeWeight || records[1].Type != TypeBloodPressure {
		t.Fatalf("unexpected order: %v, %v", records[0].Type, records[1].Type)
	}
	var w Weight
	if err := json.Unmarshal(records[0].Data, &w); err != nil {
		t.Fatalf("decode weight: %v", err)
	}
	if w.ID != "w1" || w.Value != 75 || !w.CapturedAt.Equal(at) {
		t.Fatalf("unexpected weight payload: %+v", w)
	}
}

func TestEmptyResult(t *testing.T) {
	var res ExtractionResult
	if !res.Empty() {
		t.Fatal("zero result should be empty")
	}
	if len(res.Domains()) != 0 {
		t.Fatalf("expected no domains, got %v", res.Domains())
	}
}

func TestRecordIDStable(t *testing.T) {
	at := time.Date(2025, 3, 4, 8, 0, 0, 0, time.UTC)
	a := RecordID(TypeWeight, "体重75公斤", at)
	b := RecordID(TypeWeight, "体重75公斤", at)
	if a != b {
		t.Fatalf("expected stable id, got %s and %s", a, b)
	}
	if RecordID(TypeBloodSugar, "体重75公斤", at) == a {
		t.Fatal("expected different id per domain")
	}
	if RecordID(TypeWeight, "体重75公斤", at.Add(time.Second)) == a {
		t.Fatal("expected different id per capture instant")
	}
}

func TestParseType(t *testing.T) {
	if _, err := ParseType("sleep"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ParseType("mood"); err == nil {
		t.Fatal("expected error for unknown type")
	}
}
