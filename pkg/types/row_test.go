package types

import (
	"errors"
	"testing"
)

func TestVisitRowFromRecord_SubstitutesNullNonKeyFields(t *testing.T) {
	rec := StringRecord("P-1", "example.com", "index.html", "h", "hh", "house", "r", "t", "12", "/u", "/p", "ua", "1.1.1.1", "origin")
	rec[5] = nil
	rec[13] = nil

	row, err := VisitRowFromRecord(rec)
	if err != nil {
		t.Fatalf("VisitRowFromRecord failed: %v", err)
	}
	if row.PropertyType != "" {
		t.Errorf("expected empty property_type, got %q", row.PropertyType)
	}
	if row.XForwardedForOrigin != "" {
		t.Errorf("expected empty x_forwarded_for_origin, got %q", row.XForwardedForOrigin)
	}
	if row.Key() != "P-1" {
		t.Errorf("expected key P-1, got %q", row.Key())
	}

	values := row.Values()
	if len(values) != VisitColumnCount {
		t.Fatalf("expected %d values, got %d", VisitColumnCount, len(values))
	}
	for i, v := range values {
		if v == nil {
			t.Errorf("value %d should not be nil", i)
		}
	}
}

func TestVisitRowFromRecord_NullKeyPassesThrough(t *testing.T) {
	rec := StringRecord(make([]string, VisitColumnCount)...)
	rec[0] = nil

	row, err := VisitRowFromRecord(rec)
	if err != nil {
		t.Fatalf("VisitRowFromRecord failed: %v", err)
	}
	if row.PropertyNumber != nil {
		t.Error("null key must not be substituted")
	}
	if row.Values()[0] != nil {
		t.Errorf("expected nil key value, got %v", row.Values()[0])
	}
	if row.Key() != "<null>" {
		t.Errorf("unexpected display key %q", row.Key())
	}
}

func TestVisitRowFromRecord_WrongFieldCount(t *testing.T) {
	_, err := VisitRowFromRecord(StringRecord("a", "b"))
	if !errors.Is(err, ErrFieldCount) {
		t.Errorf("expected ErrFieldCount, got %v", err)
	}
}

func TestVisitColumnsMatchesCount(t *testing.T) {
	if len(VisitColumns) != VisitColumnCount {
		t.Errorf("VisitColumns has %d entries, want %d", len(VisitColumns), VisitColumnCount)
	}
}
