package infra

import (
	"testing"

	"genqueue/internal/sqlinline"
)

func TestExtractMarker(t *testing.T) {
	marker, body, err := extractMarker("\n--sql 10469baf-44a2-4c5d-9eb1-cf16dfd3ce0b\nselect 1;\n")
	if err != nil {
		t.Fatalf("extractMarker: %v", err)
	}
	if marker != "10469baf-44a2-4c5d-9eb1-cf16dfd3ce0b" {
		t.Fatalf("marker = %q", marker)
	}
	if body != "select 1;" {
		t.Fatalf("body = %q", body)
	}

	for _, bad := range []string{"select 1;", "--sql not-a-uuid\nselect 1;", ""} {
		if _, _, err := extractMarker(bad); err == nil {
			t.Fatalf("extractMarker(%q) should fail", bad)
		}
	}
}

func TestJobHistoryQueriesCarryMarkers(t *testing.T) {
	seen := map[string]string{}
	for name, q := range map[string]string{
		"QJobHistoryEnsureTable": sqlinline.QJobHistoryEnsureTable,
		"QJobHistoryInsert":      sqlinline.QJobHistoryInsert,
		"QJobHistoryRecent":      sqlinline.QJobHistoryRecent,
		"QJobHistoryGet":         sqlinline.QJobHistoryGet,
	} {
		marker, _, err := extractMarker(q)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if other, dup := seen[marker]; dup {
			t.Fatalf("%s reuses marker of %s", name, other)
		}
		seen[marker] = name
	}
}
