package keys

import "testing"

func TestKeySchema(t *testing.T) {
	if got := RatingKey("c1", "u1"); got.PK != "COURSE#c1" || got.SK != "RATING#u1" {
		t.Fatalf("RatingKey = %+v", got)
	}
	if got := AggregateKey("c1"); got.PK != "COURSE#c1" || got.SK != "AGG" {
		t.Fatalf("AggregateKey = %+v", got)
	}
	if got := UserRatingKey("u1", "c1"); got.PK != "USER#u1" || got.SK != "RATING#c1" {
		t.Fatalf("UserRatingKey = %+v", got)
	}
	if RatingKey("c1", "u1").PK != AggregateKey("c1").PK {
		t.Fatalf("rating and aggregate rows must share a partition")
	}
}

func TestReservedRune(t *testing.T) {
	for _, r := range []rune{'#', ' ', '\t', '\n', 0, '\u00a0', '\u2028'} {
		if !ReservedRune(r) {
			t.Fatalf("ReservedRune(%q) = false", r)
		}
	}
	for _, r := range []rune{'a', '-', '_', '.', ':', '\u00e9'} {
		if ReservedRune(r) {
			t.Fatalf("ReservedRune(%q) = true", r)
		}
	}
}
