package rating

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseStars(t *testing.T) {
	cases := []struct {
		raw  string
		want int
		ok   bool
	}{
		{`5`, 5, true},
		{` 1 `, 1, true},
		{`0`, 0, false},
		{`6`, 0, false},
		{`-1`, 0, false},
		{`3.5`, 0, false},
		{`5.0`, 0, false},
		{`1e0`, 0, false},
		{`"5"`, 0, false},
		{`null`, 0, false},
		{`true`, 0, false},
		{`[5]`, 0, false},
		{`5 6`, 0, false},
		{``, 0, false},
	}
	for _, tc := range cases {
		got, err := ParseStars(json.RawMessage(tc.raw))
		if tc.ok {
			if err != nil || got != tc.want {
				t.Fatalf("ParseStars(%q) = %d, %v; want %d", tc.raw, got, err, tc.want)
			}
			continue
		}
		if ErrorCode(err) != CodeInvalidRating {
			t.Fatalf("ParseStars(%q) error = %v, want INVALID_RATING", tc.raw, err)
		}
	}
}

func FuzzParseStars(f *testing.F) {
	for _, seed := range []string{`1`, `5`, `3.5`, `"5"`, `null`, `-0`, `1e1`} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		stars, err := ParseStars(json.RawMessage(raw))
		if err != nil {
			if ErrorCode(err) != CodeInvalidRating {
				t.Fatalf("unexpected code for %q: %v", raw, err)
			}
			return
		}
		if stars < 1 || stars > 5 {
			t.Fatalf("ParseStars(%q) accepted %d", raw, stars)
		}
	})
}

func TestNormalizeReview(t *testing.T) {
	str := func(s string) *string { return &s }

	if got, err := NormalizeReview(nil); got != nil || err != nil {
		t.Fatalf("nil review = %v, %v", got, err)
	}
	if got, _ := NormalizeReview(str(" \t\n ")); got != nil {
		t.Fatalf("whitespace review should be absent, got %q", *got)
	}
	if got, _ := NormalizeReview(str("  Great!  ")); got == nil || *got != "Great!" {
		t.Fatalf("trim failed: %v", got)
	}

	// "e" + combining acute composes to one scalar under NFC.
	decomposed := strings.Repeat("e\u0301", 1000)
	got, err := NormalizeReview(&decomposed)
	if err != nil {
		t.Fatalf("1000 composed characters rejected: %v", err)
	}
	if !strings.HasPrefix(*got, "\u00e9") {
		t.Fatalf("review not NFC-normalized")
	}

	exact := strings.Repeat("a", 1000)
	if _, err := NormalizeReview(&exact); err != nil {
		t.Fatalf("1000 characters rejected: %v", err)
	}
	over := strings.Repeat("a", 1001)
	if _, err := NormalizeReview(&over); ErrorCode(err) != CodeReviewTooLong {
		t.Fatalf("1001 characters error = %v, want REVIEW_TOO_LONG", err)
	}
}

func TestNormalizeReviewRejectsControlCharacters(t *testing.T) {
	for _, bad := range []string{"good\x00course", "bell\a", "esc\x1b[0m", "del\x7f", "nel\u0085inside"} {
		text := bad
		if _, err := NormalizeReview(&text); ErrorCode(err) != CodeValidation {
			t.Fatalf("NormalizeReview(%q) error = %v, want VALIDATION_ERROR", bad, err)
		}
	}
	multiline := "line one\r\nline two\n\tindented"
	got, err := NormalizeReview(&multiline)
	if err != nil || *got != multiline {
		t.Fatalf("multi-line review = %v, %v", got, err)
	}
}

func TestValidateID(t *testing.T) {
	cases := []struct {
		id   string
		rule string
	}{
		{"", "required"},
		{"a#b", "keyid"},
		{"has space", "keyid"},
		{"tab\tid", "keyid"},
		{"nul\x00id", "keyid"},
		{strings.Repeat("x", 129), "keyid"},
		// 65 two-byte characters exceed the byte bound.
		{strings.Repeat("\u00e9", 65), "keyid"},
	}
	for _, tc := range cases {
		err := validateID("courseId", tc.id)
		if ErrorCode(err) != CodeValidation {
			t.Fatalf("validateID(%q) = %v, want VALIDATION_ERROR", tc.id, err)
		}
		var e *Error
		if !errors.As(err, &e) {
			t.Fatalf("validateID(%q) returned %T", tc.id, err)
		}
		details, _ := e.Details.(map[string]string)
		if details["rule"] != tc.rule || details["field"] != "courseId" {
			t.Fatalf("validateID(%q) details = %v, want rule %q", tc.id, e.Details, tc.rule)
		}
	}
	for _, good := range []string{"go-101", "c_01HZY", "user.3:x", strings.Repeat("x", 128), strings.Repeat("\u00e9", 64)} {
		if err := validateID("courseId", good); err != nil {
			t.Fatalf("validateID(%q) = %v", good, err)
		}
	}
}

func TestValidatePage(t *testing.T) {
	for _, limit := range []int{0, 1, 20, 100} {
		if err := validatePage(limit); err != nil {
			t.Fatalf("validatePage(%d) = %v", limit, err)
		}
	}
	for _, limit := range []int{-1, 101, 1 << 20} {
		if err := validatePage(limit); ErrorCode(err) != CodeValidation {
			t.Fatalf("validatePage(%d) = %v, want VALIDATION_ERROR", limit, err)
		}
	}
}
