package rating

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"

	"github.com/Clark-Hu/upskillpro-ratings/internal/domain"
	"github.com/Clark-Hu/upskillpro-ratings/internal/keys"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("keyid", validKeyID); err != nil {
		panic(err)
	}
	return v
}

// validKeyID accepts identifiers that can be embedded in a store key
// unchanged.
func validKeyID(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	return len(id) <= keys.MaxIDLength && !strings.ContainsFunc(id, keys.ReservedRune)
}

// validateID checks an identifier that will be embedded in a store key.
func validateID(field, id string) error {
	err := validate.Var(id, "required,keyid")
	if err == nil {
		return nil
	}
	e := newError(KindValidation, CodeValidation, "invalid "+field)
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		e.Details = map[string]string{"field": field, "rule": verrs[0].Tag()}
	}
	e.Err = err
	return e
}

// pageQuery bounds a listing request. Limit 0 selects the default size.
type pageQuery struct {
	Limit int `validate:"min=0,max=100"`
}

func validatePage(limit int) error {
	if err := validate.Struct(pageQuery{Limit: limit}); err != nil {
		e := newError(KindValidation, CodeValidation, "limit must be between 1 and 100")
		e.Details = map[string]int{"limit": limit}
		e.Err = err
		return e
	}
	return nil
}

func invalidRating() *Error {
	return newError(KindValidation, CodeInvalidRating, "rating must be an integer between 1 and 5")
}

// ParseStars decodes a JSON rating value. Only bare integers in 1..5 pass;
// strings, fractions, exponents, null and booleans are INVALID_RATING.
func ParseStars(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '"' || !json.Valid(raw) {
		return 0, invalidRating()
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, invalidRating()
	}
	num, ok := v.(json.Number)
	if !ok {
		return 0, invalidRating()
	}
	stars, err := strconv.Atoi(num.String())
	if err != nil || !domain.ValidStars(stars) {
		return 0, invalidRating()
	}
	return stars, nil
}

// NormalizeReview applies NFC and trims surrounding whitespace. Empty and
// whitespace-only reviews become nil. Control characters other than tab and
// line breaks are rejected.
func NormalizeReview(review *string) (*string, error) {
	if review == nil {
		return nil, nil
	}
	text := strings.TrimSpace(norm.NFC.String(*review))
	if text == "" {
		return nil, nil
	}
	if i := strings.IndexFunc(text, forbiddenReviewRune); i >= 0 {
		e := newError(KindValidation, CodeValidation, "review contains control characters")
		e.Details = map[string]any{"field": "review", "offset": i}
		return nil, e
	}
	if n := utf8.RuneCountInString(text); n > domain.MaxReviewLength {
		e := newError(KindValidation, CodeReviewTooLong, "review must be at most 1000 characters")
		e.Details = map[string]int{"length": n, "max": domain.MaxReviewLength}
		return nil, e
	}
	return &text, nil
}

func forbiddenReviewRune(r rune) bool {
	switch r {
	case '\t', '\n', '\r':
		return false
	}
	return unicode.IsControl(r)
}
