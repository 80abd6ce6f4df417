// Package keys defines the composite key schema of the rating table.
//
// A course partition holds every rating row of the course plus its aggregate
// row, so a rating write and its aggregate delta commit together:
//
//	COURSE#<courseId> / RATING#<userId>
//	COURSE#<courseId> / AGG
//
// The per-user access path is a secondary key pair on the rating row:
//
//	USER#<userId> / RATING#<courseId>
package keys

import "unicode"

const (
	coursePrefix = "COURSE#"
	userPrefix   = "USER#"
	ratingPrefix = "RATING#"

	// AggregateSort is the sort key of a course's aggregate row.
	AggregateSort = "AGG"

	// MaxIDLength bounds user and course identifiers, in bytes.
	MaxIDLength = 128

	// Separator ends every key prefix.
	Separator = '#'
)

// ItemKey is the primary key of a row.
type ItemKey struct {
	PK string
	SK string
}

func (k ItemKey) String() string {
	return k.PK + "|" + k.SK
}

// CoursePartition returns the partition key shared by a course's rows.
func CoursePartition(courseID string) string {
	return coursePrefix + courseID
}

// UserPartition returns the secondary partition key listing a user's ratings.
func UserPartition(userID string) string {
	return userPrefix + userID
}

// RatingSort returns the sort key of userID's rating inside a course partition.
func RatingSort(userID string) string {
	return ratingPrefix + userID
}

// UserRatingSort returns the secondary sort key of a rating in a user partition.
func UserRatingSort(courseID string) string {
	return ratingPrefix + courseID
}

// RatingKey is the primary key of the (course, user) rating row.
func RatingKey(courseID, userID string) ItemKey {
	return ItemKey{PK: CoursePartition(courseID), SK: RatingSort(userID)}
}

// UserRatingKey is the secondary key of the (course, user) rating row.
func UserRatingKey(userID, courseID string) ItemKey {
	return ItemKey{PK: UserPartition(userID), SK: UserRatingSort(courseID)}
}

// AggregateKey is the primary key of a course's aggregate row.
func AggregateKey(courseID string) ItemKey {
	return ItemKey{PK: CoursePartition(courseID), SK: AggregateSort}
}

// ReservedRune reports whether r may not appear in an identifier embedded
// in a key.
func ReservedRune(r rune) bool {
	return r == Separator || unicode.IsControl(r) || unicode.IsSpace(r)
}
