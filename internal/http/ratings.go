package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Clark-Hu/upskillpro-ratings/internal/auth"
	"github.com/Clark-Hu/upskillpro-ratings/internal/domain"
	"github.com/Clark-Hu/upskillpro-ratings/internal/logging"
	"github.com/Clark-Hu/upskillpro-ratings/internal/rating"
)

const maxRequestBody = 1 << 20 // 1 MiB

type errorResponse struct {
	Error   string      `json:"error"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

type submitRatingRequest struct {
	Rating json.RawMessage `json:"rating"`
	Review *string         `json:"review"`
}

type ratingResponse struct {
	UserID          string    `json:"userId"`
	CourseID        string    `json:"courseId"`
	Rating          int       `json:"rating"`
	Review          *string   `json:"review"`
	UserDisplayName string    `json:"userDisplayName,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type ratingListResponse struct {
	Ratings          []ratingResponse `json:"ratings"`
	LastEvaluatedKey *string          `json:"lastEvaluatedKey,omitempty"`
	HasMore          bool             `json:"hasMore"`
}

type statsResponse struct {
	AverageRating oneDecimal       `json:"averageRating"`
	RatingCount   int64            `json:"ratingCount"`
	Distribution  map[string]int64 `json:"distribution"`
}

type instructorCourseResponse struct {
	CourseID      string           `json:"courseId"`
	CourseTitle   string           `json:"courseTitle"`
	AverageRating oneDecimal       `json:"averageRating"`
	RatingCount   int64            `json:"ratingCount"`
	Distribution  map[string]int64 `json:"distribution"`
	RecentReviews []ratingResponse `json:"recentReviews"`
}

type instructorResponse struct {
	Courses []instructorCourseResponse `json:"courses"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type purgeResponse struct {
	CourseID string `json:"courseId"`
	Removed  int64  `json:"removed"`
}

// oneDecimal encodes an already rounded average with exactly one fractional
// digit, so 5 is sent as 5.0.
type oneDecimal float64

func (d oneDecimal) MarshalJSON() ([]byte, error) {
	return strconv.AppendFloat(nil, float64(d), 'f', 1, 64), nil
}

func (s *Server) handleSubmitRating(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.IdentityFromContext(r.Context())

	var req submitRatingRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	stars, err := rating.ParseStars(req.Rating)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	saved, err := s.ratings.SubmitRating(r.Context(), caller, chi.URLParam(r, "courseId"), stars, req.Review)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toRatingResponse(saved))
}

func (s *Server) handleDeleteRating(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.IdentityFromContext(r.Context())
	if err := s.ratings.DeleteMyRating(r.Context(), caller, chi.URLParam(r, "courseId")); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, messageResponse{Message: "Rating deleted"})
}

func (s *Server) handleGetMyRating(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.IdentityFromContext(r.Context())
	mine, err := s.ratings.GetMyRating(r.Context(), caller, chi.URLParam(r, "courseId"))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if mine == nil {
		s.respondError(w, http.StatusNotFound, rating.CodeRatingNotFound, "rating not found")
		return
	}
	s.respondJSON(w, http.StatusOK, toRatingResponse(*mine))
}

func (s *Server) handleListCourseRatings(w http.ResponseWriter, r *http.Request) {
	limit, token, err := parsePageQuery(r)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	page, err := s.ratings.ListCourseRatings(r.Context(), chi.URLParam(r, "courseId"), limit, token)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toRatingListResponse(page))
}

func (s *Server) handleListMyRatings(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.IdentityFromContext(r.Context())
	limit, token, err := parsePageQuery(r)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	page, err := s.ratings.ListUserRatings(r.Context(), caller, limit, token)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toRatingListResponse(page))
}

func (s *Server) handleRatingStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ratings.GetRatingStats(r.Context(), chi.URLParam(r, "courseId"))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toStatsResponse(stats))
}

func (s *Server) handleInstructorRatings(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.IdentityFromContext(r.Context())
	courseID := strings.TrimSpace(r.URL.Query().Get("courseId"))

	rows, err := s.ratings.GetInstructorRatings(r.Context(), caller, courseID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	resp := instructorResponse{Courses: make([]instructorCourseResponse, 0, len(rows))}
	for _, row := range rows {
		stats := toStatsResponse(row.Stats)
		resp.Courses = append(resp.Courses, instructorCourseResponse{
			CourseID:      row.Course.ID,
			CourseTitle:   row.Course.Title,
			AverageRating: stats.AverageRating,
			RatingCount:   stats.RatingCount,
			Distribution:  stats.Distribution,
			RecentReviews: toRatingResponses(row.RecentReviews),
		})
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePurgeCourse(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.IdentityFromContext(r.Context())
	courseID := chi.URLParam(r, "courseId")
	removed, err := s.ratings.PurgeCourse(r.Context(), caller, courseID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, purgeResponse{CourseID: courseID, Removed: removed})
}

func (s *Server) handleRebuildStats(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.IdentityFromContext(r.Context())
	stats, err := s.ratings.RebuildStats(r.Context(), caller, chi.URLParam(r, "courseId"))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toStatsResponse(stats))
}

// parsePageQuery reads ?limit and ?lastKey. Range checks belong to the service.
func parsePageQuery(r *http.Request) (int, string, error) {
	query := r.URL.Query()
	limit := 0
	if val := strings.TrimSpace(query.Get("limit")); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return 0, "", &rating.Error{
				Kind:    rating.KindValidation,
				Code:    rating.CodeValidation,
				Message: "limit must be an integer",
				Details: map[string]string{"limit": val},
			}
		}
		// The service reads 0 as "default page size"; an explicit 0 is out of range.
		if n == 0 {
			n = -1
		}
		limit = n
	}
	return limit, strings.TrimSpace(query.Get("lastKey")), nil
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.Warn("failed to encode response", zap.Error(err))
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, errorResponse{
		Error: message,
		Code:  code,
	})
}

// respondServiceError writes the envelope for a classified error. Anything
// unclassified is an INTERNAL_ERROR.
func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := rating.AsError(err)
	if !ok {
		e = &rating.Error{Kind: rating.KindInternal, Code: rating.CodeInternal, Message: "internal error", Err: err}
	}
	status := statusForKind(e.Kind)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", logging.RequestID(r.Context())),
			zap.Error(err),
		)
	}
	s.respondJSON(w, status, errorResponse{Error: e.Message, Code: e.Code, Details: e.Details})
}

func statusForKind(kind rating.Kind) int {
	switch kind {
	case rating.KindValidation:
		return http.StatusBadRequest
	case rating.KindUnauthenticated:
		return http.StatusUnauthorized
	case rating.KindForbidden:
		return http.StatusForbidden
	case rating.KindNotFound:
		return http.StatusNotFound
	case rating.KindConflict:
		return http.StatusConflict
	case rating.KindUnavailable:
		return http.StatusServiceUnavailable
	case rating.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondDecodeError(w http.ResponseWriter, err error) {
	var syntaxError *json.SyntaxError
	var typeError *json.UnmarshalTypeError
	var maxBytesError *http.MaxBytesError
	switch {
	case errors.As(err, &syntaxError):
		s.respondError(w, http.StatusBadRequest, rating.CodeValidation, "Malformed JSON payload")
	case errors.As(err, &typeError):
		s.respondError(w, http.StatusBadRequest, rating.CodeValidation, fmt.Sprintf("Invalid value for field %s", typeError.Field))
	case errors.As(err, &maxBytesError):
		s.respondError(w, http.StatusBadRequest, rating.CodeValidation, "Request body too large")
	case errors.Is(err, io.EOF):
		s.respondError(w, http.StatusBadRequest, rating.CodeValidation, "Request body cannot be empty")
	default:
		s.respondError(w, http.StatusBadRequest, rating.CodeValidation, "Unable to parse request body")
	}
}

func (s *Server) unauthorized(w http.ResponseWriter, r *http.Request) {
	s.respondError(w, http.StatusUnauthorized, rating.CodeUnauthorized, "Missing or invalid authentication information")
}

func (s *Server) forbidden(w http.ResponseWriter, r *http.Request) {
	s.respondError(w, http.StatusForbidden, rating.CodeForbidden, "Insufficient role for this resource")
}

func toRatingResponse(r domain.Rating) ratingResponse {
	return ratingResponse{
		UserID:          r.UserID,
		CourseID:        r.CourseID,
		Rating:          r.Stars,
		Review:          r.Review,
		UserDisplayName: r.UserDisplayName,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func toRatingResponses(ratings []domain.Rating) []ratingResponse {
	out := make([]ratingResponse, 0, len(ratings))
	for _, r := range ratings {
		out = append(out, toRatingResponse(r))
	}
	return out
}

func toRatingListResponse(page domain.RatingPage) ratingListResponse {
	return ratingListResponse{
		Ratings:          toRatingResponses(page.Ratings),
		LastEvaluatedKey: page.NextCursor,
		HasMore:          page.NextCursor != nil,
	}
}

func toStatsResponse(stats rating.Stats) statsResponse {
	dist := make(map[string]int64, domain.MaxStars)
	for stars := domain.MinStars; stars <= domain.MaxStars; stars++ {
		dist[strconv.Itoa(stars)] = stats.Distribution.Get(stars)
	}
	return statsResponse{
		AverageRating: oneDecimal(stats.AverageRating),
		RatingCount:   stats.RatingCount,
		Distribution:  dist,
	}
}
