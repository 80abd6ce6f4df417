// Command enrollment-mock serves GET /enrollments?userId=&courseId= from a
// JSON file mapping course ids to enrolled user ids. It stands in for the
// platform enrollment service during local development.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/Clark-Hu/upskillpro-ratings/internal/logging"
)

type enrollmentResponse struct {
	UserID   string `json:"userId"`
	CourseID string `json:"courseId"`
	Enrolled bool   `json:"enrolled"`
	Status   string `json:"status"`
}

func main() {
	var (
		port   = flag.String("port", "9099", "port to listen on")
		data   = flag.String("data", "mock-enrollments.json", "path to mock data file")
		apiKey = flag.String("api-key", "", "require this X-API-Key when set")
		debug  = flag.Bool("debug", false, "log every request")
	)
	flag.Parse()

	level := "info"
	if *debug {
		level = "debug"
	}
	logger, err := logging.New("development", level)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	file, err := os.ReadFile(*data)
	if err != nil {
		logger.Fatal("read mock data", zap.Error(err))
	}
	var payload map[string][]string
	if err := json.Unmarshal(file, &payload); err != nil {
		logger.Fatal("parse mock data", zap.Error(err))
	}
	enrolled := make(map[string]map[string]bool, len(payload))
	for courseID, users := range payload {
		enrolled[courseID] = make(map[string]bool, len(users))
		for _, userID := range users {
			enrolled[courseID][userID] = true
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/enrollments", func(w http.ResponseWriter, r *http.Request) {
		if *apiKey != "" && r.Header.Get("X-API-Key") != *apiKey {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		userID := r.URL.Query().Get("userId")
		courseID := r.URL.Query().Get("courseId")
		if userID == "" || courseID == "" {
			http.Error(w, "userId and courseId are required", http.StatusBadRequest)
			return
		}
		if _, ok := enrolled[courseID]; !ok {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		resp := enrollmentResponse{UserID: userID, CourseID: courseID, Enrolled: enrolled[courseID][userID], Status: "inactive"}
		if resp.Enrolled {
			resp.Status = "active"
		}
		logger.Debug("enrollment lookup", zap.String("user_id", userID), zap.String("course_id", courseID), zap.Bool("enrolled", resp.Enrolled))
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	addr := ":" + *port
	logger.Info("mock enrollment service listening", zap.String("addr", addr), zap.Int("courses", len(enrolled)))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
