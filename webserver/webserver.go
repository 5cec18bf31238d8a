package webserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/didip/tollbooth"
	"github.com/didip/tollbooth/limiter"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/checkin"
)

const (
	maxRequestBody = 64 << 10
	claimTimeout   = 3 * time.Minute
)

// Server hosts a remote check-in worker: the scheduler POSTs one job at a
// time and gets the outcome back.
type Server struct {
	client  checkin.GameClient
	limiter *limiter.Limiter
	log     logrus.FieldLogger
	http    *http.Server
}

// New builds the worker host. rate is the allowed requests per second per
// client address; zero disables limiting.
func New(addr string, client checkin.GameClient, rate float64, log logrus.FieldLogger) *Server {
	s := &Server{client: client, log: log}
	if rate > 0 {
		s.limiter = tollbooth.NewLimiter(rate, &limiter.ExpirableOptions{DefaultExpirationTTL: time.Hour})
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 20 * time.Second,
	}
	return s
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/daily-reward", s.DailyRewardHandler).Methods(http.MethodPost)
	return r
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		s.log.Infof("Check-in worker listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Fatal("Failed to start check-in worker")
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) DailyRewardHandler(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		if httpError := tollbooth.LimitByRequest(s.limiter, w, r); httpError != nil {
			http.Error(w, httpError.Message, httpError.StatusCode)
			return
		}
	}

	var req checkin.RemoteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || (!req.HasGenshin && !req.HasStarrail) {
		http.Error(w, "user_id and at least one game are required", http.StatusBadRequest)
		return
	}

	// finish the claim even if the caller hangs up
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), claimTimeout)
	defer cancel()

	outcome := checkin.ClaimAll(ctx, s.client, checkin.JobFromRequest(req))
	s.log.WithField("user", req.UserID).WithField("failed", outcome.Failed).Info("Processed daily reward job")

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(outcome.Response()); err != nil {
		s.log.WithError(err).Error("Failed to write daily reward response")
	}
}
