package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Jeremytpk/quicktrash-sub002/internal/dispatch"
	"github.com/Jeremytpk/quicktrash-sub002/internal/geo"
	"github.com/Jeremytpk/quicktrash-sub002/internal/ingest"
	"github.com/Jeremytpk/quicktrash-sub002/internal/models"
	"github.com/Jeremytpk/quicktrash-sub002/internal/pricing"
	"github.com/Jeremytpk/quicktrash-sub002/internal/proximity"
	"github.com/Jeremytpk/quicktrash-sub002/internal/store"
)

type Server struct {
	Store    store.JobStore
	Registry geo.Registry
	Engine   *dispatch.Engine
	Kafka    *ingest.KafkaProducer
	WSReg    *dispatch.WSRegistry

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(s store.JobStore, reg geo.Registry, eng *dispatch.Engine, kp *ingest.KafkaProducer, wsreg *dispatch.WSRegistry, logger *slog.Logger) *Server {
	srv := &Server{
		Store:    s,
		Registry: reg,
		Engine:   eng,
		Kafka:    kp,
		WSReg:    wsreg,
		logger:   logger.With("component", "http"),
		mux:      mux.NewRouter(),
	}
	srv.registerMiddleware()
	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/jobs", s.handleCreateJob).Methods("POST")
	s.mux.HandleFunc("/api/v1/jobs/{job_id}", s.handleGetJob).Methods("GET")
	s.mux.HandleFunc("/api/v1/jobs/{job_id}/accept", s.handleAccept).Methods("POST")
	s.mux.HandleFunc("/api/v1/jobs/{job_id}/decline", s.handleDecline).Methods("POST")
	s.mux.HandleFunc("/api/v1/jobs/{job_id}/arrive", s.handleArrive).Methods("POST")
	s.mux.HandleFunc("/api/v1/jobs/{job_id}/complete", s.handleComplete).Methods("POST")
	s.mux.HandleFunc("/api/v1/jobs/{job_id}/cancel", s.handleCancel).Methods("POST")
	s.mux.HandleFunc("/api/v1/workers/{worker_id}/status", s.handleWorkerStatus).Methods("POST")
	s.mux.HandleFunc("/internal/worker/locations", s.handleWorkerLocation).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{worker_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createJobRequest struct {
	CustomerID     string       `json:"customerId"`
	WasteType      string       `json:"wasteType"`
	VolumeOptionID string       `json:"volumeOptionId"`
	BagSizeID      string       `json:"bagSizeId"`
	Pickup         models.Coord `json:"pickupCoordinates"`
	IsASAP         bool         `json:"isASAP"`
	ScheduledAt    *time.Time   `json:"scheduledAt,omitempty"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "customerId required")
		return
	}
	if !pricing.ValidWasteType(req.WasteType) {
		writeError(w, http.StatusBadRequest, "unknown waste type")
		return
	}
	if !req.IsASAP && req.ScheduledAt == nil {
		writeError(w, http.StatusBadRequest, "scheduledAt required for scheduled pickups")
		return
	}
	breakdown, err := pricing.Quote(req.VolumeOptionID, req.BagSizeID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := models.StatusPending
	if req.IsASAP {
		status = models.StatusAvailable
	}
	job := &models.Job{
		ID:             uuid.NewString(),
		CustomerID:     req.CustomerID,
		Status:         status,
		WasteType:      req.WasteType,
		VolumeOptionID: req.VolumeOptionID,
		BagSizeID:      req.BagSizeID,
		Pickup:         req.Pickup,
		Pricing:        &breakdown,
		IsASAP:         req.IsASAP,
		ScheduledAt:    req.ScheduledAt,
		CreatedAt:      time.Now(),
	}
	if err := s.Store.Create(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"job": job})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.Store.Get(r.Context(), mux.Vars(r)["job_id"])
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

type workerActionRequest struct {
	WorkerID string `json:"workerId"`
}

func (s *Server) workerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req workerActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WorkerID == "" {
		writeError(w, http.StatusBadRequest, "workerId required")
		return "", false
	}
	return req.WorkerID, true
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	workerID, ok := s.workerID(w, r)
	if !ok {
		return
	}
	job, err := s.Engine.AcceptOffer(r.Context(), mux.Vars(r)["job_id"], workerID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	workerID, ok := s.workerID(w, r)
	if !ok {
		return
	}
	if err := s.Engine.DeclineOffer(r.Context(), mux.Vars(r)["job_id"], workerID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"declined": true})
}

func (s *Server) handleArrive(w http.ResponseWriter, r *http.Request) {
	workerID, ok := s.workerID(w, r)
	if !ok {
		return
	}
	job, err := s.Engine.ConfirmArrival(r.Context(), mux.Vars(r)["job_id"], workerID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	workerID, ok := s.workerID(w, r)
	if !ok {
		return
	}
	job, err := s.Engine.CompleteJob(r.Context(), mux.Vars(r)["job_id"], workerID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	job, err := s.Engine.CancelJob(r.Context(), mux.Vars(r)["job_id"])
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

type workerStatusRequest struct {
	Online bool `json:"online"`
}

func (s *Server) handleWorkerStatus(w http.ResponseWriter, r *http.Request) {
	var req workerStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := mux.Vars(r)["worker_id"]
	if req.Online {
		s.Engine.OnOnline(r.Context(), id)
	} else {
		s.Engine.OnOffline(r.Context(), id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWorkerLocation(w http.ResponseWriter, r *http.Request) {
	var f models.Fix
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.WorkerID == "" {
		writeError(w, http.StatusBadRequest, "worker_id required")
		return
	}
	if f.At.IsZero() {
		f.At = time.Now()
	}
	if s.Kafka != nil {
		if err := s.Kafka.PublishFix(f); err != nil {
			s.logger.Warn("kafka publish failed", "worker_id", f.WorkerID, "error", err)
		}
	}
	s.Engine.OnFix(r.Context(), f)
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["worker_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "upgrade failed")
		return
	}
	s.WSReg.Add(id, conn)
	go func() {
		defer s.WSReg.Remove(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// writeDomainError maps expected dispatch outcomes to statuses; races and
// expirations are normal results here, never 5xx.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, dispatch.ErrJobAlreadyClaimed):
		writeError(w, http.StatusConflict, "job already claimed")
	case errors.Is(err, dispatch.ErrOfferExpired):
		writeError(w, http.StatusGone, "offer expired")
	case errors.Is(err, dispatch.ErrNoOffer):
		writeError(w, http.StatusNotFound, "no offer for worker")
	case errors.Is(err, dispatch.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid job state for operation")
	case errors.Is(err, proximity.ErrOutOfRange):
		writeError(w, http.StatusUnprocessableEntity, "outside arrival threshold")
	case errors.Is(err, proximity.ErrLocationUnavailable):
		writeError(w, http.StatusUnprocessableEntity, "no recent location fix")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "conflicting update")
	default:
		s.logger.Error("request failed", "error", err, "request_id", requestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
