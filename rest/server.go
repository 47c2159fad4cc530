package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/agentorchy/broadcast"
	"github.com/mohitkumar/agentorchy/logger"
	"github.com/mohitkumar/agentorchy/metadata"
	"github.com/mohitkumar/agentorchy/model"
	"github.com/mohitkumar/agentorchy/orchestrator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	http.Server
	Port      int
	orch      *orchestrator.Orchestrator
	sequences *metadata.SequenceService
	hub       *broadcast.Hub
	state     *orchestrator.MemoryStateStore
}

// NewServer wires the HTTP API. hub, state and gatherer are optional; the
// routes that need them are only registered when they are set.
func NewServer(httpPort int, orch *orchestrator.Orchestrator, sequences *metadata.SequenceService,
	hub *broadcast.Hub, state *orchestrator.MemoryStateStore, gatherer prometheus.Gatherer) (*Server, error) {
	if orch == nil || sequences == nil {
		return nil, errors.New("rest server needs an orchestrator and a sequence service")
	}
	s := &Server{
		Server: http.Server{
			Addr:        fmt.Sprintf(":%d", httpPort),
			IdleTimeout: 30 * time.Second,
		},
		Port:      httpPort,
		orch:      orch,
		sequences: sequences,
		hub:       hub,
		state:     state,
	}
	s.Handler = s.routes(gatherer)
	return s, nil
}

func (s *Server) routes(gatherer prometheus.Gatherer) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.HandleHealth).Methods(http.MethodGet)

	router.HandleFunc("/workflows", s.HandleStartWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/workflows", s.HandleListActive).Methods(http.MethodGet)
	router.HandleFunc("/workflows/{id}", s.HandleGetWorkflow).Methods(http.MethodGet)
	router.HandleFunc("/workflows/{id}/status", s.HandleGetStatus).Methods(http.MethodGet)
	router.HandleFunc("/workflows/{id}/step", s.HandleExecuteStep).Methods(http.MethodPost)
	router.HandleFunc("/workflows/{id}/pause", s.HandlePause).Methods(http.MethodPost)
	router.HandleFunc("/workflows/{id}/resume", s.HandleResume).Methods(http.MethodPost)
	router.HandleFunc("/workflows/{id}/cancel", s.HandleCancel).Methods(http.MethodPost)
	router.HandleFunc("/workflows/{id}/elicitation", s.HandleElicitation).Methods(http.MethodPost)
	router.HandleFunc("/workflows/{id}/checkpoints", s.HandleCreateCheckpoint).Methods(http.MethodPost)
	router.HandleFunc("/workflows/{id}/rollback", s.HandleRollback).Methods(http.MethodPost)
	router.HandleFunc("/workflows/{id}/rollback/resume", s.HandleResumeFromRollback).Methods(http.MethodPost)
	router.HandleFunc("/workflows/{id}/history", s.HandleHistory).Methods(http.MethodGet)
	router.HandleFunc("/workflows/{id}/timeline", s.HandleTimeline).Methods(http.MethodGet)
	router.HandleFunc("/workflows/{id}/artifacts", s.HandleArtifacts).Methods(http.MethodGet)
	router.HandleFunc("/workflows/{id}/subscription", s.HandleSubscribe).Methods(http.MethodPost)
	router.HandleFunc("/workflows/{id}/subscription", s.HandleUnsubscribe).Methods(http.MethodDelete)
	if s.state != nil {
		router.HandleFunc("/workflows/{id}/ui-state", s.HandleUIState).Methods(http.MethodGet)
	}
	if s.hub != nil {
		router.HandleFunc("/ws/workflows/{id}", s.HandleStream).Methods(http.MethodGet)
	}

	router.HandleFunc("/agents", s.HandleListAgents).Methods(http.MethodGet)
	router.HandleFunc("/agents/{id}", s.HandleGetAgent).Methods(http.MethodGet)
	router.HandleFunc("/sequences", s.HandleListSequences).Methods(http.MethodGet)
	router.HandleFunc("/sequences/validate", s.HandleValidateSequence).Methods(http.MethodPost)

	router.HandleFunc("/definitions", s.HandleSaveDefinition).Methods(http.MethodPost)
	router.HandleFunc("/definitions", s.HandleListDefinitions).Methods(http.MethodGet)
	router.HandleFunc("/definitions/{name}", s.HandleGetDefinition).Methods(http.MethodGet)
	router.HandleFunc("/definitions/{name}", s.HandleDeleteDefinition).Methods(http.MethodDelete)

	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	router.Use(loggingMiddleware)
	return router
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	if err != nil {
		logger.Error("error shutting down http server", zap.Error(err))
	}
	return err
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.orch.Initialized() {
		respondWithError(w, http.StatusServiceUnavailable, model.ErrNotInitialized.Error())
		return
	}
	respondOK(w, map[string]any{"status": "ok"})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("http request", zap.String("method", r.Method), zap.String("uri", r.RequestURI))
		next.ServeHTTP(w, r)
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, message map[string]any) {
	respondWithJSON(w, http.StatusOK, message)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithServiceError maps orchestrator errors onto status codes.
func respondWithServiceError(w http.ResponseWriter, err error) {
	var verr *model.ValidationError
	var terr *model.TransitionError
	switch {
	case errors.As(err, &verr):
		respondWithJSON(w, http.StatusBadRequest, map[string]any{"error": verr.Message, "details": verr.Errors})
	case errors.Is(err, model.ErrNotInitialized):
		respondWithError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, model.ErrWorkflowNotFound),
		errors.Is(err, model.ErrAgentNotFound),
		errors.Is(err, model.ErrCheckpointNotFound),
		errors.Is(err, model.ErrSequenceNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &terr),
		errors.Is(err, model.ErrWorkflowTerminal),
		errors.Is(err, model.ErrStepInFlight):
		respondWithError(w, http.StatusConflict, err.Error())
	default:
		logger.Error("request failed", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	if r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &model.ValidationError{Message: "malformed request body", Errors: []string{err.Error()}}
	}
	return nil
}
