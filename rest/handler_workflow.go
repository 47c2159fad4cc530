package rest

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/agentorchy/logger"
	"github.com/mohitkumar/agentorchy/model"
	"go.uber.org/zap"
)

type StartWorkflowRequest struct {
	Prompt string `json:"prompt"`
	model.StartConfig
}

type CheckpointRequest struct {
	Name string `json:"name"`
}

type RollbackRequest struct {
	CheckpointId string `json:"checkpointId"`
}

func (s *Server) HandleStartWorkflow(w http.ResponseWriter, r *http.Request) {
	var req StartWorkflowRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithServiceError(w, err)
		return
	}
	res, err := s.orch.StartWorkflow(r.Context(), req.Prompt, req.StartConfig)
	if err != nil {
		logger.Info("workflow rejected", zap.String("sequence", req.Sequence), zap.String("template", req.Template), zap.Error(err))
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, res)
}

func (s *Server) HandleListActive(w http.ResponseWriter, r *http.Request) {
	wfs, err := s.orch.GetActiveWorkflows()
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wfs)
}

func (s *Server) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.orch.GetWorkflow(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wf)
}

func (s *Server) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.orch.GetWorkflowStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, report)
}

func (s *Server) HandleExecuteStep(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.orch.ExecuteNextStep(r.Context(), id); err != nil {
		respondWithServiceError(w, err)
		return
	}
	s.respondWithWorkflow(w, r, id)
}

func (s *Server) HandlePause(w http.ResponseWriter, r *http.Request) {
	wf, err := s.orch.PauseWorkflow(r.Context(), mux.Vars(r)["id"])
	s.respondWithResult(w, wf, err)
}

func (s *Server) HandleResume(w http.ResponseWriter, r *http.Request) {
	wf, err := s.orch.ResumeWorkflow(r.Context(), mux.Vars(r)["id"])
	s.respondWithResult(w, wf, err)
}

func (s *Server) HandleCancel(w http.ResponseWriter, r *http.Request) {
	wf, err := s.orch.CancelWorkflow(r.Context(), mux.Vars(r)["id"])
	s.respondWithResult(w, wf, err)
}

func (s *Server) HandleElicitation(w http.ResponseWriter, r *http.Request) {
	var resp model.ElicitationResponse
	if err := decodeBody(r, &resp); err != nil {
		respondWithServiceError(w, err)
		return
	}
	wf, err := s.orch.ResumeWorkflowWithElicitation(r.Context(), mux.Vars(r)["id"], resp)
	s.respondWithResult(w, wf, err)
}

func (s *Server) HandleCreateCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req CheckpointRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithServiceError(w, err)
		return
	}
	cp, err := s.orch.CreateCheckpoint(r.Context(), mux.Vars(r)["id"], req.Name)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, cp)
}

func (s *Server) HandleRollback(w http.ResponseWriter, r *http.Request) {
	var req RollbackRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithServiceError(w, err)
		return
	}
	if req.CheckpointId == "" {
		respondWithError(w, http.StatusBadRequest, "checkpointId is required")
		return
	}
	wf, err := s.orch.RollbackToCheckpoint(r.Context(), mux.Vars(r)["id"], req.CheckpointId)
	s.respondWithResult(w, wf, err)
}

func (s *Server) HandleResumeFromRollback(w http.ResponseWriter, r *http.Request) {
	wf, err := s.orch.ResumeFromRollback(r.Context(), mux.Vars(r)["id"])
	s.respondWithResult(w, wf, err)
}

func (s *Server) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondWithError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	history, err := s.orch.GetExecutionHistory(mux.Vars(r)["id"], limit)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, history)
}

func (s *Server) HandleTimeline(w http.ResponseWriter, r *http.Request) {
	timeline, err := s.orch.GetTimeline(mux.Vars(r)["id"])
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, timeline)
}

func (s *Server) HandleArtifacts(w http.ResponseWriter, r *http.Request) {
	artifacts, err := s.orch.GetWorkflowArtifacts(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, artifacts)
}

func (s *Server) respondWithWorkflow(w http.ResponseWriter, r *http.Request, id string) {
	wf, err := s.orch.GetWorkflow(r.Context(), id)
	s.respondWithResult(w, wf, err)
}

func (s *Server) respondWithResult(w http.ResponseWriter, wf *model.Workflow, err error) {
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wf)
}
