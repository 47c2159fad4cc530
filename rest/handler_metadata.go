package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/agentorchy/logger"
	"github.com/mohitkumar/agentorchy/model"
	"go.uber.org/zap"
)

type ValidateSequenceRequest struct {
	Steps []model.Step `json:"steps"`
}

type DefinitionRequest struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

func (s *Server) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.orch.ListAgents()
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, agents)
}

func (s *Server) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.orch.GetAgent(mux.Vars(r)["id"])
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, agent)
}

func (s *Server) HandleListSequences(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, s.sequences.ListSequences())
}

func (s *Server) HandleValidateSequence(w http.ResponseWriter, r *http.Request) {
	var req ValidateSequenceRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithServiceError(w, err)
		return
	}
	res, err := s.orch.ValidateSequence(req.Steps)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (s *Server) HandleSaveDefinition(w http.ResponseWriter, r *http.Request) {
	var req DefinitionRequest
	if err := decodeBody(r, &req); err != nil {
		respondWithServiceError(w, err)
		return
	}
	seq, err := s.sequences.SaveDefinition(r.Context(), req.Name, req.Source)
	if err != nil {
		logger.Error("error saving workflow definition", zap.String("name", req.Name), zap.Error(err))
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, seq)
}

func (s *Server) HandleListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := s.sequences.ListDefinitions(r.Context())
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, defs)
}

func (s *Server) HandleGetDefinition(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	def, err := s.sequences.GetDefinition(r.Context(), name)
	if err != nil {
		logger.Info("workflow definition not found", zap.String("name", name))
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, def)
}

func (s *Server) HandleDeleteDefinition(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.sequences.DeleteDefinition(r.Context(), name); err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondOK(w, map[string]any{"deleted": name})
}
