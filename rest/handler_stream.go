package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/agentorchy/orchestrator"
)

func (s *Server) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.orch.SubscribeToWorkflow(r.Context(), id); err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondOK(w, map[string]any{"subscribed": true, "channel": orchestrator.ChannelName(id)})
}

func (s *Server) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	removed := s.orch.UnsubscribeFromWorkflow(mux.Vars(r)["id"])
	respondOK(w, map[string]any{"unsubscribed": removed})
}

func (s *Server) HandleUIState(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	st, ok := s.state.State(id)
	if !ok {
		respondWithError(w, http.StatusNotFound, "no ui state for workflow "+id)
		return
	}
	respondWithJSON(w, http.StatusOK, st)
}

// HandleStream upgrades to a websocket carrying the workflow's events.
// Forwarding is switched on for the workflow if it was not already.
func (s *Server) HandleStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.orch.SubscribeToWorkflow(r.Context(), id); err != nil {
		respondWithServiceError(w, err)
		return
	}
	s.hub.Serve(w, r, orchestrator.ChannelName(id))
}
