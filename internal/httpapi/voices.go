package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/gwent/internal/catalog"
)

type listVoicesResponse struct {
	Voices []catalog.Voice `json:"voices"`
	Count  int             `json:"count"`
}

func (s *Server) handleListVoices(w http.ResponseWriter, _ *http.Request) {
	voices := s.relay.Voices()
	if voices == nil {
		voices = []catalog.Voice{}
	}
	respondJSON(w, http.StatusOK, listVoicesResponse{Voices: voices, Count: len(voices)})
}

func (s *Server) handleGetVoice(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	voice, ok := s.relay.LookupVoice(id)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown_voice", "voice "+id+" is not in the catalog")
		return
	}
	respondJSON(w, http.StatusOK, voice)
}
