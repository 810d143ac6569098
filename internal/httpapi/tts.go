package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ent0n29/gwent/internal/redact"
	"github.com/ent0n29/gwent/internal/relay"
	"github.com/ent0n29/gwent/internal/reliability"
)

const maxTTSBodyBytes = 1 << 20

type ttsRequest struct {
	Text         string   `json:"text"`
	Voice        string   `json:"voice"`
	SpeakingRate *float32 `json:"speaking_rate,omitempty"`
	Format       string   `json:"format,omitempty"`
	MaxLength    *uint64  `json:"max_length,omitempty"`
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxTTSBodyBytes)
	var req ttsRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", "request body is required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	rate := float32(1.0)
	if req.SpeakingRate != nil {
		rate = *req.SpeakingRate
	}
	if code, msg := s.validateSynthesis(req.Text, req.Voice, rate); code != "" {
		respondError(w, http.StatusBadRequest, code, msg)
		return
	}

	res, err := s.relay.Synthesize(r.Context(), relay.Request{
		Text:            req.Text,
		VoiceID:         req.Voice,
		SpeakingRate:    rate,
		PreferredFormat: req.Format,
		MaxLength:       req.MaxLength,
	})
	if err != nil {
		status, code, retryable := synthesisErrorStatus(err)
		s.logger.Warn("tts request failed",
			"request_id", requestIDFrom(r.Context()),
			"voice", req.Voice,
			"code", code,
			"error", redact.ForLog(err.Error()))
		respondJSON(w, status, errorResponse{Error: err.Error(), Code: code, Retryable: retryable})
		return
	}

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Audio)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Audio)
}

// validateSynthesis returns an error code and message, or "" when the
// request may be dispatched.
func (s *Server) validateSynthesis(text, voice string, rate float32) (string, string) {
	if strings.TrimSpace(text) == "" {
		return "invalid_request", "text is required"
	}
	if strings.TrimSpace(voice) == "" {
		return "invalid_request", "voice is required"
	}
	if rate <= 0 {
		return "invalid_request", "speaking_rate must be greater than 0"
	}
	if !s.relay.IsKnownVoice(voice) {
		return "unknown_voice", "voice " + voice + " is not in the catalog"
	}
	return "", ""
}

// synthesisErrorStatus maps a relay error to an HTTP status, API error code
// and retry hint.
func synthesisErrorStatus(err error) (int, string, bool) {
	retryable := reliability.IsRetryable(err)
	switch reliability.Classify(err) {
	case reliability.KindTimeout:
		return http.StatusGatewayTimeout, "daemon_timeout", retryable
	case reliability.KindUnreachable:
		return http.StatusBadGateway, "daemon_unreachable", retryable
	case reliability.KindRejected:
		return http.StatusBadGateway, "daemon_rejected", retryable
	case reliability.KindMalformed:
		return http.StatusBadGateway, "daemon_malformed", retryable
	case reliability.KindCanceled:
		return http.StatusServiceUnavailable, "canceled", true
	default:
		return http.StatusInternalServerError, "internal_error", false
	}
}
