package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
	"github.com/hugo-lorenzo-mato/killswitch/internal/handler"
)

const maxNotificationBody = 4 << 10

// NotificationRequest reports a resource exhaustion event.
type NotificationRequest struct {
	Flags  string `json:"flags"`
	Source string `json:"source,omitempty"`
}

// NotificationResponse is the handler's decision for one notification.
type NotificationResponse struct {
	Outcome handler.Outcome      `json:"outcome"`
	Flags   core.ExhaustionFlags `json:"flags"`
	State   string               `json:"state"`
}

// StateResponse describes the handler.
type StateResponse struct {
	State string `json:"state"`
}

// handleNotify delivers a notification to the handler. The call blocks for
// as long as the handler does, including a full escalation.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req NotificationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxNotificationBody)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flags, err := core.ParseFlags(req.Flags)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	source := req.Source
	if source == "" {
		source = "api"
	}

	// The client going away must not cut an escalation short.
	outcome := s.notifier.OnResourceExhaustedFrom(context.WithoutCancel(r.Context()), flags, source)

	respondJSON(w, http.StatusOK, NotificationResponse{
		Outcome: outcome,
		Flags:   flags,
		State:   s.notifier.State().String(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, StateResponse{State: s.notifier.State().String()})
}
