// Package api is a thin HTTP demo surface over an Actor and its kv.Store:
// GET/PUT/DELETE on /kv/{key}, plus a /status endpoint for the actor's
// current role and log position.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-run/raftactor/pkg/raft"
	"github.com/lattice-run/raftactor/pkg/statemachine/kv"
)

// Handler mounts the demo routes on its own http.ServeMux.
type Handler struct {
	actor   *raft.Actor
	store   *kv.Store
	mux     *http.ServeMux
	timeout time.Duration
}

// New builds a Handler over actor and store. actor.Propose is how writes
// reach the log; store.Get answers reads directly from local (non
// linearisable) state.
func New(actor *raft.Actor, store *kv.Store) *Handler {
	h := &Handler{actor: actor, store: store, timeout: 5 * time.Second}
	h.mux = http.NewServeMux()
	h.mux.HandleFunc("/kv/", h.handleKV)
	h.mux.HandleFunc("/status", h.handleStatus)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := h.actor.Status()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"self":         status.Self,
		"role":         status.Role.String(),
		"term":         status.Term,
		"leader":       status.Leader,
		"commit_index": status.CommitIndex,
		"last_applied": status.LastApplied,
		"last_index":   status.LastIndex,
	})
}

func (h *Handler) handleKV(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/kv/")
	if key == "" {
		http.Error(w, "key required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		value, ok := h.store.Get(key)
		if !ok {
			http.Error(w, "key not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"value": string(value)})

	case http.MethodPut, http.MethodPost:
		var body struct {
			Value string `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		command, err := kv.EncodeCommand(kv.CommandSet, key, []byte(body.Value), h.clientID(r), h.requestID(r))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		h.proposeAndWait(w, r, command)

	case http.MethodDelete:
		command, err := kv.EncodeCommand(kv.CommandDelete, key, nil, h.clientID(r), h.requestID(r))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		h.proposeAndWait(w, r, command)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// proposeAndWait proposes command and blocks for its completion (commit or
// loss of leadership) up to h.timeout.
func (h *Handler) proposeAndWait(w http.ResponseWriter, r *http.Request, command []byte) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	done := make(chan raft.CommitOutcome, 1)
	_, err := h.actor.Propose(command, func(outcome raft.CommitOutcome) {
		done <- outcome
	})
	if err != nil {
		if err == raft.ErrNotLeader {
			h.respondNotLeader(w)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	select {
	case outcome := <-done:
		if !outcome.Committed {
			http.Error(w, "leadership lost before commit", http.StatusConflict)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	case <-ctx.Done():
		http.Error(w, "request timeout", http.StatusGatewayTimeout)
	}
}

func (h *Handler) respondNotLeader(w http.ResponseWriter) {
	status := h.actor.Status()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMisdirectedRequest)
	json.NewEncoder(w).Encode(map[string]string{"error": "not leader", "leader": string(status.Leader)})
}

// clientID honours a caller-supplied X-Client-Id (for retried writes to
// dedupe correctly) or mints a fresh one for a one-shot request.
func (h *Handler) clientID(r *http.Request) string {
	if id := r.Header.Get("X-Client-Id"); id != "" {
		return id
	}
	return uuid.NewString()
}

func (h *Handler) requestID(r *http.Request) uint64 {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		if v, err := strconv.ParseUint(id, 10, 64); err == nil {
			return v
		}
	}
	return 1
}
