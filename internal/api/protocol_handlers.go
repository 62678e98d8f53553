package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/TomKopp/KP-WME-sub000/internal/engine"
	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// Prepare answers PREP_MIGRATE. A processed request always gets 200 with
// the protocol response; the status code in the body carries the vote.
func (s *Server) Prepare(w http.ResponseWriter, r *http.Request) {
	var req ir.PrepareRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := s.Engine.Prepare(r.Context(), req)
	s.reply(w, resp, err)
}

// Commit answers CMIT_MIGRATE.
func (s *Server) Commit(w http.ResponseWriter, r *http.Request) {
	var req ir.CommitRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := s.Engine.Commit(r.Context(), req)
	s.reply(w, resp, err)
}

// Cancel undoes a prepared transaction.
func (s *Server) Cancel(w http.ResponseWriter, r *http.Request) {
	var req ir.CancelRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := s.Engine.Cancel(r.Context(), req)
	s.reply(w, resp, err)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func (s *Server) reply(w http.ResponseWriter, resp any, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, engine.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		s.Log.Error("protocol request", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
