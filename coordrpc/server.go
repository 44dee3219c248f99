// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package coordrpc exposes a coordinator over JSON HTTP and provides the
// matching client.
package coordrpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/btcsuite/btcjoin/coordinator"
	"github.com/btcsuite/btcjoin/metrics"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// APIPrefix is the path all endpoints live under.
	APIPrefix = "/api/v1/coinjoin"

	// maxBodySize bounds request and response bodies.
	maxBodySize = 1 << 20
)

// Service is the coordinator the server exposes.
type Service interface {
	Status(ctx context.Context) ([]coordinator.RoundStatus, error)

	RoundResult(ctx context.Context,
		roundID uint64) (*coordinator.RoundResult, error)

	RegisterInput(ctx context.Context,
		req *coordinator.RegisterInputRequest) (
		*coordinator.RegisterInputResponse, error)

	ConfirmConnection(ctx context.Context,
		req *coordinator.ConfirmConnectionRequest) (
		*coordinator.ConfirmConnectionResponse, error)

	RegisterOutput(ctx context.Context,
		req *coordinator.RegisterOutputRequest) error

	GetUnsignedCoinJoin(ctx context.Context, roundID uint64) ([]byte, error)

	SubmitSignatures(ctx context.Context,
		req *coordinator.SubmitSignaturesRequest) error
}

// A compile time check to ensure the round manager can be served.
var _ Service = (*coordinator.Manager)(nil)

// Server routes HTTP requests to a Service.
type Server struct {
	svc     Service
	handler http.Handler
}

// NewServer creates the HTTP handler of svc.
func NewServer(svc Service) *Server {
	s := &Server{svc: svc}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer, logRequests)
	r.Route(APIPrefix, func(r chi.Router) {
		r.Get("/states", s.handleStates)
		r.Get("/rounds/{roundID}", s.handleRoundResult)
		r.Post("/inputs", s.handleInputs)
		r.Post("/confirmation", s.handleConfirmation)
		r.Post("/output", s.handleOutput)
		r.Get("/coinjoin/{roundID}", s.handleCoinJoin)
		r.Post("/signatures", s.handleSignatures)
	})

	s.handler = promhttp.InstrumentHandlerDuration(
		metrics.HTTPLatency,
		promhttp.InstrumentHandlerCounter(metrics.HTTPCallCounter, r),
	)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// logRequests logs method, path and status. The remote address is left out
// so output registrations are not tied to a connection in the logs.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		log.Debugf("%s %s %d %v", r.Method, r.URL.Path, ww.Status(),
			time.Since(start))
	})
}

// httpStatus maps err to a response status.
func httpStatus(err error) int {
	var e coordinator.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}

	switch e.ErrorCode {
	case coordinator.ErrValidation:
		return http.StatusBadRequest
	case coordinator.ErrConflict:
		return http.StatusConflict
	case coordinator.ErrBannedInput:
		return http.StatusForbidden
	case coordinator.ErrInsufficientFunds:
		return http.StatusPaymentRequired
	case coordinator.ErrRoundNotRunning:
		return http.StatusGone
	case coordinator.ErrNotFound:
		return http.StatusNotFound
	case coordinator.ErrBroadcastRejected:
		return http.StatusBadGateway
	case coordinator.ErrChainUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("Unable to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		log.Errorf("Request failed: %v", err)
	}

	resp := newErrorResponse(err)
	writeJSON(w, status, &resp)
}

// decodeBody reads a JSON body into v. Unknown fields are refused.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return validationError("request body", err)
	}

	return nil
}

func roundIDParam(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "roundID"), 10, 64)
	if err != nil {
		return 0, validationError("round id", err)
	}
	return id, nil
}

func (s *Server) handleStates(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.svc.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	states := make([]RoundState, len(statuses))
	for i := range statuses {
		states[i] = newRoundState(&statuses[i])
	}

	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleRoundResult(w http.ResponseWriter, r *http.Request) {
	id, err := roundIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := s.svc.RoundResult(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := &RoundResultJSON{
		RoundID: res.RoundID,
		Phase:   res.Phase.String(),
		Reason:  res.Reason,
	}
	if res.TxID != nil {
		resp.TxID = res.TxID.String()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInputs(w http.ResponseWriter, r *http.Request) {
	var body InputsRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	req, err := body.request()
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := s.svc.RegisterInput(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &InputsResponse{
		UniqueID:       resp.UniqueID.String(),
		RoundID:        resp.RoundID,
		BlindSignature: hex.EncodeToString(resp.BlindSignature),
	})
}

func (s *Server) handleConfirmation(w http.ResponseWriter, r *http.Request) {
	var body ConfirmationRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	req, err := body.request()
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := s.svc.ConfirmConnection(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &ConfirmationResponse{
		RoundID:            resp.RoundID,
		Phase:              resp.Phase.String(),
		NeedsBlindedOutput: resp.NeedsBlindedOutput,
		BlindSignature:     hex.EncodeToString(resp.BlindSignature),
	})
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	var body OutputRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	req, err := body.request()
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.svc.RegisterOutput(r.Context(), req); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleCoinJoin(w http.ResponseWriter, r *http.Request) {
	id, err := roundIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	raw, err := s.svc.GetUnsignedCoinJoin(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &CoinJoinResponse{
		RoundID: id,
		PSBT:    hex.EncodeToString(raw),
	})
}

func (s *Server) handleSignatures(w http.ResponseWriter, r *http.Request) {
	var body SignaturesRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	req, err := body.request()
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.svc.SubmitSignatures(r.Context(), req); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct{}{})
}
