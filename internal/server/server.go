package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"claimrails/internal/claims"
	"claimrails/internal/config"
	"claimrails/internal/hmacauth"
	"claimrails/internal/idempotency"
	"claimrails/internal/ledger"
	"claimrails/internal/registry"
)

type Server struct {
	cfg        *config.AppConfig
	service    *claims.Service
	store      registry.Store
	idem       idempotency.Store
	hmac       *hmacauth.Verifier
	httpServer *http.Server
	metrics    *metricsRegistry

	dbHealthFn     func(context.Context) error
	ledgerHealthFn func(context.Context) error
}

func NewServer(cfg *config.AppConfig, svc *claims.Service, store registry.Store, idem idempotency.Store, gw ledger.Gateway) *Server {
	s := &Server{
		cfg:     cfg,
		service: svc,
		store:   store,
		idem:    idem,
		hmac: &hmacauth.Verifier{
			Secret:  cfg.Service.HMACSecret,
			MaxSkew: cfg.Service.HMACClockSkew,
		},
		metrics: newMetricsRegistry(),
	}

	if checker, ok := store.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}
	if checker, ok := gw.(ledger.HealthChecker); ok {
		s.ledgerHealthFn = checker.Ping
	}

	router := mux.NewRouter()
	router.Handle("/api/v1/claims",
		s.hmac.Middleware(http.HandlerFunc(s.handleCreateClaim))).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/claims/{claimID}/redeem", s.handleRedeemClaim).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/claims/{claimID}", s.handleGetClaim).Methods(http.MethodGet)
	router.Handle("/api/v1/metrics", s.metrics.handler()).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/health", s.handleHealth).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           requestIDMiddleware(router),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	log.Printf("API listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type createClaimRequest struct {
	SenderAccount string `json:"senderAccount"`
	Amount        string `json:"amount"`
	AssetCode     string `json:"assetCode"`
	NotifyAddress string `json:"notifyAddress"`
	TTLSeconds    int64  `json:"ttlSeconds"`
	SenderName    string `json:"senderName,omitempty"`
}

type createClaimResponse struct {
	ClaimID       string `json:"claimId"`
	EscrowRef     string `json:"escrowRef"`
	ExpiresAt     string `json:"expiresAt"`
	Pin           string `json:"pin"`
	NotifyWarning string `json:"notifyWarning,omitempty"`
}

type redeemClaimRequest struct {
	Pin             string `json:"pin"`
	ClaimantAccount string `json:"claimantAccount"`
}

type redeemClaimResponse struct {
	Amount    string `json:"amount"`
	AssetCode string `json:"assetCode"`
	ClaimedAt string `json:"claimedAt"`
	TxHash    string `json:"txHash,omitempty"`
}

type claimStatusResponse struct {
	ClaimID   string `json:"claimId"`
	Status    string `json:"status"`
	Amount    string `json:"amount"`
	AssetCode string `json:"assetCode"`
	CreatedAt string `json:"createdAt"`
	ExpiresAt string `json:"expiresAt"`
	ClaimedAt string `json:"claimedAt,omitempty"`
	Locked    bool   `json:"locked"`
}

type errorResponse struct {
	ErrorKind         string `json:"errorKind"`
	Message           string `json:"message"`
	AttemptsRemaining *int   `json:"attemptsRemaining,omitempty"`
}

func (s *Server) handleCreateClaim(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.Header.Get("X-Idempotency-Key"))
	if key == "" {
		writeError(w, http.StatusBadRequest, "Validation", "missing X-Idempotency-Key header", nil)
		return
	}

	ctx := r.Context()
	if existing, _ := s.idem.Get(ctx, key); existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.StatusCode)
		_, _ = w.Write(existing.Response)
		s.metrics.incCreate("cached")
		return
	}

	var payload createClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Validation", "invalid json payload", nil)
		return
	}

	result, err := s.service.CreateClaim(ctx, claims.CreateRequest{
		SenderAccount: payload.SenderAccount,
		Amount:        payload.Amount,
		AssetCode:     payload.AssetCode,
		NotifyAddress: payload.NotifyAddress,
		TTL:           time.Duration(payload.TTLSeconds) * time.Second,
		SenderName:    payload.SenderName,
	})
	if err != nil {
		s.writeCreateError(w, err)
		return
	}

	resp := createClaimResponse{
		ClaimID:       result.ClaimID,
		EscrowRef:     result.EscrowRef,
		ExpiresAt:     result.ExpiresAt.UTC().Format(time.RFC3339),
		Pin:           result.PIN,
		NotifyWarning: result.NotifyWarning,
	}
	body, _ := json.Marshal(resp)

	_ = s.idem.Save(ctx, key, idempotency.Record{
		StatusCode: http.StatusCreated,
		Response:   body,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(s.cfg.Service.IdempotencyWindow),
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
	if result.NotifyWarning != "" {
		s.metrics.incCreate("created_notify_failed")
	} else {
		s.metrics.incCreate("created")
	}
}

func (s *Server) writeCreateError(w http.ResponseWriter, err error) {
	var validation *claims.ValidationError
	var rejected *ledger.RejectedError
	var exhausted *claims.RetryExhaustedError
	switch {
	case errors.As(err, &validation):
		s.metrics.incCreate("invalid")
		writeError(w, http.StatusBadRequest, "Validation", validation.Error(), nil)
	case errors.As(err, &rejected):
		s.metrics.incCreate("rejected")
		writeError(w, http.StatusUnprocessableEntity, "LedgerRejected", rejected.Error(), nil)
	case errors.As(err, &exhausted):
		s.metrics.incCreate("retry_exhausted")
		writeError(w, http.StatusServiceUnavailable, "Retryable", exhausted.Error(), nil)
	default:
		s.metrics.incCreate("failed")
		writeError(w, http.StatusInternalServerError, "Internal", "failed to create claim", nil)
	}
}

func (s *Server) handleRedeemClaim(w http.ResponseWriter, r *http.Request) {
	claimID := mux.Vars(r)["claimID"]

	var payload redeemClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Validation", "invalid json payload", nil)
		return
	}

	result, err := s.service.RedeemClaim(r.Context(), claimID, payload.Pin, payload.ClaimantAccount)
	if err != nil {
		s.writeRedeemError(w, err)
		return
	}

	s.metrics.incRedeem("claimed")
	writeJSON(w, http.StatusOK, redeemClaimResponse{
		Amount:    result.Amount,
		AssetCode: result.AssetCode,
		ClaimedAt: result.ClaimedAt.UTC().Format(time.RFC3339),
		TxHash:    result.TxHash,
	})
}

func (s *Server) writeRedeemError(w http.ResponseWriter, err error) {
	var wrongPin *claims.WrongPinError
	var validation *claims.ValidationError
	var rejected *ledger.RejectedError
	var exhausted *claims.RetryExhaustedError
	switch {
	case errors.As(err, &wrongPin):
		s.metrics.incRedeem("wrong_pin")
		remaining := wrongPin.AttemptsRemaining
		writeError(w, http.StatusForbidden, "WrongPin", wrongPin.Error(), &remaining)
	case errors.Is(err, claims.ErrLocked):
		s.metrics.incRedeem("locked")
		writeError(w, http.StatusLocked, "Locked", err.Error(), nil)
	case errors.Is(err, claims.ErrExpired):
		s.metrics.incRedeem("expired")
		writeError(w, http.StatusGone, "Expired", err.Error(), nil)
	case errors.Is(err, claims.ErrRefunded):
		s.metrics.incRedeem("refunded")
		writeError(w, http.StatusGone, "Refunded", err.Error(), nil)
	case errors.Is(err, claims.ErrAlreadyClaimed):
		s.metrics.incRedeem("already_claimed")
		writeError(w, http.StatusConflict, "AlreadyClaimed", err.Error(), nil)
	case errors.Is(err, claims.ErrNotFound):
		s.metrics.incRedeem("not_found")
		writeError(w, http.StatusNotFound, "NotFound", err.Error(), nil)
	case errors.As(err, &validation):
		s.metrics.incRedeem("invalid")
		writeError(w, http.StatusBadRequest, "Validation", validation.Error(), nil)
	case errors.As(err, &rejected):
		s.metrics.incRedeem("rejected")
		writeError(w, http.StatusUnprocessableEntity, "LedgerRejected", rejected.Error(), nil)
	case errors.As(err, &exhausted):
		s.metrics.incRedeem("retry_exhausted")
		writeError(w, http.StatusServiceUnavailable, "Retryable", exhausted.Error(), nil)
	default:
		s.metrics.incRedeem("failed")
		writeError(w, http.StatusInternalServerError, "Internal", "failed to redeem claim", nil)
	}
}

func (s *Server) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	claimID := mux.Vars(r)["claimID"]

	claim, err := s.service.GetClaim(r.Context(), claimID)
	if err != nil {
		if errors.Is(err, claims.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NotFound", err.Error(), nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Internal", "failed to load claim", nil)
		return
	}

	resp := claimStatusResponse{
		ClaimID:   claim.ClaimID,
		Status:    string(claim.Status),
		Amount:    claim.Amount,
		AssetCode: claim.AssetCode,
		CreatedAt: claim.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt: claim.ExpiresAt.UTC().Format(time.RFC3339),
		Locked:    claim.Locked,
	}
	if claim.ClaimedAt != nil {
		resp.ClaimedAt = claim.ClaimedAt.UTC().Format(time.RFC3339)
	}
	s.metrics.incStatus()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	ledgerInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{Connected: true}

	if s.ledgerHealthFn != nil {
		start := time.Now()
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.ledgerHealthFn(probeCtx); err != nil {
			ledgerInfo.Connected = false
			ledgerInfo.Error = err.Error()
			overallHealthy = false
		} else {
			ledgerInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(probeCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	backlog := 0
	if expired, err := s.store.ListExpired(ctx, time.Now()); err == nil {
		backlog = len(expired)
		s.metrics.setExpiredBacklog(backlog)
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status         string      `json:"status"`
		Ledger         interface{} `json:"ledger"`
		Database       interface{} `json:"database"`
		ExpiredBacklog int         `json:"expired_backlog"`
	}{
		Status:         status,
		Ledger:         ledgerInfo,
		Database:       dbInfo,
		ExpiredBacklog: backlog,
	}

	w.Header().Set("Content-Type", "application/json")
	if !overallHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind, message string, attemptsRemaining *int) {
	writeJSON(w, status, errorResponse{
		ErrorKind:         kind,
		Message:           message,
		AttemptsRemaining: attemptsRemaining,
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-Id") == "" {
			r.Header.Set("X-Request-Id", fmt.Sprintf("%d", time.Now().UnixNano()))
		}
		next.ServeHTTP(w, r)
	})
}
