package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cipherbay/native/marketplace"
	"cipherbay/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
)

// AuthTokenEnv names the environment variable carrying the bearer token that
// guards state-mutating methods.
const AuthTokenEnv = "CIPHERBAY_RPC_TOKEN"

// Timeouts configures the HTTP server deadlines, all in seconds.
type Timeouts struct {
	ReadHeader int
	Read       int
	Write      int
	Idle       int
}

type Server struct {
	engine    *marketplace.Engine
	authToken string
	log       *slog.Logger
}

func NewServer(engine *marketplace.Engine, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		engine:    engine,
		authToken: strings.TrimSpace(os.Getenv(AuthTokenEnv)),
		log:       log,
	}
}

// Router assembles the HTTP surface: the JSON-RPC endpoint, a liveness probe,
// and the prometheus scrape target.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Post("/", s.handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start serves the router on addr and blocks until the listener fails.
func (s *Server) Start(addr string, timeouts Timeouts) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: time.Duration(timeouts.ReadHeader) * time.Second,
		ReadTimeout:       time.Duration(timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(timeouts.Idle) * time.Second,
	}
	s.log.Info("starting JSON-RPC server", "addr", addr)
	return srv.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if rec, ok := w.(*statusRecorder); ok {
		rec.recordError(code)
	}
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// handle is the main request handler that routes to method handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	recorder := &statusRecorder{ResponseWriter: w}
	started := time.Now()
	s.dispatch(recorder, r, req)
	observability.RPCMetrics().Observe(req.Method, recorder.errCode, time.Since(started))
}

func (s *Server) dispatch(w *statusRecorder, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "market_createListing":
		if authErr := s.requireAuth(r); authErr != nil {
			writeAuthError(w, req.ID, authErr)
			return
		}
		s.handleCreateListing(w, r, req)
	case "market_updateListing":
		if authErr := s.requireAuth(r); authErr != nil {
			writeAuthError(w, req.ID, authErr)
			return
		}
		s.handleUpdateListing(w, r, req)
	case "market_deactivateListing":
		if authErr := s.requireAuth(r); authErr != nil {
			writeAuthError(w, req.ID, authErr)
			return
		}
		s.handleDeactivateListing(w, r, req)
	case "market_reactivateListing":
		if authErr := s.requireAuth(r); authErr != nil {
			writeAuthError(w, req.ID, authErr)
			return
		}
		s.handleReactivateListing(w, r, req)
	case "market_purchase":
		if authErr := s.requireAuth(r); authErr != nil {
			writeAuthError(w, req.ID, authErr)
			return
		}
		s.handlePurchase(w, r, req)
	case "market_accept":
		if authErr := s.requireAuth(r); authErr != nil {
			writeAuthError(w, req.ID, authErr)
			return
		}
		s.handleAccept(w, r, req)
	case "market_cancel":
		if authErr := s.requireAuth(r); authErr != nil {
			writeAuthError(w, req.ID, authErr)
			return
		}
		s.handleCancel(w, r, req)
	case "market_getListing":
		s.handleGetListing(w, r, req)
	case "market_getPurchase":
		s.handleGetPurchase(w, r, req)
	case "market_listListings":
		s.handleListListings(w, r, req)
	case "market_listActive":
		s.handleListActive(w, r, req)
	case "market_listingsBySeller":
		s.handleListingsBySeller(w, r, req)
	case "market_purchasesByBuyer":
		s.handlePurchasesByBuyer(w, r, req)
	case "market_purchasesByListing":
		s.handlePurchasesByListing(w, r, req)
	case "market_pendingOffers":
		s.handlePendingOffers(w, r, req)
	case "market_completedPurchases":
		s.handleCompletedPurchases(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

func writeAuthError(w http.ResponseWriter, id interface{}, authErr *RPCError) {
	writeError(w, http.StatusUnauthorized, id, authErr.Code, authErr.Message, authErr.Data)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

// statusRecorder captures the RPC error code written by a handler so the
// request can be attributed in metrics.
type statusRecorder struct {
	http.ResponseWriter
	errCode int
}

func (r *statusRecorder) recordError(code int) { r.errCode = code }
