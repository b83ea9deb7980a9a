// Package api exposes the syndicate façade over REST/JSON plus a
// websocket event stream and the Prometheus scrape endpoint.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/agentbank/syndicate/internal/circuitbreaker"
	"github.com/agentbank/syndicate/internal/commerce"
	"github.com/agentbank/syndicate/internal/entities"
	"github.com/agentbank/syndicate/internal/events"
	"github.com/agentbank/syndicate/internal/syndicate"
)

// Server is the thin HTTP adapter over the core façades.
type Server struct {
	core     *syndicate.Syndicate
	commerce *commerce.Aggregator
	bus      *events.Bus
	breakers *circuitbreaker.ServiceBreakers
	logger   *log.Logger
	httpSrv  *http.Server
}

// NewServer builds the server; bus may be nil to disable the stream.
func NewServer(core *syndicate.Syndicate, agg *commerce.Aggregator, bus *events.Bus) *Server {
	return &Server{
		core:     core,
		commerce: agg,
		bus:      bus,
		logger:   log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Router wires all routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	r.HandleFunc("/api/agents", s.handleOnboard).Methods("POST")
	r.HandleFunc("/api/agents/{agent_id}", s.handleAgentState).Methods("GET")
	r.HandleFunc("/api/agents/{agent_id}/performance", s.handlePerformance).Methods("GET")
	r.HandleFunc("/api/agents/{agent_id}/reputation", s.handleReputation).Methods("GET")
	r.HandleFunc("/api/agents/{agent_id}/certificate", s.handleCertificate).Methods("GET")
	r.HandleFunc("/api/agents/{agent_id}/commerce", s.handleCommerceSummary).Methods("GET")

	r.HandleFunc("/api/transactions", s.handleProcessTransaction).Methods("POST")
	r.HandleFunc("/api/transactions", s.handleTransactionLog).Methods("GET")

	r.HandleFunc("/api/commerce/usage", s.handleTrackUsage).Methods("POST")
	r.HandleFunc("/api/commerce/transfers", s.handleTransfer).Methods("POST")
	r.HandleFunc("/api/commerce/billing/{agent_id}", s.handleBilling).Methods("POST")

	r.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/api/compliance/daily", s.handleComplianceReport).Methods("GET")

	if s.bus != nil {
		r.HandleFunc("/ws/events", s.handleEventStream)
	}
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", s.handleHealth)

	return r
}

// SetBreakers attaches the external-port breakers so /healthz can report
// their state.
func (s *Server) SetBreakers(b *circuitbreaker.ServiceBreakers) { s.breakers = b }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.breakers == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	overall, services := s.breakers.HealthStatus()
	status := http.StatusOK
	if overall != "HEALTHY" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{"status": overall, "services": services})
}

// Start listens on the port until the context is cancelled.
func (s *Server) Start(ctx context.Context, port string) error {
	s.httpSrv = &http.Server{
		Addr:         ":" + port,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(shutdownCtx)
	}()

	s.logger.Printf("Listening on :%s", port)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// ---- agents ----

type onboardRequest struct {
	AgentID        string                 `json:"agent_id"`
	InitialDeposit string                 `json:"initial_deposit"`
	Metadata       map[string]interface{} `json:"metadata"`
}

func (s *Server) handleOnboard(w http.ResponseWriter, r *http.Request) {
	var req onboardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	deposit, err := decimal.NewFromString(req.InitialDeposit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	state, err := s.core.OnboardAgent(r.Context(), req.AgentID, deposit, req.Metadata)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"agent_state":    state,
		"wallet_address": state.WalletAddress,
		"credit_limit":   state.CreditLimit.String(),
	})
}

func (s *Server) handleAgentState(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]
	state := s.core.GetAgentState(agentID)
	if state == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	report, err := s.core.GetPerformanceReport(mux.Vars(r)["agent_id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleReputation(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]
	state := s.core.GetAgentState(agentID)
	if state == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, s.core.Protocol().GetAgentReputation(state))
}

func (s *Server) handleCertificate(w http.ResponseWriter, r *http.Request) {
	cert := s.core.Protocol().GetAgentCertificate(mux.Vars(r)["agent_id"])
	if cert == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no certificate issued"})
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

func (s *Server) handleCommerceSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.commerce.GetCommerceSummary(mux.Vars(r)["agent_id"]))
}

// ---- transactions ----

type transactionRequest struct {
	AgentID     string `json:"agent_id"`
	TxType      string `json:"tx_type"`
	Amount      string `json:"amount"`
	Supplier    string `json:"supplier"`
	Description string `json:"description"`
}

func (s *Server) handleProcessTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.IsNegative() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid amount"})
		return
	}

	tx := s.core.NewTransaction(req.AgentID, entities.TxType(req.TxType), amount, req.Supplier, req.Description)
	eval, err := s.core.ProcessTransaction(r.Context(), tx)
	if eval == nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	// Blocked evaluations are a valid 200 outcome; the consensus field
	// carries the verdict.
	writeJSON(w, http.StatusOK, eval)
}

func (s *Server) handleTransactionLog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.core.TransactionLog())
}

// ---- commerce ----

type usageRequest struct {
	AgentID  string `json:"agent_id"`
	Endpoint string `json:"endpoint"`
}

func (s *Server) handleTrackUsage(w http.ResponseWriter, r *http.Request) {
	var req usageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, err := s.commerce.TrackAPICall(r.Context(), req.AgentID, req.Endpoint)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"record": record, "warning": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"record": record})
}

type transferRequest struct {
	From    string `json:"from_agent_id"`
	To      string `json:"to_agent_id"`
	Amount  string `json:"amount"`
	Purpose string `json:"purpose"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	payment, err := s.commerce.TransferBetweenAgents(r.Context(), req.From, req.To, amount, req.Purpose)
	if payment == nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (s *Server) handleBilling(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	tx, err := s.commerce.ProcessUsageBilling(r.Context(), mux.Vars(r)["agent_id"], force)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if tx == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "nothing to bill"})
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// ---- reporting ----

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.core.GetSyndicateStatus())
}

func (s *Server) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.core.Protocol().GenerateDailyComplianceReport())
}
