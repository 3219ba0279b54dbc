// Package sessionapi exposes the local HTTP endpoints a client on the
// device uses to start and end a named metric session: POST
// /v1/session/start and POST /v1/session/end, each taking either a JSON
// body naming the session and any readings to deliver immediately, or
// (for compatibility with older callers) the bare session name as the
// unparsed request body.
package sessionapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/memfault/memfaultd-go/internal/asa"
	"github.com/memfault/memfaultd-go/internal/logging"
	"github.com/memfault/memfaultd-go/internal/metrics"
)

// Server serves the session start/end endpoints.
type Server struct {
	httpServer *http.Server

	dataCollectionEnabled bool
	manager               *metrics.ReportManager
	stagingRoot           string
	device                asa.DeviceIdentity
	producer              asa.ProducerIdentity
	log                   *logging.Logger
}

// Config configures a Server.
type Config struct {
	Address               string
	DataCollectionEnabled bool
	StagingRoot           string
	Device                asa.DeviceIdentity
	Producer              asa.ProducerIdentity
}

// NewServer builds a Server bound to manager, not yet listening.
func NewServer(config Config, manager *metrics.ReportManager, log *logging.Logger) *Server {
	s := &Server{
		dataCollectionEnabled: config.DataCollectionEnabled,
		manager:               manager,
		stagingRoot:           config.StagingRoot,
		device:                config.Device,
		producer:              config.Producer,
		log:                   log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/session/start", s.handleStart)
	mux.HandleFunc("/v1/session/end", s.handleEnd)

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// StartBackground starts the server in a background goroutine.
func (s *Server) StartBackground() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.log != nil {
				s.log.Error("session api server exited", map[string]interface{}{"error": err.Error()})
			}
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type sessionRequest struct {
	SessionName string                      `json:"session_name"`
	Readings    []metrics.KeyedMetricReading `json:"readings"`
}

// parseRequest accepts either the JSON body above, or (as a legacy
// fallback) the raw session name as the entire unparsed body.
func parseRequest(body []byte) (sessionRequest, error) {
	var req sessionRequest
	if err := json.Unmarshal(body, &req); err == nil && req.SessionName != "" {
		return req, nil
	}
	name := string(body)
	if _, err := metrics.NewSessionName(name); err != nil {
		return sessionRequest{}, err
	}
	return sessionRequest{SessionName: name}, nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.handleSessionRequest(w, r, s.startSession)
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	s.handleSessionRequest(w, r, s.endSession)
}

func (s *Server) handleSessionRequest(w http.ResponseWriter, r *http.Request, action func(metrics.SessionName, []metrics.KeyedMetricReading) error) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.dataCollectionEnabled {
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	req, err := parseRequest(body)
	if err != nil {
		if s.log != nil {
			s.log.Warn("failed to parse session request", map[string]interface{}{"error": err.Error()})
		}
		http.Error(w, "failed to parse session request: "+err.Error(), http.StatusBadRequest)
		return
	}

	name, err := metrics.NewSessionName(req.SessionName)
	if err != nil {
		http.Error(w, "invalid session name: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := action(name, req.Readings); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) startSession(name metrics.SessionName, readings []metrics.KeyedMetricReading) error {
	if err := s.manager.StartSession(name); err != nil {
		return err
	}
	for _, reading := range readings {
		if err := s.manager.AddMetricToReport(metrics.SessionReportType(name), reading); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) endSession(name metrics.SessionName, readings []metrics.KeyedMetricReading) error {
	for _, reading := range readings {
		if err := s.manager.AddMetricToReport(metrics.SessionReportType(name), reading); err != nil {
			return err
		}
	}
	return s.manager.DumpReportToMAREntry(s.stagingRoot, s.device, s.producer, metrics.SessionReportType(name))
}
