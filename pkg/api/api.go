// Package api serves the amplifier over HTTP.
//
// Routes:
//
//	GET  /api/status             current snapshot
//	GET  /api/history?points=N   downsampled snapshot window and bursts
//	GET  /api/regs               ADC register file
//	POST /api/command            {"command": "<line>"} executed like a console line
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"

	"github.com/itohio/instamp/pkg/ad7124"
	"github.com/itohio/instamp/pkg/amp"
	"github.com/itohio/instamp/pkg/command"
	"github.com/itohio/instamp/pkg/telemetry"
)

// DefaultHistoryPoints bounds /api/history when points is not given.
const DefaultHistoryPoints = 500

// Amplifier is the state surface read by the API.
type Amplifier interface {
	Snapshot() amp.Snapshot
	ADCState() ad7124.State
}

var _ Amplifier = (*amp.Amplifier)(nil)

// History provides recorded snapshots.
type History interface {
	Downsampled(maxPoints int) []amp.Snapshot
	Bursts() []telemetry.Burst
}

var _ History = (*telemetry.History)(nil)

// Dispatcher executes command lines.
type Dispatcher interface {
	Dispatch(ctx context.Context, line string) (command.Result, bool)
}

// RegHex is a register rendered as hexadecimal strings.
type RegHex struct {
	Addr  string `json:"addr"`
	Value string `json:"value"`
}

// HistoryResponse is the body of /api/history.
type HistoryResponse struct {
	Snapshots []amp.Snapshot    `json:"snapshots"`
	Bursts    []telemetry.Burst `json:"bursts"`
}

// CommandRequest is the body of /api/command.
type CommandRequest struct {
	Command string `json:"command"`
}

// Server routes API requests.
type Server struct {
	*mux.Router
	amp  Amplifier
	hist History
	d    Dispatcher
	log  *zap.SugaredLogger
}

// New creates the API router.
func New(a Amplifier, hist History, d Dispatcher, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{Router: mux.NewRouter(), amp: a, hist: hist, d: d, log: log}
	s.configureRouter()
	return s
}

func (s *Server) configureRouter() {
	sub := s.PathPrefix("/api").Subrouter()
	sub.HandleFunc("/status", s.handleStatus()).Methods(http.MethodGet)
	sub.HandleFunc("/history", s.handleHistory()).Methods(http.MethodGet)
	sub.HandleFunc("/regs", s.handleRegs()).Methods(http.MethodGet)
	sub.HandleFunc("/command", s.handleCommand()).Methods(http.MethodPost)
}

// Handler returns the router wrapped with access logging and panic recovery.
func (s *Server) Handler() http.Handler {
	access := &zapio.Writer{Log: s.log.Desugar(), Level: zap.DebugLevel}
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(
		handlers.CombinedLoggingHandler(access, s.Router),
	)
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warnw("api shutdown", "error", err)
		}
	})
	defer stop()

	s.log.Infow("api listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warnw("api encode", "error", err)
	}
}

func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, s.amp.Snapshot())
	}
}

func (s *Server) handleHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		points := DefaultHistoryPoints
		if v := r.URL.Query().Get("points"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, fmt.Sprintf("invalid points %q", v), http.StatusBadRequest)
				return
			}
			points = n
		}
		s.writeJSON(w, http.StatusOK, HistoryResponse{
			Snapshots: s.hist.Downsampled(points),
			Bursts:    s.hist.Bursts(),
		})
	}
}

// Registers renders a register file as hexadecimal strings.
func Registers(regs []ad7124.RegisterValue) []RegHex {
	out := make([]RegHex, len(regs))
	for i, r := range regs {
		out[i] = RegHex{
			Addr:  fmt.Sprintf("0x%02x", r.Addr),
			Value: "0x" + hex.EncodeToString(r.Value),
		}
	}
	return out
}

func (s *Server) handleRegs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := s.amp.ADCState()
		s.writeJSON(w, http.StatusOK, Registers(st.Registers()))
	}
}

// statusCode maps a result code to an HTTP status.
func statusCode(c command.Code) int {
	switch c {
	case command.Ok:
		return http.StatusOK
	case command.UnknownCommand:
		return http.StatusNotFound
	case command.InvalidArguments:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) handleCommand() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CommandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		res, reply := s.d.Dispatch(r.Context(), req.Command)
		if !reply {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s.writeJSON(w, statusCode(res.Code), res)
	}
}
