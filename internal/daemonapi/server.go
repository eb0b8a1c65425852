// Package daemonapi is the privileged side of the Interface Daemon's IPC
// boundary (§4.B): an HTTP API served over a unix domain socket (POSIX) or
// a named pipe (Windows), exposing create_interface, remove_interface, and
// read_interface_data to the unprivileged CLI/tray process. Grounded on the
// teacher's internal/api/server.go — same net.Listen + http.ServeMux +
// http.Server shape, same streamJSON/writeJSON/writeError helpers.
package daemonapi

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/defguard/client/internal/config"
	"github.com/defguard/client/internal/wgiface"
	"github.com/defguard/client/internal/wgtypes"
)

// Server is the Interface Daemon's HTTP API server.
type Server struct {
	cfg    *config.Config
	iface  *wgiface.Manager
	mux    *http.ServeMux
	server *http.Server
	ln     net.Listener
}

// NewServer creates a new API server bound to the interface manager.
func NewServer(cfg *config.Config, im *wgiface.Manager) *Server {
	s := &Server{
		cfg:   cfg,
		iface: im,
		mux:   http.NewServeMux(),
	}
	s.registerRoutes()
	s.server = &http.Server{Handler: s.mux}
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /v1/interfaces", s.handleCreateInterface)
	s.mux.HandleFunc("POST /v1/interfaces/remove", s.handleRemoveInterface)
	s.mux.HandleFunc("GET /v1/interfaces/{name}/data", s.handleReadInterfaceData)
	s.mux.HandleFunc("GET /v1/status", s.handleStatus)
}

// Start begins listening on the platform transport (unix socket or named
// pipe — see listen_unix.go / listen_windows.go).
func (s *Server) Start() error {
	ln, err := listen(s.cfg)
	if err != nil {
		return err
	}
	s.ln = ln

	log.Printf("defguard-service API listening on %s", s.cfg.SocketPath)

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("daemon api server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type statusResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) handleCreateInterface(w http.ResponseWriter, r *http.Request) {
	var req wgtypes.CreateInterfaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "decode request: "+err.Error())
		return
	}
	if req.Config.Name == "" {
		writeError(w, http.StatusBadRequest, "config.name is required")
		return
	}

	if err := s.iface.CreateInterface(req); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"interface_name": req.Config.Name})
}

func (s *Server) handleRemoveInterface(w http.ResponseWriter, r *http.Request) {
	var req wgtypes.RemoveInterfaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "decode request: "+err.Error())
		return
	}
	if req.InterfaceName == "" {
		writeError(w, http.StatusBadRequest, "interface_name is required")
		return
	}

	if err := s.iface.RemoveInterface(req); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// handleReadInterfaceData streams newline-delimited JSON InterfaceData
// frames over a chunked HTTP response until the client disconnects, so a
// single connection serves the stats pump's entire polling lifetime (§4.I).
func (s *Server) handleReadInterfaceData(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "interface name is required")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Transfer-Encoding", "chunked")
	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)

	period := s.cfg.StatsPeriod
	if period <= 0 {
		period = 10 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			data, err := s.iface.ReadInterfaceData(name)
			if err != nil {
				streamJSON(w, map[string]string{"error": err.Error()})
				if canFlush {
					flusher.Flush()
				}
				return
			}
			if err := streamJSON(w, data); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// streamJSON writes one newline-delimited JSON value to w.
func streamJSON(w http.ResponseWriter, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
