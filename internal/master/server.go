package master

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/treemover/treemover/internal/faults"
	"github.com/treemover/treemover/pkg/model"
	"github.com/treemover/treemover/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // agents connect from other hosts
	},
}

const (
	maxControlMessageBytes = 1 << 20
	wsIdleTimeout          = 60 * time.Second
	wsPingInterval         = 30 * time.Second
	wsWriteTimeout         = 10 * time.Second
)

// Server is the master's HTTP front: a WebSocket endpoint for agents and
// a small JSON API for submitting and inspecting sync requests.
type Server struct {
	service *Service
	hub     *Hub
	logger  *slog.Logger

	mu   sync.Mutex
	ln   net.Listener
	http *http.Server
}

// NewServer wires the service and hub into an HTTP server.
func NewServer(service *Service, hub *Hub, logger *slog.Logger) *Server {
	return &Server{service: service, hub: hub, logger: logger}
}

// Listen binds the control port. Port 0 picks an ephemeral port;
// BoundPort reports the result.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return faults.WrapConnection(err, "bind control address "+addr)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/sync", s.handleSync)
	mux.HandleFunc("/progress", s.handleProgressList)
	mux.HandleFunc("/progress/", s.handleProgress)
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.mu.Lock()
	s.ln = ln
	s.http = &http.Server{Handler: mux}
	s.mu.Unlock()
	return nil
}

// BoundPort returns the port the control listener is bound to.
func (s *Server) BoundPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return 0
	}
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Serve runs the HTTP server until Shutdown.
func (s *Server) Serve() error {
	s.mu.Lock()
	srv, ln := s.http, s.ln
	s.mu.Unlock()
	if srv == nil {
		return faults.Config("server is not listening")
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return faults.WrapConnection(err, "control server")
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.SyncRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxControlMessageBytes)).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	plan, err := s.service.SubmitSync(req)
	if err != nil {
		status := http.StatusInternalServerError
		if faults.IsConfiguration(err) {
			status = http.StatusBadRequest
		}
		sendError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"request_id":  plan.RequestID,
		"chunk_count": plan.ChunkCount(),
		"total_bytes": plan.TotalBytes(),
	})
}

func (s *Server) handleProgressList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.service.List())
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	requestID := strings.TrimPrefix(r.URL.Path, "/progress/")
	if requestID == "" {
		sendError(w, http.StatusBadRequest, "missing request id")
		return
	}
	progress, ok := s.service.Progress(requestID)
	if !ok {
		sendError(w, http.StatusNotFound, "unknown request id")
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// handleWebSocket upgrades an agent connection, expects a hello as the
// first message, registers the agent, then routes result envelopes into
// the service until the agent disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxControlMessageBytes)

	var writeMu sync.Mutex
	sendFunc := func(env protocol.Envelope) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(env)
	}

	conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		return nil
	})

	hello, err := readHello(conn)
	if err != nil {
		s.logger.Warn("agent handshake failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	dataAddress := hello.DataAddress
	if dataAddress == "" {
		// Fall back to the address the agent dialed from.
		if host, _, splitErr := net.SplitHostPort(r.RemoteAddr); splitErr == nil {
			dataAddress = host
		}
	}

	agent := Agent{
		Endpoint: model.AgentEndpoint{
			AgentID:     hello.AgentID,
			DataAddress: dataAddress,
			DataPort:    hello.DataPort,
			IsSource:    hello.Role == protocol.RoleSource,
		},
		ConnID: protocol.NewMsgID(),
	}
	removeAgent := s.hub.Add(agent, sendFunc)
	defer removeAgent()

	ack, err := protocol.NewEnvelope(protocol.TypeHelloAck, protocol.NewMsgID(), protocol.HelloAck{AgentID: hello.AgentID})
	if err == nil {
		ack.From = "master"
		ack.To = hello.AgentID
		if err := sendFunc(ack); err != nil {
			s.logger.Warn("hello ack failed", "agent_id", hello.AgentID, "err", err)
			return
		}
	}

	s.logger.Info("agent connected",
		"agent_id", hello.AgentID,
		"role", hello.Role,
		"data_addr", dataAddress,
		"data_port", hello.DataPort,
	)
	defer s.logger.Info("agent disconnected", "agent_id", hello.AgentID)

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ticker.C:
				writeMu.Lock()
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
				writeMu.Unlock()
			}
		}
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error("websocket read error", "agent_id", hello.AgentID, "err", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))

		if messageType != websocket.TextMessage {
			continue
		}
		var env protocol.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			s.logger.Warn("invalid JSON envelope", "agent_id", hello.AgentID, "err", err)
			continue
		}
		if err := env.ValidateBasic(); err != nil {
			s.logger.Warn("invalid envelope", "agent_id", hello.AgentID, "err", err)
			continue
		}
		env.From = hello.AgentID
		s.service.HandleEnvelope(env)
	}
}

// readHello reads and validates the registration message an agent must
// send immediately after connecting.
func readHello(conn *websocket.Conn) (protocol.Hello, error) {
	messageType, message, err := conn.ReadMessage()
	if err != nil {
		return protocol.Hello{}, faults.WrapConnection(err, "read hello")
	}
	if messageType != websocket.TextMessage {
		return protocol.Hello{}, faults.Protocol("hello must be a text message")
	}
	var env protocol.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		return protocol.Hello{}, faults.WrapProtocol(err, "decode hello envelope")
	}
	if err := env.ValidateBasic(); err != nil {
		return protocol.Hello{}, faults.WrapProtocol(err, "validate hello envelope")
	}
	if env.Type != protocol.TypeHello {
		return protocol.Hello{}, faults.Protocolf("expected hello, got %q", env.Type)
	}
	var hello protocol.Hello
	if err := env.DecodePayload(&hello); err != nil {
		return protocol.Hello{}, faults.WrapProtocol(err, "decode hello payload")
	}
	if hello.AgentID == "" {
		return protocol.Hello{}, faults.Protocol("hello is missing agent_id")
	}
	if hello.Role != protocol.RoleSource && hello.Role != protocol.RoleDestination {
		return protocol.Hello{}, faults.Protocolf("unknown agent role %q", hello.Role)
	}
	return hello, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
