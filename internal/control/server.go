// ABOUTME: WebSocket control server for a running playthrough process
// ABOUTME: Dispatches session, volume and equalizer requests and pushes topology changes
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/playthrough/internal/version"
	"github.com/Resonate-Protocol/playthrough/pkg/device"
	"github.com/Resonate-Protocol/playthrough/pkg/server"
)

// Path is the WebSocket endpoint
const Path = "/control"

const (
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
	sendQueue     = 16
)

// Config configures the control server
type Config struct {
	// Addr is the listen address; empty means :8928
	Addr string
	// Notifier is watched for topology changes; nil means device.DevicesChanged
	Notifier *device.Notifier
}

// Server exposes a server.Server over WebSocket
type Server struct {
	cfg      Config
	serverID string
	srv      *server.Server
	upgrader websocket.Upgrader
	mux      *http.ServeMux
	log      *logrus.Entry

	httpServer *http.Server
	listener   net.Listener

	clientsMu sync.RWMutex
	clients   map[*conn]struct{}

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type conn struct {
	ws   *websocket.Conn
	send chan Message
}

// New creates a control server for srv
func New(srv *server.Server, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8928"
	}
	if cfg.Notifier == nil {
		cfg.Notifier = device.DevicesChanged
	}

	s := &Server{
		cfg:      cfg,
		serverID: uuid.New().String(),
		srv:      srv,
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			// local network control only; non-browser clients send no Origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:  make(map[*conn]struct{}),
		stopChan: make(chan struct{}),
		log:      logrus.WithField("component", "control"),
	}
	s.mux.HandleFunc(Path, s.handleWebSocket)
	return s
}

// ID returns the instance ID reported in server/state
func (s *Server) ID() string { return s.serverID }

// Handler returns the HTTP handler serving Path
func (s *Server) Handler() http.Handler { return s.mux }

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = l
	s.httpServer = &http.Server{Handler: s.mux}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("HTTP server failed")
		}
	}()
	go func() {
		defer s.wg.Done()
		s.watchDevices()
	}()

	s.log.WithField("addr", l.Addr().String()).Info("Control server listening")
	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the HTTP server down, disconnects clients and waits for every
// goroutine
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)

		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.log.WithError(err).Warn("HTTP server shutdown error")
			}
		}

		s.clientsMu.Lock()
		for c := range s.clients {
			c.ws.Close()
		}
		s.clientsMu.Unlock()

		s.wg.Wait()
		s.log.Info("Control server stopped")
	})
}

func (s *Server) watchDevices() {
	ch, cancel := s.cfg.Notifier.Subscribe()
	defer cancel()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ch:
			msg, err := NewMessage(TypeDevicesChanged, "", s.devices())
			if err != nil {
				continue
			}
			s.broadcast(msg)
		}
	}
}

func (s *Server) broadcast(msg Message) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			s.log.Warn("Client send queue full, dropping event")
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.stopChan:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("WebSocket upgrade error")
		return
	}

	// Stop closes stopChan before sweeping clients under clientsMu, so a
	// client registered here is either swept or never added
	c := &conn{ws: ws, send: make(chan Message, sendQueue)}
	s.clientsMu.Lock()
	select {
	case <-s.stopChan:
		s.clientsMu.Unlock()
		ws.Close()
		return
	default:
	}
	s.clients[c] = struct{}{}
	s.wg.Add(1)
	s.clientsMu.Unlock()

	log := s.log.WithField("remote", r.RemoteAddr)
	log.Debug("Control client connected")

	go func() {
		defer s.wg.Done()
		s.writer(c)
	}()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, c)
		s.clientsMu.Unlock()
		close(c.send)
		ws.Close()
		log.Debug("Control client disconnected")
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Debug("WebSocket read error")
			}
			return
		}

		var req Message
		if err := json.Unmarshal(data, &req); err != nil {
			c.send <- s.errorReply("", fmt.Errorf("malformed message: %w", err))
			continue
		}
		c.send <- s.handle(req)
	}
}

func (s *Server) writer(c *conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.ws.WriteJSON(msg); err != nil {
				s.log.WithError(err).Debug("Error writing message")
				c.ws.Close()
				// keep draining until the reader closes send
				for range c.send {
				}
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				c.ws.Close()
				for range c.send {
				}
				return
			}
		}
	}
}

// handle executes one request and builds its reply
func (s *Server) handle(req Message) Message {
	var err error
	switch req.Type {
	case TypeServerStatus:

	case TypeDevicesList:
		msg, err := NewMessage(TypeDevices, req.ID, s.devices())
		if err != nil {
			return s.errorReply(req.ID, err)
		}
		return msg

	case TypeSessionStart:
		var p StartRequest
		if err = req.Decode(&p); err == nil {
			err = s.srv.StartServerWithInputDeviceName(p.Device)
		}

	case TypeSessionStop:
		s.srv.StopServer()

	case TypeOutputVolume:
		var p VolumeRequest
		if err = req.Decode(&p); err == nil {
			s.srv.SetVolume(p.Volume)
		}

	case TypeEQGains:
		var p GainsRequest
		if err = req.Decode(&p); err == nil {
			if p.Bands != nil {
				err = s.srv.Equalizer().SetGains(p.Bands)
			}
			if err == nil && p.Overall != nil {
				s.srv.Equalizer().SetOverall(*p.Overall)
			}
		}

	case TypeEQReset:
		s.srv.Equalizer().ResetGains()

	default:
		err = fmt.Errorf("unknown message type %q", req.Type)
	}

	if err != nil {
		s.log.WithError(err).WithField("type", req.Type).Warn("Control request failed")
		return s.errorReply(req.ID, err)
	}
	msg, err := NewMessage(TypeServerState, req.ID, s.state())
	if err != nil {
		return s.errorReply(req.ID, err)
	}
	return msg
}

func (s *Server) errorReply(id string, err error) Message {
	msg, _ := NewMessage(TypeError, id, ErrorPayload{Message: err.Error()})
	return msg
}

func (s *Server) devices() DevicesPayload {
	eps := s.srv.Registry().ListDevices()
	out := DevicesPayload{Devices: make([]DeviceInfo, 0, len(eps))}
	for _, ep := range eps {
		out.Devices = append(out.Devices, DeviceInfo{
			Name:      ep.Name,
			UID:       ep.UID,
			Backend:   ep.Backend,
			Role:      ep.Role.String(),
			IsDefault: ep.IsDefault,
			BuiltIn:   ep.BuiltIn,
			Format:    ep.Format.String(),
		})
	}
	return out
}

func (s *Server) state() ServerState {
	gains := s.srv.Equalizer().Gains()
	st := ServerState{
		ServerID: s.serverID,
		Product:  version.Product,
		Version:  version.Version,
		Running:  s.srv.IsRunning(),
		Volume:   s.srv.Volume(),
		EQ: EQState{
			Centres: s.srv.Equalizer().Bands(),
			Gains:   gains.Bands,
			Overall: gains.Overall,
		},
	}
	if info, ok := s.srv.Session(); ok {
		st.Session = &SessionState{
			ID:       info.ID,
			Input:    info.Input.Name,
			Output:   info.Output.Name,
			Format:   info.Format.String(),
			Loopback: info.Loopback,
			Started:  info.Started,
		}
	}
	if stats, captureDropped, ok := s.srv.Stats(); ok {
		st.Stats = &StatsState{
			QueuedMS:       float64(stats.Queued) / float64(time.Millisecond),
			Rendered:       stats.Rendered,
			Underruns:      stats.Underruns,
			Flushes:        stats.Flushes,
			Dropped:        stats.Dropped,
			Late:           stats.Late,
			CaptureDropped: captureDropped,
			DriftPPM:       stats.DriftPPM,
			DriftQuality:   stats.DriftQuality,
		}
	}
	return st
}
