package httpapi

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/hperssn/trialclock/internal/runner"
)

// ConnectionConfig holds configuration for WebSocket viewers.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// origins are already filtered by the CORS layer
			return true
		},
	}
}

// FrameSocket pushes display frames of a trial to WebSocket viewers. Viewers
// only listen; anything they send is read and dropped.
type FrameSocket struct {
	manager  *runner.TrialManager
	upgrader websocket.Upgrader
	config   ConnectionConfig
	active   atomic.Int64
}

func NewFrameSocket(manager *runner.TrialManager, config ConnectionConfig) *FrameSocket {
	return &FrameSocket{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// Connections is the number of open viewer connections.
func (s *FrameSocket) Connections() int64 { return s.active.Load() }

func (s *FrameSocket) Handle(w http.ResponseWriter, r *http.Request) {
	trialID := chi.URLParam(r, "id")

	frames, cancel, err := s.manager.Subscribe(trialID)
	if err != nil {
		respondError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		log.Error().Err(err).Str("trial_id", trialID).Msg("failed to upgrade WebSocket connection")
		return
	}

	v := &viewer{
		id:      uuid.New().String(),
		trialID: trialID,
		userID:  IdentityFrom(r).UserID,
		conn:    conn,
		frames:  frames,
		cancel:  cancel,
		config:  s.config,
		done:    make(chan struct{}),
	}

	if snapshot, err := s.manager.Snapshot(trialID); err == nil {
		if err := v.write(snapshot); err != nil {
			log.Debug().Err(err).Str("connection_id", v.id).Msg("failed to write snapshot")
			cancel()
			conn.Close()
			return
		}
	}

	s.active.Add(1)
	log.Info().
		Str("connection_id", v.id).
		Str("user_id", v.userID).
		Str("trial_id", trialID).
		Msg("WebSocket viewer connected")

	go v.readPump()
	go func() {
		v.writePump()
		s.active.Add(-1)
		log.Info().Str("connection_id", v.id).Str("trial_id", trialID).Msg("WebSocket viewer disconnected")
	}()
}

type viewer struct {
	id      string
	trialID string
	userID  string
	conn    *websocket.Conn
	frames  <-chan runner.Frame
	cancel  func()
	config  ConnectionConfig
	done    chan struct{}
}

func (v *viewer) write(frame runner.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	v.conn.SetWriteDeadline(time.Now().Add(v.config.WriteTimeout))
	return v.conn.WriteMessage(websocket.TextMessage, data)
}

// writePump owns all writes to the connection.
func (v *viewer) writePump() {
	ticker := time.NewTicker(v.config.PingInterval)
	defer func() {
		ticker.Stop()
		v.cancel()
		v.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-v.frames:
			if !ok {
				v.conn.SetWriteDeadline(time.Now().Add(v.config.WriteTimeout))
				v.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "trial closed"))
				return
			}
			if err := v.write(frame); err != nil {
				log.Debug().Err(err).Str("connection_id", v.id).Msg("failed to write frame")
				return
			}

		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(v.config.WriteTimeout))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-v.done:
			return
		}
	}
}

func (v *viewer) readPump() {
	defer close(v.done)

	v.conn.SetReadLimit(v.config.MaxMessageSize)
	v.conn.SetReadDeadline(time.Now().Add(v.config.ReadTimeout))
	v.conn.SetPongHandler(func(string) error {
		v.conn.SetReadDeadline(time.Now().Add(v.config.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("connection_id", v.id).Msg("unexpected WebSocket close")
			}
			return
		}
	}
}
