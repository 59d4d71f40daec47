// Package stream owns the persistent upstream websocket connection. The
// supervisor reconnects forever with capped backoff; everything downstream
// of the frame channel is someone else's problem.
package stream

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tremor/internal/config"
	"tremor/internal/constants"
	"tremor/internal/feed"
	"tremor/internal/logger"
	"tremor/pkg/metrics"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateBackoff
)

var pingMessage = []byte(`{"type":"` + constants.FrameTypePing + `"}`)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	default:
		return "disconnected"
	}
}

// Supervisor drives one managed connection through
// Disconnected -> Connecting -> Connected -> Backoff -> Connecting.
// Frames are forwarded in arrival order over a bounded channel; a full
// channel blocks the forward step, never the socket read already in flight.
type Supervisor struct {
	url    string
	cfg    config.FeedConfig
	dialer *websocket.Dialer
	frames chan feed.Frame
	logger logger.Logger

	state         atomic.Int32
	heartbeats    int
	everConnected bool
}

func NewSupervisor(cfg config.FeedConfig, log logger.Logger) *Supervisor {
	return &Supervisor{
		url:    cfg.URL,
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		frames: make(chan feed.Frame, cfg.FrameBufferSize),
		logger: log,
	}
}

func (s *Supervisor) Frames() <-chan feed.Frame {
	return s.frames
}

func (s *Supervisor) State() State {
	return State(s.state.Load())
}

func (s *Supervisor) setState(st State) {
	s.state.Store(int32(st))
}

// Run connects and forwards frames until the context is cancelled. The frame
// channel is closed on return.
func (s *Supervisor) Run(ctx context.Context) error {
	defer close(s.frames)
	defer s.setState(StateDisconnected)

	delay := s.cfg.ReconnectMin

	for {
		s.setState(StateConnecting)
		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warnw("Feed connection failed",
				"url", s.url,
				"retry_in", delay,
				"error", err,
			)
			if err := s.backoff(ctx, &delay); err != nil {
				return err
			}
			continue
		}

		if s.everConnected {
			metrics.FeedReconnectsTotal.Inc()
		}
		s.everConnected = true
		s.setState(StateConnected)
		connectedAt := time.Now()
		s.logger.Infow("Feed connected", "url", s.url)

		err = s.readLoop(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A connection that held long enough earns a fresh backoff.
		if time.Since(connectedAt) >= s.cfg.StableReset {
			delay = s.cfg.ReconnectMin
		}
		s.logger.Warnw("Feed connection lost",
			"connected_for", time.Since(connectedAt),
			"retry_in", delay,
			"error", err,
		)
		if err := s.backoff(ctx, &delay); err != nil {
			return err
		}
	}
}

func (s *Supervisor) readLoop(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close() // unblocks ReadMessage
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := s.handleMessage(ctx, conn, raw); err != nil {
			return err
		}
	}
}

func (s *Supervisor) handleMessage(ctx context.Context, conn *websocket.Conn, raw []byte) error {
	frame, err := feed.ParseFrame(raw)
	if err != nil {
		metrics.ParseFailuresTotal.WithLabelValues("unknown").Inc()
		s.logger.Warnw("Dropping malformed frame", "error", err)
		return nil
	}
	metrics.FramesTotal.WithLabelValues(frame.Type).Inc()

	if frame.Type == constants.FrameTypeHeartbeat {
		s.heartbeats++
		if s.heartbeats%constants.HeartbeatPingEvery == 0 {
			if err := conn.WriteMessage(websocket.TextMessage, pingMessage); err != nil {
				return err
			}
		}
		return nil
	}

	select {
	case s.frames <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) backoff(ctx context.Context, delay *time.Duration) error {
	s.setState(StateBackoff)

	select {
	case <-time.After(*delay):
	case <-ctx.Done():
		return ctx.Err()
	}

	*delay *= 2
	if *delay > s.cfg.ReconnectMax {
		*delay = s.cfg.ReconnectMax
	}
	return nil
}
