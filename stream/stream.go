// Package stream publishes particle frames to websocket clients and accepts
// live parameter changes from them.
package stream

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"
)

// Path is where the websocket endpoint is mounted by ListenAndServe.
const Path = "/ws"

// frameMagic starts every binary frame.
const frameMagic uint32 = 0x31464250 // "PBF1"

// ErrBadFrame is returned by DecodeFrame for malformed messages.
var ErrBadFrame = errors.New("stream: malformed frame")

// Control is a message sent by a client. Nil fields are left unchanged.
type Control struct {
	Paused             *bool    `json:"paused,omitempty"`
	TargetDensity      *float64 `json:"target_density,omitempty"`
	PressureMultiplier *float64 `json:"pressure_multiplier,omitempty"`
	ViscosityStrength  *float64 `json:"viscosity_strength,omitempty"`
	CollisionDamping   *float64 `json:"collision_damping,omitempty"`
}

// Frame is the decoded form of a published message.
type Frame struct {
	Frame     uint64
	SimTime   float64
	Positions []mgl32.Vec3
	Densities []float32
}

// Server broadcasts frames to every connected client.
type Server struct {
	upgrader websocket.Upgrader
	interval time.Duration

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]*sync.Mutex

	latestMu    sync.Mutex
	latest      []byte
	lastPublish time.Time

	controls chan Control
}

// NewServer creates a server that publishes at most once per interval.
func NewServer(interval time.Duration) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local tooling connects from file:// pages
			},
		},
		interval: interval,
		clients:  make(map[*websocket.Conn]*sync.Mutex),
		controls: make(chan Control, 16),
	}
}

// Controls delivers client control messages. Messages are dropped when the
// channel is full.
func (s *Server) Controls() <-chan Control {
	return s.controls
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// ServeHTTP upgrades the connection and reads control messages until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	connMutex := &sync.Mutex{}

	// Send the latest frame before registering so broadcasts never interleave with it
	s.latestMu.Lock()
	latest := s.latest
	s.latestMu.Unlock()
	if latest != nil {
		if err := conn.WriteMessage(websocket.BinaryMessage, latest); err != nil {
			return
		}
	}

	s.clientsMu.Lock()
	s.clients[conn] = connMutex
	s.clientsMu.Unlock()
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, conn)
		s.clientsMu.Unlock()
	}()

	slog.Info("stream client connected", "remote", r.RemoteAddr)
	for {
		var msg Control
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("stream client read failed", "error", err)
			}
			slog.Info("stream client disconnected", "remote", r.RemoteAddr)
			return
		}
		select {
		case s.controls <- msg:
		default:
			slog.Warn("stream control dropped")
		}
	}
}

// Due reports whether the next Publish would send, so callers can skip
// gathering a frame that would be dropped.
func (s *Server) Due() bool {
	s.latestMu.Lock()
	defer s.latestMu.Unlock()
	return s.latest == nil || time.Since(s.lastPublish) >= s.interval
}

// Publish encodes a frame and sends it to all clients. It reports false when
// the frame was skipped because the interval has not elapsed.
func (s *Server) Publish(frame uint64, simTime float64, positions []mgl32.Vec3, densities []float32) (bool, error) {
	if len(densities) != 0 && len(densities) != len(positions) {
		return false, fmt.Errorf("stream: %d positions but %d densities", len(positions), len(densities))
	}

	now := time.Now()
	s.latestMu.Lock()
	if s.latest != nil && now.Sub(s.lastPublish) < s.interval {
		s.latestMu.Unlock()
		return false, nil
	}
	data := EncodeFrame(frame, simTime, positions, densities)
	s.latest = data
	s.lastPublish = now
	s.latestMu.Unlock()

	s.broadcast(data)
	return true, nil
}

func (s *Server) broadcast(data []byte) {
	s.clientsMu.RLock()
	var failed []*websocket.Conn
	for client, mutex := range s.clients {
		mutex.Lock()
		err := client.WriteMessage(websocket.BinaryMessage, data)
		mutex.Unlock()
		if err != nil {
			slog.Debug("stream write failed", "error", err)
			failed = append(failed, client)
		}
	}
	s.clientsMu.RUnlock()

	if len(failed) > 0 {
		s.clientsMu.Lock()
		for _, client := range failed {
			client.Close()
			delete(s.clients, client)
		}
		s.clientsMu.Unlock()
	}
}

// Close disconnects every client.
func (s *Server) Close() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for client := range s.clients {
		client.Close()
		delete(s.clients, client)
	}
}

// ListenAndServe serves the websocket endpoint on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle(Path, s)
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	slog.Info("stream server listening", "addr", addr, "path", Path)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// EncodeFrame lays out a frame as little-endian
// magic, frame, sim time, count, positions, then densities (count zero-filled
// when densities is empty).
func EncodeFrame(frame uint64, simTime float64, positions []mgl32.Vec3, densities []float32) []byte {
	n := len(positions)
	buf := bytes.NewBuffer(make([]byte, 0, 24+n*16))
	binary.Write(buf, binary.LittleEndian, frameMagic)
	binary.Write(buf, binary.LittleEndian, frame)
	binary.Write(buf, binary.LittleEndian, simTime)
	binary.Write(buf, binary.LittleEndian, uint32(n))
	binary.Write(buf, binary.LittleEndian, positions)
	if len(densities) == n {
		binary.Write(buf, binary.LittleEndian, densities)
	} else {
		binary.Write(buf, binary.LittleEndian, make([]float32, n))
	}
	return buf.Bytes()
}

// DecodeFrame parses a message produced by EncodeFrame.
func DecodeFrame(data []byte) (Frame, error) {
	r := bytes.NewReader(data)
	var header struct {
		Magic   uint32
		Frame   uint64
		SimTime float64
		Count   uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrBadFrame, err)
	}
	if header.Magic != frameMagic {
		return Frame{}, fmt.Errorf("%w: magic %#x", ErrBadFrame, header.Magic)
	}
	if uint64(r.Len()) != uint64(header.Count)*16 {
		return Frame{}, fmt.Errorf("%w: %d bytes for %d particles", ErrBadFrame, r.Len(), header.Count)
	}

	f := Frame{
		Frame:     header.Frame,
		SimTime:   header.SimTime,
		Positions: make([]mgl32.Vec3, header.Count),
		Densities: make([]float32, header.Count),
	}
	if err := binary.Read(r, binary.LittleEndian, f.Positions); err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrBadFrame, err)
	}
	if err := binary.Read(r, binary.LittleEndian, f.Densities); err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrBadFrame, err)
	}
	return f, nil
}
