package stream

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, mt)
	f, err := DecodeFrame(data)
	require.NoError(t, err)
	return f
}

func TestEncodeDecodeFrame(t *testing.T) {
	positions := []mgl32.Vec3{{1, 2, 3}, {-1, 0.5, 0}}
	data := EncodeFrame(42, 0.35, positions, []float32{2.5, 3})
	assert.Len(t, data, 24+2*16)

	f, err := DecodeFrame(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), f.Frame)
	assert.Equal(t, 0.35, f.SimTime)
	assert.Equal(t, positions, f.Positions)
	assert.Equal(t, []float32{2.5, 3}, f.Densities)

	// Missing densities are sent as zeros
	f, err = DecodeFrame(EncodeFrame(1, 0, positions, nil))
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0}, f.Densities)
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	_, err := DecodeFrame([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrBadFrame)

	data := EncodeFrame(1, 0, []mgl32.Vec3{{1, 1, 1}}, nil)
	_, err = DecodeFrame(data[:len(data)-4])
	assert.ErrorIs(t, err, ErrBadFrame)

	data[0] ^= 0xff
	_, err = DecodeFrame(data)
	assert.ErrorIs(t, err, ErrBadFrame)
}

func TestLatestFrameOnConnect(t *testing.T) {
	s := NewServer(0)
	srv := httptest.NewServer(s)
	defer srv.Close()

	sent, err := s.Publish(7, 0.1, []mgl32.Vec3{{0, 1, 0}}, []float32{2})
	require.NoError(t, err)
	assert.True(t, sent)

	conn := dial(t, srv)
	f := readFrame(t, conn)
	assert.Equal(t, uint64(7), f.Frame)
	assert.Equal(t, []mgl32.Vec3{{0, 1, 0}}, f.Positions)
}

func TestBroadcast(t *testing.T) {
	s := NewServer(0)
	srv := httptest.NewServer(s)
	defer srv.Close()

	a, b := dial(t, srv), dial(t, srv)
	require.Eventually(t, func() bool { return s.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	_, err := s.Publish(3, 0.025, []mgl32.Vec3{{1, 0, 0}, {0, 0, 1}}, nil)
	require.NoError(t, err)

	for _, conn := range []*websocket.Conn{a, b} {
		f := readFrame(t, conn)
		assert.Equal(t, uint64(3), f.Frame)
		assert.Len(t, f.Positions, 2)
	}

	s.Close()
	assert.Equal(t, 0, s.Clients())
}

func TestPublishThrottled(t *testing.T) {
	s := NewServer(time.Hour)

	assert.True(t, s.Due())
	sent, err := s.Publish(1, 0, nil, nil)
	require.NoError(t, err)
	assert.True(t, sent, "first frame is always sent")
	assert.False(t, s.Due())

	sent, err = s.Publish(2, 0, nil, nil)
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestPublishLengthMismatch(t *testing.T) {
	s := NewServer(0)
	_, err := s.Publish(1, 0, []mgl32.Vec3{{}}, []float32{1, 2})
	assert.Error(t, err)
}

func TestControls(t *testing.T) {
	s := NewServer(0)
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dial(t, srv)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"paused":true,"pressure_multiplier":55}`)))

	select {
	case c := <-s.Controls():
		require.NotNil(t, c.Paused)
		assert.True(t, *c.Paused)
		require.NotNil(t, c.PressureMultiplier)
		assert.Equal(t, 55.0, *c.PressureMultiplier)
		assert.Nil(t, c.TargetDensity)
	case <-time.After(2 * time.Second):
		t.Fatal("control message not delivered")
	}
}
