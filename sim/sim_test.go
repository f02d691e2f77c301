package sim

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/pbf/config"
	"github.com/pthm-cable/pbf/stream"
	"github.com/pthm-cable/pbf/telemetry"
)

func testConfig(t *testing.T, count int) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Emitters[0].Count = count
	cfg.Compute.Workers = 2
	return cfg
}

func newTestSim(t *testing.T, opts Options) *Sim {
	t.Helper()
	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestHeadlessRunWritesTelemetry(t *testing.T) {
	dir := t.TempDir()
	var windows []telemetry.FrameStats

	s, err := New(Options{
		Config:         testConfig(t, 200),
		Seed:           7,
		StatsWindowSec: 0.05,
		OutputDir:      dir,
		StatsCallback:  func(fs telemetry.FrameStats) { windows = append(windows, fs) },
	})
	require.NoError(t, err)

	for range 30 {
		require.NoError(t, s.UpdateHeadless())
	}
	assert.Equal(t, uint64(30), s.Frame())
	require.NoError(t, s.Close())

	require.Len(t, windows, 5)
	for _, w := range windows {
		assert.Equal(t, s.RunID(), w.RunID)
		assert.Equal(t, 200, w.Particles)
		assert.Equal(t, 6, w.Frames)
		assert.Greater(t, w.DensityMean, 0.0)
	}
	assert.Equal(t, uint64(30), windows[4].WindowEndFrame)

	data, err := os.ReadFile(filepath.Join(dir, "telemetry.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 6, "header plus one row per window")

	_, err = config.Load(filepath.Join(dir, "config.yaml"))
	assert.NoError(t, err)
}

func TestPausedDoesNotStep(t *testing.T) {
	s := newTestSim(t, Options{Config: testConfig(t, 50)})

	s.SetPaused(true)
	require.NoError(t, s.Step(1.0/120))
	assert.Equal(t, uint64(0), s.Frame())

	s.SetPaused(false)
	require.NoError(t, s.Step(1.0/120))
	assert.Equal(t, uint64(1), s.Frame())
}

func TestResumeFromSnapshot(t *testing.T) {
	cfg := testConfig(t, 120)
	first := newTestSim(t, Options{Config: cfg, Seed: 3})
	for range 12 {
		require.NoError(t, first.UpdateHeadless())
	}

	dir := t.TempDir()
	first.snapshotDir = dir
	path, err := first.SaveSnapshot()
	require.NoError(t, err)

	snap, err := telemetry.LoadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.Seed)
	assert.Equal(t, first.RunID(), snap.RunID)

	resumed := newTestSim(t, Options{Config: cfg, Resume: snap})
	assert.Equal(t, uint64(12), resumed.Frame())
	assert.Equal(t, first.Solver().SimTime(), resumed.Solver().SimTime())
	assert.Equal(t, 120, resumed.Solver().GetParticleCount())

	want := first.Solver().GetParticleBuffer().Positions(nil)
	got := resumed.Solver().GetParticleBuffer().Positions(nil)
	assert.ElementsMatch(t, want, got)

	require.NoError(t, resumed.UpdateHeadless())
	assert.Equal(t, uint64(13), resumed.Frame())
}

func TestRunHeadlessStopsAtMaxFrames(t *testing.T) {
	s := newTestSim(t, Options{Config: testConfig(t, 40)})

	require.NoError(t, s.RunHeadless(context.Background(), 15))
	assert.Equal(t, uint64(15), s.Frame())
}

func TestRunHeadlessStopsWhenFramesKeepAborting(t *testing.T) {
	s := newTestSim(t, Options{Config: testConfig(t, 40)})
	require.NoError(t, s.UpdateHeadless())

	// Every frame fails from here on, so the frame limit is never reached
	s.dev.Close()
	err := s.RunHeadless(context.Background(), 1000)
	require.ErrorIs(t, err, ErrStalled)
	assert.Equal(t, uint64(1), s.Frame())
	assert.Equal(t, uint64(MaxConsecutiveAborts), s.Solver().AbortedFrames())
}

func TestRunHeadlessHonorsContext(t *testing.T) {
	s := newTestSim(t, Options{Config: testConfig(t, 40)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, s.RunHeadless(ctx, 0))
	assert.Equal(t, uint64(0), s.Frame())
}

func TestStreamControlsApplied(t *testing.T) {
	srv := stream.NewServer(0)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	s := newTestSim(t, Options{Config: testConfig(t, 80), Stream: srv})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return srv.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Publish one frame before the pause lands
	require.NoError(t, s.Step(1.0/120))
	require.NoError(t, conn.WriteJSON(map[string]any{"pressure_multiplier": 55.0, "paused": true}))

	// The control arrives asynchronously; each Step drains what is pending
	require.Eventually(t, func() bool {
		_ = s.Step(1.0 / 120)
		return s.Paused()
	}, 2*time.Second, 10*time.Millisecond)
	assert.InDelta(t, 55.0, s.Solver().Params().PressureMultiplier, 1e-6)

	// Published frames reach the client
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	f, err := stream.DecodeFrame(data)
	require.NoError(t, err)
	assert.Len(t, f.Positions, 80)
}

func TestInvalidControlRejected(t *testing.T) {
	s := newTestSim(t, Options{Config: testConfig(t, 20)})
	before := s.Solver().Params()

	negative := -1.0
	s.applyControl(stream.Control{TargetDensity: &negative})
	assert.Equal(t, before, s.Solver().Params())
}
