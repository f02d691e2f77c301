package telemetry

import "testing"

func hasBookmark(bookmarks []Bookmark, typ BookmarkType) bool {
	for _, bm := range bookmarks {
		if bm.Type == typ {
			return true
		}
	}
	return false
}

func TestBookmarkDetector_CompressionSpike(t *testing.T) {
	bd := NewBookmarkDetector(10)

	for i := 0; i < 5; i++ {
		bd.Check(FrameStats{
			WindowEndFrame: uint64(i * 240),
			Frames:         240,
			DensityP90:     2.0,
			SpeedMax:       0.5 + float64(i)*0.2,
		})
	}

	// 1.75x the rolling p90
	bookmarks := bd.Check(FrameStats{
		RunID:          "run",
		WindowEndFrame: 1200,
		Frames:         240,
		DensityP90:     3.5,
		SpeedMax:       1.5,
	})

	if !hasBookmark(bookmarks, BookmarkCompressionSpike) {
		t.Fatal("expected compression_spike bookmark")
	}
	for _, bm := range bookmarks {
		if bm.RunID != "run" {
			t.Errorf("bookmark run id = %q, want %q", bm.RunID, "run")
		}
		if bm.Frame != 1200 {
			t.Errorf("bookmark frame = %d, want 1200", bm.Frame)
		}
	}
}

func TestBookmarkDetector_SpeedBlowup(t *testing.T) {
	bd := NewBookmarkDetector(10)

	for i := 0; i < 5; i++ {
		bd.Check(FrameStats{WindowEndFrame: uint64(i * 240), DensityP90: 2.0, SpeedMax: 1.0})
	}

	bookmarks := bd.Check(FrameStats{WindowEndFrame: 1200, DensityP90: 2.0, SpeedMax: 10.0})
	if !hasBookmark(bookmarks, BookmarkSpeedBlowup) {
		t.Error("expected speed_blowup bookmark")
	}
}

func TestBookmarkDetector_SlowSpeedIgnored(t *testing.T) {
	bd := NewBookmarkDetector(10)

	for i := 0; i < 5; i++ {
		bd.Check(FrameStats{WindowEndFrame: uint64(i * 240), DensityP90: 2.0, SpeedMax: 0.1})
	}

	// 10x the average but under the absolute floor
	bookmarks := bd.Check(FrameStats{WindowEndFrame: 1200, DensityP90: 2.0, SpeedMax: 1.0})
	if hasBookmark(bookmarks, BookmarkSpeedBlowup) {
		t.Error("unexpected speed_blowup bookmark below minimum speed")
	}
}

func TestBookmarkDetector_FrameAborts(t *testing.T) {
	bd := NewBookmarkDetector(10)

	bookmarks := bd.Check(FrameStats{WindowEndFrame: 240, Frames: 238, AbortedFrames: 2})
	if !hasBookmark(bookmarks, BookmarkFrameAborts) {
		t.Error("expected frame_aborts bookmark on the first window")
	}

	bookmarks = bd.Check(FrameStats{WindowEndFrame: 480, Frames: 240})
	if hasBookmark(bookmarks, BookmarkFrameAborts) {
		t.Error("unexpected frame_aborts bookmark for a clean window")
	}
}

func TestBookmarkDetector_SettledOnce(t *testing.T) {
	bd := NewBookmarkDetector(10)

	first := -1
	count := 0
	for i := 0; i < 8; i++ {
		bookmarks := bd.Check(FrameStats{
			WindowEndFrame: uint64(i * 240),
			Frames:         240,
			DensityP90:     2.0,
			SpeedMax:       1.0,
		})
		if hasBookmark(bookmarks, BookmarkSettled) {
			count++
			if first < 0 {
				first = i
			}
		}
	}

	if count != 1 {
		t.Errorf("settled bookmarks = %d, want 1", count)
	}
	if first != settleWindows-1 {
		t.Errorf("settled fired at window %d, want %d", first, settleWindows-1)
	}
}

func TestBookmarkDetector_HistoryWraps(t *testing.T) {
	bd := NewBookmarkDetector(settleWindows)

	for i := 0; i < settleWindows+2; i++ {
		bd.Check(FrameStats{WindowEndFrame: uint64(i)})
	}

	history := bd.getHistory()
	if len(history) != settleWindows {
		t.Fatalf("history length = %d, want %d", len(history), settleWindows)
	}
	for i, h := range history {
		want := uint64(i + 2)
		if h.WindowEndFrame != want {
			t.Errorf("history[%d] = frame %d, want %d", i, h.WindowEndFrame, want)
		}
	}
}
