package telemetry

import (
	"fmt"
	"log/slog"
)

// BookmarkType identifies the type of bookmark.
type BookmarkType string

const (
	BookmarkCompressionSpike BookmarkType = "compression_spike"
	BookmarkSpeedBlowup      BookmarkType = "speed_blowup"
	BookmarkFrameAborts      BookmarkType = "frame_aborts"
	BookmarkSettled          BookmarkType = "settled"
)

// Detection thresholds.
const (
	compressionMultiplier = 1.5 // density p90 against its rolling average
	speedMultiplier       = 3.0 // max speed against its rolling average
	minBlowupSpeed        = 5.0
	settleCV              = 0.05 // speed_max variation across recent windows
	settleWindows         = 5
)

// Bookmark represents an automatically triggered bookmark.
type Bookmark struct {
	RunID       string       `csv:"run_id"`
	Type        BookmarkType `csv:"type"`
	Frame       uint64       `csv:"frame"`
	Description string       `csv:"description"`
}

// LogBookmark logs the bookmark using slog.
func (b Bookmark) LogBookmark() {
	slog.Info("bookmark",
		"type", string(b.Type),
		"frame", b.Frame,
		"description", b.Description,
	)
}

// BookmarkDetector detects notable windows in a fluid run.
type BookmarkDetector struct {
	// Rolling history (circular buffer)
	history     []FrameStats
	historySize int
	historyIdx  int
	historyFull bool

	settledCount int // consecutive windows with steady motion
}

// NewBookmarkDetector creates a detector with the given history size.
func NewBookmarkDetector(historySize int) *BookmarkDetector {
	if historySize < settleWindows {
		historySize = settleWindows
	}
	return &BookmarkDetector{
		history:     make([]FrameStats, historySize),
		historySize: historySize,
	}
}

// Check analyzes the latest stats and returns any triggered bookmarks.
func (bd *BookmarkDetector) Check(stats FrameStats) []Bookmark {
	var bookmarks []Bookmark

	if b := bd.checkFrameAborts(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}
	if bd.historyFull || bd.historyIdx > 0 {
		if b := bd.checkCompressionSpike(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}
		if b := bd.checkSpeedBlowup(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}
	}

	bd.addToHistory(stats)

	if b := bd.checkSettled(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}

	for i := range bookmarks {
		bookmarks[i].RunID = stats.RunID
	}
	return bookmarks
}

func (bd *BookmarkDetector) addToHistory(stats FrameStats) {
	bd.history[bd.historyIdx] = stats
	bd.historyIdx = (bd.historyIdx + 1) % bd.historySize
	if bd.historyIdx == 0 {
		bd.historyFull = true
	}
}

// getHistory returns the recorded windows, oldest first.
func (bd *BookmarkDetector) getHistory() []FrameStats {
	if !bd.historyFull {
		return bd.history[:bd.historyIdx]
	}
	ordered := make([]FrameStats, 0, bd.historySize)
	ordered = append(ordered, bd.history[bd.historyIdx:]...)
	return append(ordered, bd.history[:bd.historyIdx]...)
}

func (bd *BookmarkDetector) checkFrameAborts(stats FrameStats) *Bookmark {
	if stats.AbortedFrames == 0 {
		return nil
	}
	return &Bookmark{
		Type:        BookmarkFrameAborts,
		Frame:       stats.WindowEndFrame,
		Description: fmt.Sprintf("%d of %d frames aborted", stats.AbortedFrames, stats.AbortedFrames+stats.Frames),
	}
}

func (bd *BookmarkDetector) checkCompressionSpike(stats FrameStats) *Bookmark {
	history := bd.getHistory()
	if len(history) < 3 {
		return nil
	}

	var total float64
	for _, h := range history {
		total += h.DensityP90
	}
	avg := total / float64(len(history))
	if avg == 0 {
		return nil
	}

	if stats.DensityP90 > avg*compressionMultiplier {
		return &Bookmark{
			Type:        BookmarkCompressionSpike,
			Frame:       stats.WindowEndFrame,
			Description: fmt.Sprintf("Density p90 %.3f is %.1fx average (%.3f)", stats.DensityP90, stats.DensityP90/avg, avg),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkSpeedBlowup(stats FrameStats) *Bookmark {
	history := bd.getHistory()
	if len(history) < 3 {
		return nil
	}

	var total float64
	for _, h := range history {
		total += h.SpeedMax
	}
	avg := total / float64(len(history))
	if avg == 0 {
		return nil
	}

	if stats.SpeedMax > avg*speedMultiplier && stats.SpeedMax > minBlowupSpeed {
		return &Bookmark{
			Type:        BookmarkSpeedBlowup,
			Frame:       stats.WindowEndFrame,
			Description: fmt.Sprintf("Max speed %.2f is %.1fx average (%.2f)", stats.SpeedMax, stats.SpeedMax/avg, avg),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkSettled(stats FrameStats) *Bookmark {
	history := bd.getHistory()
	if len(history) < settleWindows {
		return nil
	}

	recent := make([]float64, 0, settleWindows)
	for _, h := range history[len(history)-settleWindows:] {
		recent = append(recent, h.SpeedMax)
	}
	if ComputeDistribution(recent).CV() < settleCV && stats.AbortedFrames == 0 {
		bd.settledCount++
	} else {
		bd.settledCount = 0
	}

	if bd.settledCount == 1 { // trigger once per settled stretch
		return &Bookmark{
			Type:        BookmarkSettled,
			Frame:       stats.WindowEndFrame,
			Description: fmt.Sprintf("Motion steady over %d windows, max speed %.3f", settleWindows, stats.SpeedMax),
		}
	}
	return nil
}
