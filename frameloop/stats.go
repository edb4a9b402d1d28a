package frameloop

import (
	"time"

	"github.com/loov/hrtime"
)

// Stats are counters the scheduler keeps while running.
type Stats struct {
	Frames     uint64
	Rebuilds   uint64
	Retries    uint64
	OutOfDate  uint64
	Suboptimal uint64
	Waits      uint64

	// LastFrame is the duration of the last tick that presented.
	LastFrame time.Duration

	windowStart  time.Duration
	windowFrames uint64
}

// reportInterval is how often the frame rate is logged.
const reportInterval = 5 * time.Second

func (s *Stats) frame(start time.Duration) {
	now := hrtime.Now()
	s.Frames++
	s.LastFrame = now - start

	if s.windowStart == 0 {
		s.windowStart = start
	}
	s.windowFrames++

	elapsed := now - s.windowStart
	if elapsed >= reportInterval {
		Logger().Debug("frame rate",
			"fps", float64(s.windowFrames)/elapsed.Seconds(),
			"lastFrame", s.LastFrame,
			"frames", s.Frames)
		s.windowStart = now
		s.windowFrames = 0
	}
}
