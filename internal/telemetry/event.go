// Package telemetry collects probe events for one playback test and derives
// startup, stalling and quality-switch metrics from them.
package telemetry

import (
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Event names emitted by the in-page probe.
const (
	EventPageLoaded          = "pageLoaded"
	EventDocumentReady       = "documentReady"
	EventPlayerReady         = "playerReady"
	EventPlayerStateChange   = "playerStateChange"
	EventPlayerQualityChange = "playerQualityChange"
	EventVideoDuration       = "videoDuration"
	EventFinished            = "finished"
)

// Player states that drive stalling detection.
const (
	StatePlaying  = "playing"
	StateStalling = "stalling"
)

// Message is one decoded console-bridge line.
type Message struct {
	Event     string  `json:"event"`
	Message   string  `json:"message"`
	Data      any     `json:"data"`
	Timestamp float64 `json:"timestamp"`
}

// ProbeEvent is one recorded in-page signal. Timestamps are page wall-clock
// milliseconds.
type ProbeEvent struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
	Data      any     `json:"data"`
}

// DataString returns Data when it is a string.
func (e ProbeEvent) DataString() (string, bool) {
	s, ok := e.Data.(string)
	return s, ok
}

func recordable(event string) bool {
	switch event {
	case EventPlayerStateChange, EventPlayerQualityChange, EventPlayerReady, EventPageLoaded:
		return true
	}
	return false
}

// coerceInt converts a loosely typed duration to whole units: numbers are
// truncated and clamped to the int64 range, strings contribute their leading
// integer ("12.7s" -> 12), and anything else is 0.
func coerceInt(v any) int64 {
	switch x := v.(type) {
	case float64:
		switch {
		case math.IsNaN(x):
			return 0
		case x >= math.MaxInt64:
			return math.MaxInt64
		case x <= math.MinInt64:
			return math.MinInt64
		}
		return int64(x)
	case int:
		return int64(x)
	case int64:
		return x
	case string:
		return leadingInt(x)
	default:
		return 0
	}
}

func leadingInt(s string) int64 {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
