// Package laptime provides shared conversion and formatting helpers for lap
// durations. Durations are stored in seconds; display form is mm:ss.mmm.
package laptime

import (
	"fmt"
	"strconv"
	"strings"
)

// Format renders a duration in seconds as mm:ss.mmm. Minutes are not wrapped
// at the hour, so a 90-minute session formats as "90:00.000". The fractional
// part is truncated, not rounded, to match the persisted record format.
func Format(seconds float64) string {
	whole := int(seconds)
	minutes := whole / 60
	secs := whole % 60
	millis := int((seconds - float64(whole)) * 1000)
	return fmt.Sprintf("%02d:%02d.%03d", minutes, secs, millis)
}

// Parse converts an mm:ss.mmm string back to seconds. It accepts the exact
// output of Format, including minute fields beyond two digits.
func Parse(s string) (float64, error) {
	colon := strings.IndexByte(s, ':')
	dot := strings.LastIndexByte(s, '.')
	if colon < 0 || dot < colon {
		return 0, fmt.Errorf("invalid lap time %q: want mm:ss.mmm", s)
	}

	minutes, err := strconv.Atoi(s[:colon])
	if err != nil {
		return 0, fmt.Errorf("invalid minutes in %q: %w", s, err)
	}
	secs, err := strconv.Atoi(s[colon+1 : dot])
	if err != nil {
		return 0, fmt.Errorf("invalid seconds in %q: %w", s, err)
	}
	if secs < 0 || secs > 59 {
		return 0, fmt.Errorf("seconds out of range in %q", s)
	}
	millis, err := strconv.Atoi(s[dot+1:])
	if err != nil {
		return 0, fmt.Errorf("invalid milliseconds in %q: %w", s, err)
	}
	if minutes < 0 || millis < 0 || millis > 999 {
		return 0, fmt.Errorf("field out of range in %q", s)
	}

	return float64(minutes)*60 + float64(secs) + float64(millis)/1000, nil
}

// FramesToSeconds converts a frame count to elapsed seconds at the given
// frame rate.
func FramesToSeconds(frames int, fps float64) float64 {
	if fps <= 0 {
		return 0
	}
	return float64(frames) / fps
}

// SecondsToFrames converts a duration to a frame count at the given frame
// rate. The result is truncated; the minimum-lap-time floor uses this so a
// fractional frame never widens the exclusion window.
func SecondsToFrames(seconds float64, fps float64) int {
	if fps <= 0 || seconds <= 0 {
		return 0
	}
	return int(seconds * fps)
}
