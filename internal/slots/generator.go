package slots

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidWindow   = errors.New("operating end must be after operating start")
	ErrInvalidLunch    = errors.New("lunch break must fall within operating hours")
	ErrInvalidDuration = errors.New("slot duration must be positive")
)

// Window is a generated slot as minutes-of-day bounds.
type Window struct {
	Start int
	End   int
}

// Clock renders minutes-of-day as "HH:MM".
func Clock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// StartClock and EndClock render the window bounds for storage.
func (w Window) StartClock() string { return Clock(w.Start) }
func (w Window) EndClock() string   { return Clock(w.End) }

type Config struct {
	OperatingStart  string
	OperatingEnd    string
	LunchStart      string
	LunchEnd        string
	DurationMinutes int
}

// Generate derives the day's bookable windows. Starting at operating
// start it emits fixed-duration windows until the next increment would
// cross operating end. A window intersecting the lunch break, treated as
// [lunch_start, lunch_end), is skipped entirely rather than clipped.
func Generate(cfg Config) ([]Window, error) {
	if cfg.DurationMinutes <= 0 {
		return nil, ErrInvalidDuration
	}
	start, err := parseClock(cfg.OperatingStart)
	if err != nil {
		return nil, err
	}
	end, err := parseClock(cfg.OperatingEnd)
	if err != nil {
		return nil, err
	}
	if end <= start {
		return nil, ErrInvalidWindow
	}

	lunchStart, lunchEnd := 0, 0
	hasLunch := cfg.LunchStart != "" && cfg.LunchEnd != ""
	if hasLunch {
		lunchStart, err = parseClock(cfg.LunchStart)
		if err != nil {
			return nil, err
		}
		lunchEnd, err = parseClock(cfg.LunchEnd)
		if err != nil {
			return nil, err
		}
		if lunchEnd <= lunchStart || lunchStart < start || lunchEnd > end {
			return nil, ErrInvalidLunch
		}
	}

	var windows []Window
	for cur := start; cur+cfg.DurationMinutes <= end; cur += cfg.DurationMinutes {
		w := Window{Start: cur, End: cur + cfg.DurationMinutes}
		if hasLunch && w.Start < lunchEnd && lunchStart < w.End {
			continue
		}
		windows = append(windows, w)
	}
	return windows, nil
}

func parseClock(value string) (int, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", value, err)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}
