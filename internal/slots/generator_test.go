package slots

import "testing"

func TestGenerateStandardDay(t *testing.T) {
	windows, err := Generate(Config{
		OperatingStart:  "08:00",
		OperatingEnd:    "17:00",
		LunchStart:      "12:00",
		LunchEnd:        "13:00",
		DurationMinutes: 30,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(windows) != 16 {
		t.Fatalf("expected 16 windows, got %d", len(windows))
	}
	for i, w := range windows {
		if w.End-w.Start != 30 {
			t.Fatalf("window %d has duration %d", i, w.End-w.Start)
		}
		if w.Start < 8*60 || w.End > 17*60 {
			t.Fatalf("window %d outside operating hours: %s-%s", i, w.StartClock(), w.EndClock())
		}
		if w.Start < 13*60 && 12*60 < w.End {
			t.Fatalf("window %d overlaps lunch: %s-%s", i, w.StartClock(), w.EndClock())
		}
		if i > 0 && windows[i-1].End > w.Start {
			t.Fatalf("windows %d and %d overlap", i-1, i)
		}
	}
	if windows[0].StartClock() != "08:00" {
		t.Fatalf("first window starts at %s", windows[0].StartClock())
	}
	if windows[7].EndClock() != "12:00" {
		t.Fatalf("morning run ends at %s", windows[7].EndClock())
	}
	if windows[8].StartClock() != "13:00" {
		t.Fatalf("afternoon run starts at %s", windows[8].StartClock())
	}
	if windows[15].EndClock() != "17:00" {
		t.Fatalf("last window ends at %s", windows[15].EndClock())
	}
}

func TestGenerateDropsTrailingPartial(t *testing.T) {
	windows, err := Generate(Config{
		OperatingStart:  "09:00",
		OperatingEnd:    "10:50",
		DurationMinutes: 40,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(windows))
	}
	if windows[1].EndClock() != "10:20" {
		t.Fatalf("last window ends at %s", windows[1].EndClock())
	}
}

func TestGenerateSkipsPartialLunchOverlap(t *testing.T) {
	// 11:30-12:15 straddles the lunch start and must be dropped whole.
	windows, err := Generate(Config{
		OperatingStart:  "09:00",
		OperatingEnd:    "15:00",
		LunchStart:      "12:00",
		LunchEnd:        "13:00",
		DurationMinutes: 45,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for _, w := range windows {
		if w.Start < 13*60 && 12*60 < w.End {
			t.Fatalf("window %s-%s intersects lunch", w.StartClock(), w.EndClock())
		}
	}
}

func TestGenerateNoLunch(t *testing.T) {
	windows, err := Generate(Config{
		OperatingStart:  "08:00",
		OperatingEnd:    "12:00",
		DurationMinutes: 60,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(windows) != 4 {
		t.Fatalf("expected 4 windows, got %d", len(windows))
	}
}

func TestGenerateValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want error
	}{
		{"end before start", Config{OperatingStart: "17:00", OperatingEnd: "08:00", DurationMinutes: 30}, ErrInvalidWindow},
		{"zero duration", Config{OperatingStart: "08:00", OperatingEnd: "17:00"}, ErrInvalidDuration},
		{"lunch outside hours", Config{OperatingStart: "08:00", OperatingEnd: "12:00", LunchStart: "12:30", LunchEnd: "13:00", DurationMinutes: 30}, ErrInvalidLunch},
		{"inverted lunch", Config{OperatingStart: "08:00", OperatingEnd: "17:00", LunchStart: "13:00", LunchEnd: "12:00", DurationMinutes: 30}, ErrInvalidLunch},
	}
	for _, tt := range cases {
		if _, err := Generate(tt.cfg); err != tt.want {
			t.Fatalf("%s: got %v, want %v", tt.name, err, tt.want)
		}
	}
}
