package ticket

import "testing"

func TestFormat(t *testing.T) {
	cases := []struct {
		initial string
		seq     int64
		want    string
	}{
		{"P", 1, "P-001"},
		{"T", 42, "T-042"},
		{"E", 999, "E-999"},
		{"E", 1000, "E-1000"},
	}
	for _, tt := range cases {
		if got := Format(tt.initial, tt.seq); got != tt.want {
			t.Fatalf("Format(%q, %d)=%q, want %q", tt.initial, tt.seq, got, tt.want)
		}
	}
}

func TestInitial(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"Permits", "P"},
		{"treasury", "T"},
		{"  Civil Registry", "C"},
		{"", "X"},
		{"---", "X"},
	}
	for _, tt := range cases {
		if got := Initial(tt.name); got != tt.want {
			t.Fatalf("Initial(%q)=%q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestSequence(t *testing.T) {
	seq, err := Sequence("P-017")
	if err != nil {
		t.Fatalf("sequence: %v", err)
	}
	if seq != 17 {
		t.Fatalf("expected 17, got %d", seq)
	}

	for _, bad := range []string{"", "P", "P-", "P-abc"} {
		if _, err := Sequence(bad); err != ErrMalformed {
			t.Fatalf("Sequence(%q) err=%v, want ErrMalformed", bad, err)
		}
	}
}
