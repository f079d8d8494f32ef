// Package ticket formats the human-readable queue numbers handed to
// citizens: the department initial followed by a zero-padded per-day
// sequence, "P-001".
package ticket

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

const NumberPad = 3

var ErrMalformed = errors.New("malformed ticket number")

// Format renders the ticket for a department initial and sequence value.
func Format(initial string, seq int64) string {
	return fmt.Sprintf("%s-%0*d", initial, NumberPad, seq)
}

// Initial derives the ticket prefix from a department name.
func Initial(name string) string {
	for _, r := range strings.TrimSpace(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return strings.ToUpper(string(r))
		}
	}
	return "X"
}

// Sequence parses the numeric suffix of a ticket number.
func Sequence(number string) (int64, error) {
	idx := strings.LastIndex(number, "-")
	if idx < 0 || idx == len(number)-1 {
		return 0, ErrMalformed
	}
	seq, err := strconv.ParseInt(number[idx+1:], 10, 64)
	if err != nil {
		return 0, ErrMalformed
	}
	return seq, nil
}
