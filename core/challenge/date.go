package challenge

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the canonical stored form of a date answer.
const DateLayout = "2006-01-02"

var dateLayouts = []string{
	DateLayout,
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// NormalizeDate parses s and returns midnight UTC of the calendar day it
// names. The day is taken as written: a time-of-day or zone suffix never
// moves the date.
func NormalizeDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		// Parse keeps the input's offset, so Date() yields the written day.
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// SameDay reports whether a and b name the same calendar day. Unparsable
// input never matches.
func SameDay(a, b string) bool {
	da, err := NormalizeDate(a)
	if err != nil {
		return false
	}
	db, err := NormalizeDate(b)
	if err != nil {
		return false
	}
	ay, am, ad := da.Date()
	by, bm, bd := db.Date()
	return ay == by && am == bm && ad == bd
}
