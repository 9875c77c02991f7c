package aton

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// TruncatedDate is an S-100 truncated date kept exactly as received.
// Accepted shapes are YYYY, YYYY-MM, YYYY-MM-DD, --MM, --MM-DD and ----DD.
type TruncatedDate string

var truncatedShapes = []*regexp.Regexp{
	regexp.MustCompile(`^\d{4}$`),
	regexp.MustCompile(`^\d{4}-\d{2}$`),
	regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`),
	regexp.MustCompile(`^--\d{2}$`),
	regexp.MustCompile(`^--\d{2}-\d{2}$`),
	regexp.MustCompile(`^----\d{2}$`),
}

func (d TruncatedDate) IsZero() bool {
	return d == ""
}

// Valid reports whether the value has one of the accepted shapes and its
// components are in range.
func (d TruncatedDate) Valid() bool {
	if d == "" {
		return true
	}
	matched := false
	for _, re := range truncatedShapes {
		if re.MatchString(string(d)) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	_, m, day := d.parts()
	if m != 0 && (m < 1 || m > 12) {
		return false
	}
	if day != 0 && (day < 1 || day > 31) {
		return false
	}
	return true
}

// parts returns year, month and day; a missing component is 0.
func (d TruncatedDate) parts() (int, int, int) {
	s := string(d)
	switch {
	case len(s) == 6 && s[:4] == "----":
		day, _ := strconv.Atoi(s[4:])
		return 0, 0, day
	case len(s) >= 4 && s[:2] == "--":
		m, _ := strconv.Atoi(s[2:4])
		day := 0
		if len(s) == 7 {
			day, _ = strconv.Atoi(s[5:7])
		}
		return 0, m, day
	}
	y, _ := strconv.Atoi(s[:min(4, len(s))])
	m, day := 0, 0
	if len(s) >= 7 {
		m, _ = strconv.Atoi(s[5:7])
	}
	if len(s) == 10 {
		day, _ = strconv.Atoi(s[8:10])
	}
	return y, m, day
}

// Time resolves the date against a reference year when the year is
// truncated. Month and day default to 1. ok is false for the empty value.
func (d TruncatedDate) Time(refYear int) (time.Time, bool) {
	if d == "" || !d.Valid() {
		return time.Time{}, false
	}
	y, m, day := d.parts()
	if y == 0 {
		y = refYear
	}
	if m == 0 {
		m = 1
	}
	if day == 0 {
		day = 1
	}
	return time.Date(y, time.Month(m), day, 0, 0, 0, 0, time.UTC), true
}

// DateOf formats a full calendar date.
func DateOf(t time.Time) TruncatedDate {
	return TruncatedDate(fmt.Sprintf("%04d-%02d-%02d", t.Year(), int(t.Month()), t.Day()))
}
