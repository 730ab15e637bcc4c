// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package notmuchgo

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dateGrammar parses text, returning the half-open interval
// [first, last) in seconds since epoch that it names. now is the
// actual current time (used by today/yesterday/thisweek/etc. exactly
// as named); disambiguateMonth, when a grammar needs to pick a year
// for a bare month/day with none given, is compared against that
// grammar's own month to decide whether to shift the year (today's
// month for the begin half of a range; the begin half's own month for
// the end half — see DateRange). after mirrors the C original's
// distinction between the begin and end half of a range: false for
// begin (push the year back a year if the named month is later than
// disambiguateMonth's), true for end (push the year forward a year if
// the named month is earlier than disambiguateMonth's) — the two
// halves disambiguate in opposite directions so a range like
// "nov..feb" spans New Year's instead of inverting. ok is false if
// text does not match this grammar, including text of the right shape
// whose month or day is out of range; the caller then tries the next
// grammar in the chain, and reports InvalidDate only if none matches.
type dateGrammar func(text string, now, disambiguateMonth time.Time, after bool) (first, last int64, ok bool)

// dateGrammars is the ordered chain spec.md §4.8 names: today,
// yesterday, thisweek, lastweek, thismonth, lastmonth, month[-day],
// year[-month[-day]], month/day[/year].
var dateGrammars = []dateGrammar{
	parseToday,
	parseYesterday,
	parseThisWeek,
	parseLastWeek,
	parseThisMonth,
	parseLastMonth,
	parseMonthDash,
	parseISO,
	parseUS,
}

// parseDateRangeHalf parses one half of a date:<begin>..<end> query
// term through the grammar chain.
func parseDateRangeHalf(text string, now, disambiguateMonth time.Time, after bool) (first, last int64, err error) {
	text = strings.TrimSpace(text)
	for _, g := range dateGrammars {
		if first, last, ok := g(text, now, disambiguateMonth, after); ok {
			return first, last, nil
		}
	}
	return 0, 0, wrap(InvalidDate, fmt.Errorf("could not parse date %q", text))
}

// DateRange resolves a textual date:<begin>..<end> query half-pair
// into the [min, max) bounds (seconds since epoch) for slot TIMESTAMP,
// following spec.md §4.8's year-disambiguation rule for bare
// month/day text with no year: the begin half's month is compared
// against today's to pick its year (shifting back a year if it is
// later than today's month), and the end half's month is then
// compared against the begin half's resolved month — not today's —
// shifting forward a year if it is earlier than begin's month. The
// two halves disambiguate in opposite directions so "date:nov..feb"
// spans New Year's rather than both halves independently snapping to
// "on or before today."
func (d *DB) DateRange(begin, end string, now time.Time) (min, max int64, err error) {
	beginFirst, _, err := parseDateRangeHalf(begin, now, now, false)
	if err != nil {
		return 0, 0, err
	}
	_, endLast, err := parseDateRangeHalf(end, now, time.Unix(beginFirst, 0).In(now.Location()), true)
	if err != nil {
		return 0, 0, err
	}
	return beginFirst, endLast, nil
}

func dayBounds(t time.Time) (int64, int64) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start.Unix(), start.AddDate(0, 0, 1).Unix()
}

func parseToday(text string, now, _ time.Time, _ bool) (int64, int64, bool) {
	if !strings.EqualFold(text, "today") {
		return 0, 0, false
	}
	first, last := dayBounds(now)
	return first, last, true
}

func parseYesterday(text string, now, _ time.Time, _ bool) (int64, int64, bool) {
	if !strings.EqualFold(text, "yesterday") {
		return 0, 0, false
	}
	first, last := dayBounds(now.AddDate(0, 0, -1))
	return first, last, true
}

// weekStart returns the Monday 00:00:00 beginning the week
// containing t.
func weekStart(t time.Time) time.Time {
	wd := int(t.Weekday())
	if wd == 0 {
		wd = 7 // Sunday -> 7, so Monday is the anchor
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return d.AddDate(0, 0, -(wd - 1))
}

func parseThisWeek(text string, now, _ time.Time, _ bool) (int64, int64, bool) {
	if !strings.EqualFold(text, "thisweek") {
		return 0, 0, false
	}
	start := weekStart(now)
	return start.Unix(), start.AddDate(0, 0, 7).Unix(), true
}

func parseLastWeek(text string, now, _ time.Time, _ bool) (int64, int64, bool) {
	if !strings.EqualFold(text, "lastweek") {
		return 0, 0, false
	}
	start := weekStart(now).AddDate(0, 0, -7)
	return start.Unix(), start.AddDate(0, 0, 7).Unix(), true
}

func monthBounds(t time.Time) (int64, int64) {
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return start.Unix(), start.AddDate(0, 1, 0).Unix()
}

func parseThisMonth(text string, now, _ time.Time, _ bool) (int64, int64, bool) {
	if !strings.EqualFold(text, "thismonth") {
		return 0, 0, false
	}
	first, last := monthBounds(now)
	return first, last, true
}

func parseLastMonth(text string, now, _ time.Time, _ bool) (int64, int64, bool) {
	if !strings.EqualFold(text, "lastmonth") {
		return 0, 0, false
	}
	first, last := monthBounds(now.AddDate(0, -1, 0))
	return first, last, true
}

// monthNames maps a three-letter (or full) English month name to its
// time.Month value.
var monthNames = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

// parseMonthDash parses "month[-day]" where month is an English month
// name, with the year disambiguated relative to disambiguateMonth: for
// a begin half (after is false), push back a year if the named month
// is later than disambiguateMonth's month (so "dec" disambiguated
// against a January reference means last December, not next); for an
// end half (after is true), push forward a year if the named month is
// earlier than disambiguateMonth's month instead, mirroring the
// original's opposite-direction rule for the two halves of a range.
func parseMonthDash(text string, now, disambiguateMonth time.Time, after bool) (int64, int64, bool) {
	parts := strings.SplitN(text, "-", 2)
	month, ok := monthNames[strings.ToLower(parts[0])]
	if !ok {
		return 0, 0, false
	}

	year := disambiguateMonth.Year()
	if after {
		if month < disambiguateMonth.Month() {
			year++
		}
	} else {
		if month > disambiguateMonth.Month() {
			year--
		}
	}

	if len(parts) == 1 {
		first, last := monthBounds(time.Date(year, month, 1, 0, 0, 0, 0, now.Location()))
		return first, last, true
	}

	day, err := strconv.Atoi(parts[1])
	if err != nil || day < 1 || day > 31 {
		return 0, 0, false
	}
	first, last := dayBounds(time.Date(year, month, day, 0, 0, 0, 0, now.Location()))
	return first, last, true
}

// parseISO parses "year[-month[-day]]". The year is always explicit,
// so no disambiguation is needed.
func parseISO(text string, now, _ time.Time, _ bool) (int64, int64, bool) {
	parts := strings.Split(text, "-")
	if len(parts) < 1 || len(parts) > 3 {
		return 0, 0, false
	}
	if len(parts[0]) != 4 {
		return 0, 0, false
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}

	switch len(parts) {
	case 1:
		start := time.Date(year, time.January, 1, 0, 0, 0, 0, now.Location())
		return start.Unix(), start.AddDate(1, 0, 0).Unix(), true
	case 2:
		m, err := strconv.Atoi(parts[1])
		if err != nil || m < 1 || m > 12 {
			return 0, 0, false
		}
		first, last := monthBounds(time.Date(year, time.Month(m), 1, 0, 0, 0, 0, now.Location()))
		return first, last, true
	default:
		m, err := strconv.Atoi(parts[1])
		if err != nil || m < 1 || m > 12 {
			return 0, 0, false
		}
		day, err := strconv.Atoi(parts[2])
		if err != nil || day < 1 || day > 31 {
			return 0, 0, false
		}
		first, last := dayBounds(time.Date(year, time.Month(m), day, 0, 0, 0, 0, now.Location()))
		return first, last, true
	}
}

// parseUS parses "month/day[/year]", with the year disambiguated
// relative to disambiguateMonth exactly as parseMonthDash does when
// absent, including the after-dependent direction of the shift.
func parseUS(text string, now, disambiguateMonth time.Time, after bool) (int64, int64, bool) {
	parts := strings.Split(text, "/")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, false
	}
	month, err := strconv.Atoi(parts[0])
	if err != nil || month < 1 || month > 12 {
		return 0, 0, false
	}
	day, err := strconv.Atoi(parts[1])
	if err != nil || day < 1 || day > 31 {
		return 0, 0, false
	}

	var year int
	if len(parts) == 3 {
		year, err = strconv.Atoi(parts[2])
		if err != nil {
			return 0, 0, false
		}
		if year < 100 {
			year += 2000
		}
	} else {
		year = disambiguateMonth.Year()
		if after {
			if time.Month(month) < disambiguateMonth.Month() {
				year++
			}
		} else {
			if time.Month(month) > disambiguateMonth.Month() {
				year--
			}
		}
	}

	first, last := dayBounds(time.Date(year, time.Month(month), day, 0, 0, 0, 0, now.Location()))
	return first, last, true
}
