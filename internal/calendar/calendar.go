// Package calendar knows which days the market is closed.
//
// The built-in rules follow the NYSE full-day closures with weekend
// observance. Extra closures (national mourning days, exchange outages)
// can be loaded from a YAML file.
package calendar

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Closure is one extra non-trading day from the holidays file.
type Closure struct {
	Date string `yaml:"date"`
	Name string `yaml:"name"`
}

type holidayFile struct {
	Closures []Closure `yaml:"closures"`
}

// Calendar reports trading days. Safe for concurrent use.
type Calendar struct {
	mu    sync.Mutex
	years map[int]map[time.Time]string
	extra map[time.Time]string
}

// New returns a calendar with the built-in rules only.
func New() *Calendar {
	return &Calendar{
		years: make(map[int]map[time.Time]string),
		extra: make(map[time.Time]string),
	}
}

// Load returns a calendar with the built-in rules plus closures from the
// YAML file at path. An empty path yields the built-in calendar.
func Load(path string) (*Calendar, error) {
	c := New()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read holidays file %s: %w", path, err)
	}

	var f holidayFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse holidays file %s: %w", path, err)
	}

	for _, cl := range f.Closures {
		d, err := time.Parse("2006-01-02", cl.Date)
		if err != nil {
			return nil, fmt.Errorf("invalid closure date %q: %w", cl.Date, err)
		}
		c.AddClosure(d, cl.Name)
	}
	return c, nil
}

// AddClosure marks day as a non-trading day.
func (c *Calendar) AddClosure(day time.Time, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extra[dateOf(day)] = name
}

// Holiday returns the holiday name for day, if it is one.
func (c *Calendar) Holiday(day time.Time) (string, bool) {
	day = dateOf(day)

	c.mu.Lock()
	defer c.mu.Unlock()

	if name, ok := c.extra[day]; ok {
		return name, true
	}
	hols, ok := c.years[day.Year()]
	if !ok {
		hols = holidaysFor(day.Year())
		c.years[day.Year()] = hols
	}
	name, ok := hols[day]
	return name, ok
}

// IsTradingDay is true for weekdays that are not holidays.
func (c *Calendar) IsTradingDay(day time.Time) bool {
	switch day.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, closed := c.Holiday(day)
	return !closed
}

// PreviousTradingDay returns the last trading day strictly before day.
func (c *Calendar) PreviousTradingDay(day time.Time) time.Time {
	d := dateOf(day).AddDate(0, 0, -1)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func holidaysFor(year int) map[time.Time]string {
	h := make(map[time.Time]string)
	add := func(d time.Time, name string) { h[d] = name }

	// New Year's Day is not observed on the preceding Friday when it falls
	// on a Saturday.
	ny := date(year, time.January, 1)
	switch ny.Weekday() {
	case time.Sunday:
		add(ny.AddDate(0, 0, 1), "New Year's Day")
	case time.Saturday:
	default:
		add(ny, "New Year's Day")
	}

	add(nthWeekday(year, time.January, time.Monday, 3), "Martin Luther King Jr. Day")
	add(nthWeekday(year, time.February, time.Monday, 3), "Presidents' Day")
	add(easter(year).AddDate(0, 0, -2), "Good Friday")
	add(lastWeekday(year, time.May, time.Monday), "Memorial Day")
	if year >= 2022 {
		add(observed(date(year, time.June, 19)), "Juneteenth")
	}
	add(observed(date(year, time.July, 4)), "Independence Day")
	add(nthWeekday(year, time.September, time.Monday, 1), "Labor Day")
	add(nthWeekday(year, time.November, time.Thursday, 4), "Thanksgiving Day")
	add(observed(date(year, time.December, 25)), "Christmas Day")
	return h
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// observed shifts Saturday holidays to Friday and Sunday holidays to Monday.
func observed(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	}
	return d
}

func nthWeekday(year int, month time.Month, wd time.Weekday, n int) time.Time {
	d := date(year, month, 1)
	for d.Weekday() != wd {
		d = d.AddDate(0, 0, 1)
	}
	return d.AddDate(0, 0, 7*(n-1))
}

func lastWeekday(year int, month time.Month, wd time.Weekday) time.Time {
	d := date(year, month+1, 1).AddDate(0, 0, -1)
	for d.Weekday() != wd {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// easter computes Western Easter Sunday (anonymous Gregorian algorithm).
func easter(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return date(year, time.Month(month), day)
}
