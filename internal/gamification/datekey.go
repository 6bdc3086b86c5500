package gamification

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const dateKeyLayout = "2006-01-02"

// DateKey is a calendar day (YYYY-MM-DD) in some user's tracking timezone.
// Keys are only compared, never displayed.
type DateKey string

func ParseDateKey(s string) (DateKey, error) {
	if _, err := time.Parse(dateKeyLayout, s); err != nil {
		return "", fmt.Errorf("invalid date key %q: %w", s, err)
	}
	return DateKey(s), nil
}

func (k DateKey) time() time.Time {
	t, _ := time.Parse(dateKeyLayout, string(k))
	return t
}

func (k DateKey) Next() DateKey {
	return DateKey(k.time().AddDate(0, 0, 1).Format(dateKeyLayout))
}

func (k DateKey) Prev() DateKey {
	return DateKey(k.time().AddDate(0, 0, -1).Format(dateKeyLayout))
}

// DaysBetween returns to - from in whole calendar days.
func DaysBetween(from, to DateKey) int {
	return int(to.time().Sub(from.time()).Hours() / 24)
}

// Dates computes date keys from an injected clock. Users without a valid
// timezone of their own fall back to the default location.
type Dates struct {
	clock    clockwork.Clock
	fallback *time.Location
	cache    sync.Map // tz name -> *time.Location
}

func NewDates(clock clockwork.Clock, defaultTZ string) (*Dates, error) {
	loc, err := time.LoadLocation(defaultTZ)
	if err != nil {
		return nil, fmt.Errorf("load default timezone: %w", err)
	}
	return &Dates{clock: clock, fallback: loc}, nil
}

func (d *Dates) Location(tz string) *time.Location {
	if tz == "" {
		return d.fallback
	}
	if loc, ok := d.cache.Load(tz); ok {
		return loc.(*time.Location)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return d.fallback
	}
	d.cache.Store(tz, loc)
	return loc
}

func (d *Dates) KeyOf(t time.Time, tz string) DateKey {
	return DateKey(t.In(d.Location(tz)).Format(dateKeyLayout))
}

func (d *Dates) Today(tz string) DateKey {
	return d.KeyOf(d.clock.Now(), tz)
}

func (d *Dates) Yesterday(tz string) DateKey {
	return d.Today(tz).Prev()
}
