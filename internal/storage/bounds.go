package storage

import (
	"fmt"
	"strings"
	"time"

	"spesebook/internal/core"
)

var datetimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// bound is one side of a range query, either a whole local date or a local
// wall-clock instant.
type bound struct {
	date     core.Date
	instant  time.Time
	dateOnly bool
}

func parseBound(s string, loc *time.Location) (bound, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(core.DateLayout, s, loc); err == nil {
		return bound{date: core.DateOf(t, loc), instant: t, dateOnly: true}, nil
	}
	for _, layout := range datetimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return bound{date: core.DateOf(t, loc), instant: t}, nil
		}
	}
	return bound{}, fmt.Errorf("%w: %q", core.ErrTransientQuery, s)
}

// span is a half-open [from, to) interval of instants, plus the inclusive
// day range when both bounds were bare dates.
type span struct {
	from, to       time.Time
	fromDay, toDay core.Date
	byDay          bool
}

func (sp span) empty() bool {
	return !sp.from.Before(sp.to)
}

// resolveRange turns inclusive start and end bounds into a span. A bare date
// as the end bound covers that whole local day.
func resolveRange(start, end string, loc *time.Location) (span, error) {
	lo, err := parseBound(start, loc)
	if err != nil {
		return span{}, err
	}
	hi, err := parseBound(end, loc)
	if err != nil {
		return span{}, err
	}

	sp := span{from: lo.instant, fromDay: lo.date, toDay: hi.date}
	if hi.dateOnly {
		sp.to = hi.date.AddDays(1).Start(loc)
	} else {
		sp.to = hi.instant.Add(time.Nanosecond)
	}
	sp.byDay = lo.dateOnly && hi.dateOnly
	return sp, nil
}
