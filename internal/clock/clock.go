package clock

import (
	"context"
	"fmt"
	"time"
)

// DayKey encodes a calendar date as year*10000 + month*100 + day.
// Only compared for equality to detect day rollover.
type DayKey uint32

// Reading is one wall-clock sample from the time source. The RTC keeps
// local time, so a Reading carries no zone of its own.
type Reading struct {
	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
	Second int
}

// TimeSource is the contract the engine depends on. Read and Write are
// bounded by the caller's context deadline.
type TimeSource interface {
	Read(ctx context.Context) (Reading, error)
	Write(ctx context.Context, r Reading) error
	Temperature(ctx context.Context) (float64, error)
}

func (r Reading) DayKey() DayKey {
	return DayKey(r.Year*10000 + r.Month*100 + r.Day)
}

// Epoch returns the reading as seconds on a zone-naive local timeline.
// Only differences between two Epochs are meaningful.
func (r Reading) Epoch() int64 {
	t := time.Date(r.Year, time.Month(r.Month), r.Day, r.Hour, r.Minute, r.Second, 0, time.UTC)
	return t.Unix()
}

// FromTime converts a time.Time (already in the wanted zone) to a Reading.
func FromTime(t time.Time) Reading {
	return Reading{
		Year:   t.Year(),
		Month:  int(t.Month()),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
		Second: t.Second(),
	}
}

// Time interprets the reading in the given location.
func (r Reading) Time(loc *time.Location) time.Time {
	return time.Date(r.Year, time.Month(r.Month), r.Day, r.Hour, r.Minute, r.Second, 0, loc)
}

func (r Reading) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d",
		r.Year, r.Month, r.Day, r.Hour, r.Minute, r.Second)
}

// Validate rejects readings an unset or glitching RTC can produce.
func (r Reading) Validate() error {
	if r.Year < 2000 || r.Year > 2099 {
		return fmt.Errorf("year %d out of range", r.Year)
	}
	if r.Month < 1 || r.Month > 12 {
		return fmt.Errorf("month %d out of range", r.Month)
	}
	if r.Day < 1 || r.Day > 31 {
		return fmt.Errorf("day %d out of range", r.Day)
	}
	if r.Hour < 0 || r.Hour > 23 || r.Minute < 0 || r.Minute > 59 || r.Second < 0 || r.Second > 59 {
		return fmt.Errorf("time %02d:%02d:%02d out of range", r.Hour, r.Minute, r.Second)
	}
	return nil
}
