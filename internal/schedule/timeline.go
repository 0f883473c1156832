package schedule

import (
	"fmt"
	"time"

	"schedula/agenda/internal/domain"
)

// BusinessHours is an "HH:mm" opening window.
type BusinessHours struct {
	Open  string
	Close string
}

type Summary struct {
	Booked    int
	Completed int
	Canceled  int
	NoShow    int
	Total     int
}

func (s *Summary) add(status domain.Status) {
	s.Total++
	switch status {
	case domain.StatusBooked:
		s.Booked++
	case domain.StatusCompleted:
		s.Completed++
	case domain.StatusCanceled:
		s.Canceled++
	case domain.StatusNoShow:
		s.NoShow++
	}
}

type TimelineView struct {
	DayView `yaml:",inline"`
	Hours   BusinessHours
	Summary Summary
}

// Timeline is the agenda-style single day: Day's slots bounded by hours
// instead of the fixed grid, plus per-status totals for the date.
func Timeline(date time.Time, appts []domain.Appointment, now time.Time, hours BusinessHours, loc *time.Location) (TimelineView, error) {
	if loc == nil {
		loc = time.Local
	}
	open, err := domain.MinutesSinceMidnight(hours.Open)
	if err != nil {
		return TimelineView{}, fmt.Errorf("business hours open: %w", err)
	}
	closing, err := domain.MinutesSinceMidnight(hours.Close)
	if err != nil {
		return TimelineView{}, fmt.Errorf("business hours close: %w", err)
	}
	if closing < open {
		return TimelineView{}, fmt.Errorf("business hours close %s is before open %s", hours.Close, hours.Open)
	}

	view := TimelineView{
		DayView: buildDay(date, appts, now, loc, open, closing),
		Hours:   hours,
	}
	// The summary covers the whole date, including records the grid could
	// not bin for lack of a usable time.
	placed, _ := placeAll(appts, loc)
	for _, p := range placed {
		if p.date == view.Date {
			view.Summary.add(p.appt.Status)
		}
	}
	return view, nil
}
