package schedule

import (
	"time"

	"schedula/agenda/internal/domain"
)

const (
	MonthCells = 42
	MaxDots    = 3
)

type MonthCell struct {
	Date    string
	InMonth bool
	Counts  Summary
	// Dots are the statuses of the first appointments of the day, in time
	// order, capped at MaxDots.
	Dots     []domain.Status
	Overflow int
}

type MonthView struct {
	Year  int
	Month time.Month
	Cells []MonthCell
	// Skipped holds records with no date to place them on.
	Skipped []domain.Appointment
}

// Month is the six-week grid starting on the Sunday on or before the 1st.
func Month(year int, month time.Month, appts []domain.Appointment, loc *time.Location) MonthView {
	if loc == nil {
		loc = time.Local
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	start := domain.SundayOnOrBefore(first)

	placed, undated := placeAll(appts, loc)
	sortByTime(placed)
	byDate := make(map[string][]domain.Appointment)
	for _, p := range placed {
		byDate[p.date] = append(byDate[p.date], p.appt)
	}

	view := MonthView{Year: year, Month: month, Cells: make([]MonthCell, MonthCells), Skipped: undated}
	for i := range view.Cells {
		d := start.AddDate(0, 0, i)
		key := domain.FormatDate(d)
		cell := MonthCell{
			Date:    key,
			InMonth: d.Month() == month && d.Year() == year,
			Dots:    []domain.Status{},
		}
		for _, a := range byDate[key] {
			cell.Counts.add(a.Status)
			if len(cell.Dots) < MaxDots {
				cell.Dots = append(cell.Dots, a.Status)
			}
		}
		cell.Overflow = max(0, cell.Counts.Total-MaxDots)
		view.Cells[i] = cell
	}
	return view
}
