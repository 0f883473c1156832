package schedule

import (
	"time"

	"schedula/agenda/internal/domain"
)

const MaxVisiblePerDay = 3

type WeekDay struct {
	Date         string
	Weekday      time.Weekday
	Appointments []domain.Appointment
	Visible      []domain.Appointment
	Overflow     int
}

type WeekView struct {
	Start string
	End   string
	Days  []WeekDay
	// Skipped holds records with no date to place them on.
	Skipped []domain.Appointment
}

// Week is the Monday-to-Sunday window containing anchor. Each day's
// appointments are ordered by time, with unparseable times last.
func Week(anchor time.Time, appts []domain.Appointment) WeekView {
	loc := anchor.Location()
	monday := domain.MondayOf(anchor)

	placed, undated := placeAll(appts, loc)
	sortByTime(placed)
	byDate := make(map[string][]domain.Appointment)
	for _, p := range placed {
		byDate[p.date] = append(byDate[p.date], p.appt)
	}

	view := WeekView{Days: make([]WeekDay, 7), Skipped: undated}
	for i := range view.Days {
		d := monday.AddDate(0, 0, i)
		key := domain.FormatDate(d)
		list := byDate[key]
		if list == nil {
			list = []domain.Appointment{}
		}
		view.Days[i] = WeekDay{
			Date:         key,
			Weekday:      d.Weekday(),
			Appointments: list,
			Visible:      list[:min(len(list), MaxVisiblePerDay)],
			Overflow:     max(0, len(list)-MaxVisiblePerDay),
		}
	}
	view.Start = view.Days[0].Date
	view.End = view.Days[6].Date
	return view
}
