package schedule

import (
	"sort"

	"schedula/agenda/internal/domain"
)

type DateGroup struct {
	Date         string
	Appointments []domain.Appointment
}

// GroupByDateDesc groups for the flat list: newest date first, input order
// kept within a date.
func GroupByDateDesc(appts []domain.Appointment) []DateGroup {
	groups := groupByDate(appts)
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Date > groups[j].Date
	})
	return groups
}

// GroupByDateAsc groups for the management screens: oldest date first,
// earliest time first within a date. Unparseable times sort last.
func GroupByDateAsc(appts []domain.Appointment) []DateGroup {
	groups := groupByDate(appts)
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Date < groups[j].Date
	})
	for _, g := range groups {
		sort.SliceStable(g.Appointments, func(i, j int) bool {
			return timeRank(g.Appointments[i]) < timeRank(g.Appointments[j])
		})
	}
	return groups
}

func groupByDate(appts []domain.Appointment) []DateGroup {
	index := make(map[string]int)
	var groups []DateGroup
	for _, a := range appts {
		i, ok := index[a.Date]
		if !ok {
			i = len(groups)
			index[a.Date] = i
			groups = append(groups, DateGroup{Date: a.Date})
		}
		groups[i].Appointments = append(groups[i].Appointments, a)
	}
	if groups == nil {
		groups = []DateGroup{}
	}
	return groups
}

func timeRank(a domain.Appointment) int {
	m, err := domain.MinutesSinceMidnight(a.Time)
	if err != nil {
		return untimed
	}
	return m
}

type StatusGroup struct {
	Status       domain.Status
	Appointments []domain.Appointment
}

// GroupByStatus sections appts by status in lifecycle order. Every known
// status gets a section, empty or not; unknown statuses are dropped.
func GroupByStatus(appts []domain.Appointment) []StatusGroup {
	order := []domain.Status{domain.StatusBooked, domain.StatusCompleted, domain.StatusCanceled, domain.StatusNoShow}
	groups := make([]StatusGroup, len(order))
	index := make(map[domain.Status]int, len(order))
	for i, s := range order {
		groups[i] = StatusGroup{Status: s, Appointments: []domain.Appointment{}}
		index[s] = i
	}
	for _, a := range appts {
		if i, ok := index[a.Status]; ok {
			groups[i].Appointments = append(groups[i].Appointments, a)
		}
	}
	return groups
}
