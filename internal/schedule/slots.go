package schedule

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"schedula/agenda/internal/domain"
)

const (
	SlotMinutes = 30

	DefaultDayStartHour = 8
	DefaultDayEndHour   = 20

	// untimed sorts records without a usable time of day after every slot.
	untimed = 24 * 60
)

// BucketKey is the "HH:MM" start of the 30-minute slot containing clock.
func BucketKey(clock string) (string, error) {
	m, err := domain.MinutesSinceMidnight(clock)
	if err != nil {
		return "", err
	}
	return domain.FormatMinutes(bucket(m)), nil
}

// BucketKeyFromDateTime agrees with BucketKey for the same wall-clock time.
func BucketKeyFromDateTime(t time.Time) string {
	return domain.FormatMinutes(bucket(t.Hour()*60 + t.Minute()))
}

func bucket(minutes int) int {
	return minutes / SlotMinutes * SlotMinutes
}

// Slots lists slot keys from startHour:00 through endHour:00 inclusive.
// Hours are clamped to 0-23.
func Slots(startHour, endHour int) []string {
	return slotRange(clampHour(startHour)*60, clampHour(endHour)*60)
}

func clampHour(h int) int {
	return min(max(h, 0), 23)
}

func slotRange(startMin, endMin int) []string {
	if endMin < startMin {
		return []string{}
	}
	out := make([]string, 0, (endMin-startMin)/SlotMinutes+1)
	for m := bucket(startMin); m <= endMin; m += SlotMinutes {
		out = append(out, domain.FormatMinutes(m))
	}
	return out
}

// placement is an appointment resolved to a calendar date and, when it
// parses, a time of day.
type placement struct {
	appt    domain.Appointment
	date    string
	minutes int
}

func (p placement) timed() bool {
	return p.minutes < untimed
}

// place resolves the date and time of a. Date and Time win over DateTime;
// DateTime is read in loc. A record with a date but no usable time is still
// placed on its date.
func place(a domain.Appointment, loc *time.Location) (placement, bool) {
	if a.Date != "" && a.Time != "" {
		if m, err := domain.MinutesSinceMidnight(a.Time); err == nil {
			return placement{appt: a, date: a.Date, minutes: m}, true
		}
	}
	if a.DateTime != nil {
		t := a.DateTime.In(loc)
		return placement{appt: a, date: domain.FormatDate(t), minutes: t.Hour()*60 + t.Minute()}, true
	}
	if a.Date != "" {
		return placement{appt: a, date: a.Date, minutes: untimed}, true
	}
	return placement{}, false
}

// placeAll splits appts into dated placements and records with no date at
// all, keeping input order.
func placeAll(appts []domain.Appointment, loc *time.Location) ([]placement, []domain.Appointment) {
	placed := make([]placement, 0, len(appts))
	var undated []domain.Appointment
	for _, a := range appts {
		p, ok := place(a, loc)
		if !ok {
			undated = append(undated, a)
			continue
		}
		placed = append(placed, p)
	}
	return placed, undated
}

func sortByTime(ps []placement) {
	sort.SliceStable(ps, func(i, j int) bool {
		return ps[i].minutes < ps[j].minutes
	})
}

type Slot struct {
	Key          string
	Date         string
	Start        time.Time
	Appointments []domain.Appointment
	Current      bool
}

func (s Slot) Empty() bool {
	return len(s.Appointments) == 0
}

// Placeholder is the synthetic record handed to the caller when an empty slot
// is picked. Its ID is stable for a given date and slot.
func (s Slot) Placeholder() domain.Appointment {
	start := s.Start
	return domain.Appointment{
		ID:              uuid.NewSHA1(uuid.NameSpaceURL, []byte("schedula:slot:"+s.Date+"T"+s.Key)).String(),
		Date:            s.Date,
		Time:            s.Key,
		DurationMinutes: SlotMinutes,
		DateTime:        &start,
	}
}

// DayOptions bounds the day grid. The zero value is a single 00:00 slot;
// use DefaultDayOptions for the usual 08:00-20:00 grid.
type DayOptions struct {
	StartHour int
	EndHour   int
	Location  *time.Location
}

func DefaultDayOptions(loc *time.Location) DayOptions {
	return DayOptions{StartHour: DefaultDayStartHour, EndHour: DefaultDayEndHour, Location: loc}
}

func (o DayOptions) normalized() DayOptions {
	o.StartHour, o.EndHour = clampHour(o.StartHour), clampHour(o.EndHour)
	if o.Location == nil {
		o.Location = time.Local
	}
	return o
}

type DayView struct {
	Date  string
	Slots []Slot
	// OutOfHours holds appointments on the date whose slot is outside the grid.
	OutOfHours []domain.Appointment
	// Skipped holds appointments that could not be binned: the date's
	// records without a usable time, and records with no date at all.
	Skipped []domain.Appointment
}

// Day bins the appointments of date into the day's slots.
func Day(date time.Time, appts []domain.Appointment, now time.Time, opts DayOptions) DayView {
	opts = opts.normalized()
	return buildDay(date, appts, now, opts.Location, opts.StartHour*60, opts.EndHour*60)
}

func buildDay(date time.Time, appts []domain.Appointment, now time.Time, loc *time.Location, startMin, endMin int) DayView {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	dateKey := domain.FormatDate(day)

	keys := slotRange(startMin, endMin)
	view := DayView{Date: dateKey, Slots: make([]Slot, len(keys))}
	index := make(map[string]int, len(keys))

	localNow := now.In(loc)
	for i, k := range keys {
		m, _ := domain.MinutesSinceMidnight(k)
		start := day.Add(time.Duration(m) * time.Minute)
		view.Slots[i] = Slot{
			Key:          k,
			Date:         dateKey,
			Start:        start,
			Appointments: []domain.Appointment{},
			Current:      !localNow.Before(start) && localNow.Before(start.Add(SlotMinutes*time.Minute)),
		}
		index[k] = i
	}

	placed, undated := placeAll(appts, loc)
	view.Skipped = undated
	sortByTime(placed)
	for _, p := range placed {
		if p.date != dateKey {
			continue
		}
		if !p.timed() {
			view.Skipped = append(view.Skipped, p.appt)
			continue
		}
		i, ok := index[domain.FormatMinutes(bucket(p.minutes))]
		if !ok {
			view.OutOfHours = append(view.OutOfHours, p.appt)
			continue
		}
		view.Slots[i].Appointments = append(view.Slots[i].Appointments, p.appt)
	}
	return view
}

// Slot returns the slot with the given key.
func (v DayView) Slot(key string) (Slot, bool) {
	for _, s := range v.Slots {
		if s.Key == key {
			return s, true
		}
	}
	return Slot{}, false
}
