package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"schedula/agenda/internal/clock"
	"schedula/agenda/internal/config"
	"schedula/agenda/internal/domain"
	"schedula/agenda/internal/schedule"
)

type viewRequest struct {
	view   string
	date   time.Time
	today  bool
	hours  schedule.BusinessHours
	format string
	day    schedule.DayOptions
	clock  clock.Clock
}

func newViewRequest(view, date, hours, format string, cfg config.Config, clk clock.Clock) (viewRequest, error) {
	req := viewRequest{
		view:   strings.ToLower(strings.TrimSpace(view)),
		format: strings.ToLower(strings.TrimSpace(format)),
		clock:  clk,
		day: schedule.DayOptions{
			StartHour: cfg.DayStartHour,
			EndHour:   cfg.DayEndHour,
			Location:  cfg.Location,
		},
	}

	switch req.view {
	case "day", "week", "month", "timeline", "list":
	default:
		return viewRequest{}, fmt.Errorf("unknown view %q", view)
	}
	switch req.format {
	case "json", "yaml":
	default:
		return viewRequest{}, fmt.Errorf("unknown format %q", format)
	}

	if strings.TrimSpace(date) == "" {
		req.today = true
	} else {
		d, err := domain.ParseDate(strings.TrimSpace(date), cfg.Location)
		if err != nil {
			return viewRequest{}, fmt.Errorf("-date: %w", err)
		}
		req.date = d
	}

	req.hours = schedule.BusinessHours{
		Open:  domain.FormatMinutes(cfg.DayStartHour * 60),
		Close: domain.FormatMinutes(cfg.DayEndHour * 60),
	}
	if h := strings.TrimSpace(hours); h != "" {
		open, closing, ok := strings.Cut(h, "-")
		if !ok {
			return viewRequest{}, fmt.Errorf("-hours wants HH:mm-HH:mm, got %q", hours)
		}
		req.hours = schedule.BusinessHours{Open: strings.TrimSpace(open), Close: strings.TrimSpace(closing)}
	}
	return req, nil
}

// reference is the viewed date. Without -date it follows the clock so a
// long-running watch rolls over at midnight.
func (r viewRequest) reference() time.Time {
	if !r.today {
		return r.date
	}
	now := r.clock.Now().In(r.day.Location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.day.Location)
}

func (r viewRequest) build(appts []domain.Appointment, now time.Time) (any, error) {
	ref := r.reference()
	switch r.view {
	case "day":
		return schedule.Day(ref, appts, now, r.day), nil
	case "week":
		return schedule.Week(ref, appts), nil
	case "month":
		return schedule.Month(ref.Year(), ref.Month(), appts, r.day.Location), nil
	case "timeline":
		return schedule.Timeline(ref, appts, now, r.hours, r.day.Location)
	default:
		return struct {
			ByDate   []schedule.DateGroup
			ByStatus []schedule.StatusGroup
		}{
			ByDate:   schedule.GroupByDateDesc(appts),
			ByStatus: schedule.GroupByStatus(appts),
		}, nil
	}
}

func (r viewRequest) render(w io.Writer, appts []domain.Appointment, now time.Time) error {
	v, err := r.build(appts, now)
	if err != nil {
		return err
	}
	if r.format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
