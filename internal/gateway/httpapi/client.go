package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"schedula/agenda/internal/domain"
	"schedula/agenda/internal/gateway"
)

type Options struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
	HTTPClient *http.Client
	Log        *slog.Logger
}

// Client talks to the booking backend's REST API. Outbound requests are paced
// by a token bucket so a burst of UI triggers cannot flood the backend.
type Client struct {
	base    *url.URL
	token   string
	http    *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

func New(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		base:    base,
		token:   strings.TrimSpace(opts.Token),
		http:    hc,
		limiter: rate.NewLimiter(limit, burst),
		log:     log.With(slog.String("component", "gateway.http")),
	}, nil
}

var _ gateway.Gateway = (*Client)(nil)

func (c *Client) FetchAppointments(ctx context.Context, businessID string) ([]domain.Appointment, error) {
	var out []domain.Appointment
	if err := c.do(ctx, http.MethodGet, "/businesses/"+url.PathEscape(businessID)+"/appointments", nil, &out); err != nil {
		return nil, err
	}
	for i := range out {
		normalize(&out[i])
	}
	return out, nil
}

func (c *Client) FetchAppointmentByID(ctx context.Context, id string) (domain.Appointment, error) {
	return c.one(ctx, http.MethodGet, "/appointments/"+url.PathEscape(id), nil)
}

func (c *Client) CreateAppointment(ctx context.Context, p gateway.CreatePayload) (domain.Appointment, error) {
	if err := p.Validate(); err != nil {
		return domain.Appointment{}, err
	}
	return c.one(ctx, http.MethodPost, "/appointments", p)
}

func (c *Client) UpdateAppointment(ctx context.Context, id string, p gateway.UpdatePayload) (domain.Appointment, error) {
	return c.one(ctx, http.MethodPut, "/appointments/"+url.PathEscape(id), p)
}

func (c *Client) DeleteAppointment(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/appointments/"+url.PathEscape(id), nil, nil)
}

func (c *Client) SetAppointmentStatus(ctx context.Context, id string, status domain.Status) (domain.Appointment, error) {
	body := struct {
		Status domain.Status `json:"status"`
	}{Status: status}
	return c.one(ctx, http.MethodPatch, "/appointments/"+url.PathEscape(id)+"/status", body)
}

func (c *Client) RescheduleAppointment(ctx context.Context, id string, s gateway.Schedule) (domain.Appointment, error) {
	return c.one(ctx, http.MethodPatch, "/appointments/"+url.PathEscape(id)+"/reschedule", s)
}

func (c *Client) one(ctx context.Context, method, path string, in any) (domain.Appointment, error) {
	var out domain.Appointment
	if err := c.do(ctx, method, path, in, &out); err != nil {
		return domain.Appointment{}, err
	}
	normalize(&out)
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("backend request failed", slog.String("method", method), slog.String("path", path), slog.Any("err", err))
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	c.log.Debug(
		"backend request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %w", method, path, &gateway.StatusError{
			Code:    resp.StatusCode,
			Message: errorMessage(raw),
		})
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(unwrapEnvelope(raw), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// unwrapEnvelope accepts both bare payloads and the backend's
// {"data": ...} / {"appointments": ...} / {"appointment": ...} envelopes.
func unwrapEnvelope(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return trimmed
	}
	for _, k := range []string{"data", "appointments", "appointment"} {
		if v, ok := env[k]; ok {
			return v
		}
	}
	return trimmed
}

func errorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func normalize(a *domain.Appointment) {
	if s, ok := domain.ParseStatus(string(a.Status)); ok {
		a.Status = s
	}
	if a.DateTime != nil && (a.Date == "" || a.Time == "") {
		a.Date, a.Time = domain.SplitDateTime(*a.DateTime)
	}
}
