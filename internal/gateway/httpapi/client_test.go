package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedula/agenda/internal/domain"
	"schedula/agenda/internal/gateway"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Options{BaseURL: srv.URL + "/", Token: "tok"})
	require.NoError(t, err)
	return c
}

func TestFetchAppointments_EnvelopeAndLegacyStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/businesses/b1/appointments", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":[{"id":"a1","date":"2024-06-10","time":"09:15","status":"cancelled"}]}`))
	})

	got, err := c.FetchAppointments(context.Background(), "b1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)
	assert.Equal(t, domain.StatusCanceled, got[0].Status)
}

func TestFetchAppointments_BareArray(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"a1"},{"id":"a2"}]`))
	})

	got, err := c.FetchAppointments(context.Background(), "b1")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRateLimitedResponseIsClassified(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"slow down"}`))
	})

	_, err := c.FetchAppointments(context.Background(), "b1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, gateway.ErrRateLimited))
	assert.Equal(t, gateway.KindRateLimited, gateway.Classify(err))

	var sErr *gateway.StatusError
	require.True(t, errors.As(err, &sErr))
	assert.Equal(t, "slow down", sErr.Message)
}

func TestFetchAppointmentByID_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.FetchAppointmentByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, gateway.ErrNotFound))
}

func TestSetAppointmentStatus_SendsStatusAndReturnsServerRecord(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/appointments/a1/status", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "completed", body["status"])
		_, _ = w.Write([]byte(`{"appointment":{"id":"a1","status":"completed","notes":"server"}}`))
	})

	got, err := c.SetAppointmentStatus(context.Background(), "a1", domain.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, "server", got.Notes)
}

func TestCreateAppointment_RejectsIncompletePayloadWithoutRequest(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	_, err := c.CreateAppointment(context.Background(), gateway.CreatePayload{Business: "b1"})
	assert.ErrorIs(t, err, gateway.ErrIncompletePayload)
	assert.False(t, called)
}

func TestDeleteAppointment_EmptyBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})

	assert.NoError(t, c.DeleteAppointment(context.Background(), "a1"))
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
