package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/sos_dispatch_system/internal/config"
	"github.com/shenikar/sos_dispatch_system/internal/dispatch"
	"github.com/shenikar/sos_dispatch_system/internal/models"
	"github.com/shenikar/sos_dispatch_system/internal/session"
	"github.com/shenikar/sos_dispatch_system/internal/syncengine"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ syncengine.Remote       = (*Client)(nil)
	_ dispatch.FacilityFinder = (*Client)(nil)
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(&config.ClientConfig{
		ServerURL:   srv.URL + "/api/v1/",
		APIKey:      "key-1",
		HTTPTimeout: 5 * time.Second,
	}, logger)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestListIncidents(t *testing.T) {
	id := uuid.New()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/incidents", r.URL.Path)
		assert.Equal(t, "OPEN,DISPATCHED", r.URL.Query().Get("status"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		assert.Equal(t, "key-1", r.Header.Get("X-API-Key"))
		writeJSON(w, http.StatusOK, []map[string]any{{
			"id":              id,
			"type":            "Fire",
			"priority":        "CRITICAL",
			"description":     "Fire at Market",
			"people_affected": 5,
			"location":        map[string]float64{"lat": 19.07, "lng": 72.87},
			"place_name":      "Market",
			"status":          "OPEN",
			"timestamp":       "2026-03-01T10:00:00Z",
		}})
	})

	got, err := c.ListIncidents(context.Background(), models.IncidentFilter{
		Statuses: []models.Status{models.StatusOpen, models.StatusDispatched},
		Limit:    20,
	})

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, models.TypeFire, got[0].Type)
	assert.Equal(t, models.LatLng{Lat: 19.07, Lng: 72.87}, got[0].Location)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), got[0].Timestamp)
}

func TestCreateIncident(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var draft models.IncidentDraft
		require.NoError(t, json.NewDecoder(r.Body).Decode(&draft))
		assert.Equal(t, "Water rising", draft.Description)
		require.NotNil(t, draft.Location)

		writeJSON(w, http.StatusCreated, models.Incident{
			ID:          uuid.New(),
			Type:        draft.Type,
			Priority:    models.PriorityMedium,
			Description: draft.Description,
			Location:    *draft.Location,
			Status:      models.StatusOpen,
		})
	})

	got, err := c.CreateIncident(context.Background(), models.IncidentDraft{
		Type:        models.TypeFlood,
		Description: "Water rising",
		Location:    &models.LatLng{Lat: 10, Lng: 20},
	})

	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, got.Status)
	assert.Equal(t, models.TypeFlood, got.Type)
}

func TestUpdateStatus_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		code int
		want error
	}{
		{"conflict", http.StatusConflict, models.ErrInvalidTransition},
		{"not found", http.StatusNotFound, models.ErrNotFound},
		{"bad request", http.StatusBadRequest, models.ErrValidation},
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"server error", http.StatusInternalServerError, models.ErrIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPatch, r.Method)
				writeJSON(w, tt.code, map[string]string{"error": "rejected by server"})
			})

			_, err := c.UpdateStatus(context.Background(), uuid.New(), models.StatusResolved)

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "rejected by server")
		})
	}
}

func TestForceStatus_SendsForceFlag(t *testing.T) {
	id := uuid.New()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/incidents/"+id.String(), r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "OPEN", body["status"])
		assert.Equal(t, true, body["force"])
		writeJSON(w, http.StatusOK, models.Incident{ID: id, Status: models.StatusOpen})
	})

	got, err := c.ForceStatus(context.Background(), id, models.StatusOpen)

	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, got.Status)
}

func TestLogin_SetsBearerToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			writeJSON(w, http.StatusOK, map[string]any{
				"token":      "tok-42",
				"username":   "admin",
				"role":       "DISPATCHER",
				"expires_at": "2026-03-01T20:00:00Z",
			})
		case "/api/v1/incidents":
			assert.Equal(t, "Bearer tok-42", r.Header.Get("Authorization"))
			assert.Empty(t, r.Header.Get("X-API-Key"))
			writeJSON(w, http.StatusOK, map[string]any{"message": "Incidents cleared", "deleted": 7})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	s, err := c.Login(context.Background(), "admin", "admin123")
	require.NoError(t, err)
	assert.Equal(t, "tok-42", s.Token)
	assert.Equal(t, "DISPATCHER", s.Role)

	n, err := c.ClearIncidents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid username or password"})
	})

	_, err := c.Login(context.Background(), "admin", "nope")

	assert.ErrorIs(t, err, session.ErrInvalidCredentials)
}

func TestFindNearest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/facilities/nearest", r.URL.Path)
		assert.Equal(t, "hospital,shelter", r.URL.Query().Get("categories"))
		assert.Equal(t, "19.076", r.URL.Query().Get("lat"))
		assert.Equal(t, "5000", r.URL.Query().Get("radius"))
		writeJSON(w, http.StatusOK, map[string]any{
			"matches": []map[string]any{{"place_id": "h1", "name": "City Hospital", "category": "hospital"}},
			"nearest": map[string]any{"place_id": "h1", "name": "City Hospital", "category": "hospital", "distance_text": "1.2 km"},
			"route":   map[string]any{"distance_text": "1.4 km", "duration_text": "5 mins"},
		})
	})

	res, err := c.FindNearest(context.Background(), models.LatLng{Lat: 19.076, Lng: 72.8777},
		[]models.Category{models.CategoryHospital, models.CategoryShelter}, 5000)

	require.NoError(t, err)
	require.NotNil(t, res.Nearest)
	assert.Equal(t, "City Hospital", res.Nearest.Name)
	assert.Equal(t, "5 mins", res.Route.DurationText)
}

func TestFindNearest_Disabled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "facility search is disabled"})
	})

	_, err := c.FindNearest(context.Background(), models.LatLng{Lat: 1, Lng: 1}, nil, 0)

	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestReport_FailureKeepsReply(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotContains(t, body, "latitude")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"action":     "failed",
			"reply":      "I could not send the alert. Please try again.",
			"transcript": "flood here",
		})
	})

	out, err := c.Report(context.Background(), "flood here", nil)

	assert.ErrorIs(t, err, models.ErrIO)
	require.NotNil(t, out)
	assert.Equal(t, "failed", out.Action)
	assert.Equal(t, "flood here", out.Transcript)
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c := New(&config.ClientConfig{ServerURL: srv.URL, HTTPTimeout: time.Second}, logger)

	_, err := c.ListIncidents(context.Background(), models.IncidentFilter{})

	assert.ErrorIs(t, err, models.ErrIO)
}
