package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/sos_dispatch_system/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boardIncident(status models.Status, place string) *models.Incident {
	return &models.Incident{
		ID:             uuid.New(),
		Type:           models.TypeFire,
		Priority:       models.PriorityCritical,
		PeopleAffected: 4,
		Location:       models.LatLng{Lat: 19.076, Lng: 72.8777},
		PlaceName:      place,
		Status:         status,
		Timestamp:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestRenderBoard(t *testing.T) {
	open := boardIncident(models.StatusOpen, "Andheri Market")
	resolved := boardIncident(models.StatusResolved, "Bandra Station")

	var buf bytes.Buffer
	require.NoError(t, renderBoard(&buf, []*models.Incident{open, resolved}, nil, false))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], open.ID.String()[:8])
	assert.Contains(t, lines[1], "Andheri Market")
	assert.Contains(t, lines[2], "RESOLVED")
}

func TestRenderBoard_OpenOnly(t *testing.T) {
	var buf bytes.Buffer
	incidents := []*models.Incident{boardIncident(models.StatusResolved, "Bandra Station")}

	require.NoError(t, renderBoard(&buf, incidents, nil, true))

	assert.NotContains(t, buf.String(), "Bandra Station")
	assert.Contains(t, buf.String(), "No incidents")
}

func TestRenderBoard_PendingMutation(t *testing.T) {
	inc := boardIncident(models.StatusDispatched, "")
	state := func(id uuid.UUID) string {
		if id == inc.ID {
			return "pending"
		}
		return ""
	}

	var buf bytes.Buffer
	require.NoError(t, renderBoard(&buf, []*models.Incident{inc}, state, true))

	assert.Contains(t, buf.String(), "DISPATCHED (pending)")
	assert.Contains(t, buf.String(), "19.076000,72.877700")
}

func TestPlaceLabel_Truncates(t *testing.T) {
	inc := boardIncident(models.StatusOpen, strings.Repeat("Ж", 40))

	got := placeLabel(inc)

	assert.Len(t, []rune(got), maxPlaceWidth)
	assert.True(t, strings.HasSuffix(got, "…"))
}
