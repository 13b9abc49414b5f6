package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shenikar/sos_dispatch_system/internal/config"
	"github.com/shenikar/sos_dispatch_system/internal/models"
	"github.com/shenikar/sos_dispatch_system/internal/observability"
	"github.com/shenikar/sos_dispatch_system/internal/service/mocks"
	"github.com/shenikar/sos_dispatch_system/internal/webhook"
	webhook_mocks "github.com/shenikar/sos_dispatch_system/internal/webhook/mocks"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var testNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

// newTestIncidentService - вспомогательная функция для создания инстанса сервиса с моками.
func newTestIncidentService(t *testing.T) (*incidentService, *mocks.MockIncidentRepository, *webhook_mocks.MockWebhookPublisher) {
	ctrl := gomock.NewController(t)
	repoMock := mocks.NewMockIncidentRepository(ctrl)
	webhookMock := webhook_mocks.NewMockWebhookPublisher(ctrl)

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{}) // Отключаем вывод логов в тестах

	cfg := &config.Config{
		FacilitySearchRadius: 5000,
	}

	service := NewIncidentService(repoMock, logger, cfg, webhookMock, observability.NewMetricsForTesting(), clockwork.NewFakeClockAt(testNow))
	return service.(*incidentService), repoMock, webhookMock
}

func validDraft() models.IncidentDraft {
	return models.IncidentDraft{
		Type:           models.TypeFire,
		Priority:       models.PriorityCritical,
		Description:    "  Fire at Market, 5 people trapped  ",
		PeopleAffected: 5,
		Location:       &models.LatLng{Lat: 28.6139, Lng: 77.2090},
		PlaceName:      "Market",
	}
}

func TestGetIncident_Success_FromCache(t *testing.T) {
	// Подготовка
	service, repoMock, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	expectedIncident := &models.Incident{
		ID:          incidentID,
		Description: "Тестовый инцидент из кеша",
	}

	// Ожидания
	repoMock.EXPECT().
		GetIncidentFromCache(ctx, incidentID).
		Return(expectedIncident, nil).
		Times(1)

	// Действие
	incident, err := service.GetIncident(ctx, incidentID)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, expectedIncident, incident)
}

func TestGetIncident_Success_FromDB(t *testing.T) {
	// Подготовка
	service, repoMock, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	expectedIncident := &models.Incident{
		ID:          incidentID,
		Description: "Тестовый инцидент из БД",
	}

	// Ожидания
	// 1. Промах кеша
	repoMock.EXPECT().
		GetIncidentFromCache(ctx, incidentID).
		Return(nil, nil).
		Times(1)

	// 2. Попадание в БД
	repoMock.EXPECT().
		GetByID(ctx, incidentID).
		Return(expectedIncident, nil).
		Times(1)

	// 3. Запись в кеш
	repoMock.EXPECT().
		SetIncidentCache(ctx, expectedIncident).
		Return(nil).
		Times(1)

	// Действие
	incident, err := service.GetIncident(ctx, incidentID)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, expectedIncident, incident)
}

func TestGetIncident_CacheErrorFallsBackToDB(t *testing.T) {
	service, repoMock, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	expectedIncident := &models.Incident{ID: incidentID}

	repoMock.EXPECT().GetIncidentFromCache(ctx, incidentID).Return(nil, fmt.Errorf("redis down")).Times(1)
	repoMock.EXPECT().GetByID(ctx, incidentID).Return(expectedIncident, nil).Times(1)
	repoMock.EXPECT().SetIncidentCache(ctx, expectedIncident).Return(fmt.Errorf("redis down")).Times(1)

	incident, err := service.GetIncident(ctx, incidentID)

	require.NoError(t, err)
	assert.Equal(t, expectedIncident, incident)
}

func TestGetIncident_NotFound(t *testing.T) {
	// Подготовка
	service, repoMock, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()

	// Ожидания
	repoMock.EXPECT().
		GetIncidentFromCache(ctx, incidentID).
		Return(nil, nil).
		Times(1)
	repoMock.EXPECT().
		GetByID(ctx, incidentID).
		Return(nil, fmt.Errorf("incident with id %s: %w", incidentID, models.ErrNotFound)).
		Times(1)

	// Действие
	incident, err := service.GetIncident(ctx, incidentID)

	// Проверки
	require.Error(t, err)
	assert.Nil(t, incident)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorContains(t, err, "could not get incident")
}

func TestCreateIncident_Success(t *testing.T) {
	// Подготовка
	service, repoMock, webhookMock := newTestIncidentService(t)
	ctx := context.Background()

	// Ожидания
	repoMock.EXPECT().
		Create(ctx, gomock.Any()).
		Do(func(ctx context.Context, inc *models.Incident) {
			// id, время и статус назначает сервис
			assert.NotEqual(t, uuid.Nil, inc.ID)
			assert.Equal(t, models.StatusOpen, inc.Status)
			assert.Equal(t, testNow, inc.Timestamp)
			assert.Equal(t, "Fire at Market, 5 people trapped", inc.Description)
		}).
		Return(nil).
		Times(1)

	webhookMock.EXPECT().
		Publish(ctx, gomock.Any()).
		Do(func(ctx context.Context, event webhook.IncidentEvent) {
			assert.Equal(t, webhook.EventIncidentCreated, event.Event)
			require.NotNil(t, event.Incident)
			assert.Equal(t, models.TypeFire, event.Incident.Type)
		}).
		Return(nil).
		Times(1)

	// Действие
	incident, err := service.CreateIncident(ctx, validDraft())

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, incident.Status)
	assert.Equal(t, models.PriorityCritical, incident.Priority)
	assert.Equal(t, 5, incident.PeopleAffected)
	assert.Equal(t, "Market", incident.PlaceName)
}

func TestCreateIncident_AppliesDefaults(t *testing.T) {
	service, repoMock, webhookMock := newTestIncidentService(t)
	ctx := context.Background()
	draft := models.IncidentDraft{
		Description: "something odd",
		Location:    &models.LatLng{Lat: 1, Lng: 2},
	}

	repoMock.EXPECT().Create(ctx, gomock.Any()).Return(nil).Times(1)
	webhookMock.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	incident, err := service.CreateIncident(ctx, draft)

	require.NoError(t, err)
	assert.Equal(t, models.TypeOther, incident.Type)
	assert.Equal(t, models.PriorityMedium, incident.Priority)
}

func TestCreateIncident_UniqueIDs(t *testing.T) {
	service, repoMock, webhookMock := newTestIncidentService(t)
	ctx := context.Background()

	repoMock.EXPECT().Create(ctx, gomock.Any()).Return(nil).Times(2)
	webhookMock.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(2)

	first, err := service.CreateIncident(ctx, validDraft())
	require.NoError(t, err)
	second, err := service.CreateIncident(ctx, validDraft())
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
}

func TestCreateIncident_ValidationError(t *testing.T) {
	tests := []struct {
		name  string
		draft models.IncidentDraft
	}{
		{"missing location", models.IncidentDraft{Description: "help"}},
		{"blank description", models.IncidentDraft{Description: "   ", Location: &models.LatLng{Lat: 1, Lng: 1}}},
		{"negative people", models.IncidentDraft{Description: "help", PeopleAffected: -1, Location: &models.LatLng{Lat: 1, Lng: 1}}},
		{"latitude out of range", models.IncidentDraft{Description: "help", Location: &models.LatLng{Lat: 91, Lng: 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, _, _ := newTestIncidentService(t)

			// Репозиторий и публикатор не вызываются
			incident, err := service.CreateIncident(context.Background(), tt.draft)

			require.Error(t, err)
			assert.Nil(t, incident)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}
}

func TestCreateIncident_StoreFailure(t *testing.T) {
	service, repoMock, _ := newTestIncidentService(t)
	ctx := context.Background()

	repoMock.EXPECT().Create(ctx, gomock.Any()).Return(fmt.Errorf("%w: connection refused", models.ErrIO)).Times(1)

	incident, err := service.CreateIncident(ctx, validDraft())

	require.Error(t, err)
	assert.Nil(t, incident)
	assert.ErrorIs(t, err, models.ErrIO)
}

func TestCreateIncident_PublishFailureIsNotFatal(t *testing.T) {
	service, repoMock, webhookMock := newTestIncidentService(t)
	ctx := context.Background()

	repoMock.EXPECT().Create(ctx, gomock.Any()).Return(nil).Times(1)
	webhookMock.EXPECT().Publish(ctx, gomock.Any()).Return(errors.New("queue unavailable")).Times(1)

	incident, err := service.CreateIncident(ctx, validDraft())

	require.NoError(t, err)
	assert.NotNil(t, incident)
}

func TestListIncidents_Success(t *testing.T) {
	// Подготовка
	service, repoMock, _ := newTestIncidentService(t)
	ctx := context.Background()
	filter := models.IncidentFilter{Limit: 10}
	expectedIncidents := []*models.Incident{
		{ID: uuid.New(), Description: "Инцидент 2", Timestamp: testNow},
		{ID: uuid.New(), Description: "Инцидент 1", Timestamp: testNow.Add(-time.Minute)},
	}

	// Ожидания
	repoMock.EXPECT().List(ctx, filter).Return(expectedIncidents, nil).Times(1)

	// Действие
	incidents, err := service.ListIncidents(ctx, filter)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, expectedIncidents, incidents)
}

func TestListIncidents_StoreFailureIsNotEmptyList(t *testing.T) {
	service, repoMock, _ := newTestIncidentService(t)
	ctx := context.Background()

	repoMock.EXPECT().List(ctx, gomock.Any()).Return(nil, fmt.Errorf("%w: timeout", models.ErrIO)).Times(1)

	incidents, err := service.ListIncidents(ctx, models.IncidentFilter{})

	require.Error(t, err)
	assert.Nil(t, incidents)
	assert.ErrorIs(t, err, models.ErrIO)
}

func TestListIncidents_UnknownStatus(t *testing.T) {
	service, _, _ := newTestIncidentService(t)

	_, err := service.ListIncidents(context.Background(), models.IncidentFilter{Statuses: []models.Status{"CLOSED"}})

	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestUpdateStatus_Success(t *testing.T) {
	// Подготовка
	service, repoMock, webhookMock := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	existing := &models.Incident{ID: incidentID, Status: models.StatusOpen}
	updated := &models.Incident{ID: incidentID, Status: models.StatusDispatched}

	// Ожидания
	repoMock.EXPECT().GetByID(ctx, incidentID).Return(existing, nil).Times(1)
	repoMock.EXPECT().UpdateStatus(ctx, incidentID, models.StatusOpen, models.StatusDispatched).Return(updated, nil).Times(1)
	repoMock.EXPECT().InvalidateIncidentCache(ctx, incidentID).Return(nil).Times(1)
	webhookMock.EXPECT().
		Publish(ctx, gomock.Any()).
		Do(func(ctx context.Context, event webhook.IncidentEvent) {
			assert.Equal(t, webhook.EventIncidentStatusChanged, event.Event)
			assert.Equal(t, updated, event.Incident)
		}).
		Return(nil).
		Times(1)

	// Действие
	incident, err := service.UpdateStatus(ctx, incidentID, models.StatusDispatched)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, models.StatusDispatched, incident.Status)
}

func TestUpdateStatus_NotFound(t *testing.T) {
	service, repoMock, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()

	repoMock.EXPECT().GetByID(ctx, incidentID).Return(nil, fmt.Errorf("missing: %w", models.ErrNotFound)).Times(1)

	incident, err := service.UpdateStatus(ctx, incidentID, models.StatusResolved)

	require.Error(t, err)
	assert.Nil(t, incident)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorContains(t, err, "not found for update")
}

func TestUpdateStatus_InvalidTransition(t *testing.T) {
	service, repoMock, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	existing := &models.Incident{ID: incidentID, Status: models.StatusResolved}

	repoMock.EXPECT().GetByID(ctx, incidentID).Return(existing, nil).Times(1)

	incident, err := service.UpdateStatus(ctx, incidentID, models.StatusOpen)

	require.Error(t, err)
	assert.Nil(t, incident)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestUpdateStatus_SameStatusIsNoop(t *testing.T) {
	service, repoMock, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	existing := &models.Incident{ID: incidentID, Status: models.StatusResolved}

	// Ни записи, ни вебхука
	repoMock.EXPECT().GetByID(ctx, incidentID).Return(existing, nil).Times(1)

	incident, err := service.UpdateStatus(ctx, incidentID, models.StatusResolved)

	require.NoError(t, err)
	assert.Equal(t, existing, incident)
}

func TestUpdateStatus_UnknownStatus(t *testing.T) {
	service, _, _ := newTestIncidentService(t)

	_, err := service.UpdateStatus(context.Background(), uuid.New(), "CLOSED")

	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestUpdateStatus_ChangedConcurrently(t *testing.T) {
	service, repoMock, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	existing := &models.Incident{ID: incidentID, Status: models.StatusOpen}
	resolvedMeanwhile := &models.Incident{ID: incidentID, Status: models.StatusResolved}

	gomock.InOrder(
		repoMock.EXPECT().GetByID(ctx, incidentID).Return(existing, nil),
		repoMock.EXPECT().
			UpdateStatus(ctx, incidentID, models.StatusOpen, models.StatusDispatched).
			Return(nil, fmt.Errorf("no row: %w", models.ErrNotFound)),
		repoMock.EXPECT().GetByID(ctx, incidentID).Return(resolvedMeanwhile, nil),
	)

	incident, err := service.UpdateStatus(ctx, incidentID, models.StatusDispatched)

	require.Error(t, err)
	assert.Nil(t, incident)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestForceStatus_OverridesTransitionRules(t *testing.T) {
	service, repoMock, webhookMock := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	existing := &models.Incident{ID: incidentID, Status: models.StatusResolved}
	reopened := &models.Incident{ID: incidentID, Status: models.StatusOpen}

	repoMock.EXPECT().GetByID(ctx, incidentID).Return(existing, nil).Times(1)
	repoMock.EXPECT().UpdateStatus(ctx, incidentID, models.Status(""), models.StatusOpen).Return(reopened, nil).Times(1)
	repoMock.EXPECT().InvalidateIncidentCache(ctx, incidentID).Return(nil).Times(1)
	webhookMock.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	incident, err := service.ForceStatus(ctx, incidentID, models.StatusOpen)

	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, incident.Status)
}

func TestDeleteIncident_Success(t *testing.T) {
	service, repoMock, webhookMock := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	deleted := &models.Incident{ID: incidentID}

	repoMock.EXPECT().Delete(ctx, incidentID).Return(deleted, nil).Times(1)
	repoMock.EXPECT().InvalidateIncidentCache(ctx, incidentID).Return(nil).Times(1)
	webhookMock.EXPECT().
		Publish(ctx, gomock.Any()).
		Do(func(ctx context.Context, event webhook.IncidentEvent) {
			assert.Equal(t, webhook.EventIncidentDeleted, event.Event)
		}).
		Return(nil).
		Times(1)

	incident, err := service.DeleteIncident(ctx, incidentID)

	require.NoError(t, err)
	assert.Equal(t, deleted, incident)
}

func TestDeleteIncident_NotFound(t *testing.T) {
	service, repoMock, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()

	repoMock.EXPECT().Delete(ctx, incidentID).Return(nil, fmt.Errorf("gone: %w", models.ErrNotFound)).Times(1)

	_, err := service.DeleteIncident(ctx, incidentID)

	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestClearIncidents_Success(t *testing.T) {
	service, repoMock, webhookMock := newTestIncidentService(t)
	ctx := context.Background()

	repoMock.EXPECT().DeleteAll(ctx).Return(int64(7), nil).Times(1)
	repoMock.EXPECT().FlushIncidentCache(ctx).Return(nil).Times(1)
	webhookMock.EXPECT().
		Publish(ctx, gomock.Any()).
		Do(func(ctx context.Context, event webhook.IncidentEvent) {
			assert.Equal(t, webhook.EventIncidentsCleared, event.Event)
			assert.Nil(t, event.Incident)
		}).
		Return(nil).
		Times(1)

	count, err := service.ClearIncidents(ctx)

	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
}

func TestFindOpenNear_DefaultRadius(t *testing.T) {
	service, repoMock, _ := newTestIncidentService(t)
	ctx := context.Background()
	lat, lon := 55.75, 37.61
	found := []*models.Incident{{ID: uuid.New(), Status: models.StatusOpen}}

	repoMock.EXPECT().FindOpenNear(ctx, lat, lon, 5000).Return(found, nil).Times(1)

	incidents, err := service.FindOpenNear(ctx, lat, lon, 0)

	require.NoError(t, err)
	assert.Equal(t, found, incidents)
}

func TestFindOpenNear_InvalidCoordinates(t *testing.T) {
	service, _, _ := newTestIncidentService(t)

	_, err := service.FindOpenNear(context.Background(), 100, 0, 1000)

	assert.ErrorIs(t, err, models.ErrValidation)
}
