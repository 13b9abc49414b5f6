package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shenikar/sos_dispatch_system/internal/config"
	"github.com/shenikar/sos_dispatch_system/internal/models"
	"github.com/shenikar/sos_dispatch_system/internal/observability"
	"github.com/shenikar/sos_dispatch_system/internal/webhook"
	"github.com/sirupsen/logrus"
)

//go:generate mockgen -source=incident.go -destination=mocks/incident_mock.go -package=mocks

// IncidentRepository определяет контракт хранилища доски происшествий
type IncidentRepository interface {
	Create(ctx context.Context, incident *models.Incident) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	List(ctx context.Context, filter models.IncidentFilter) ([]*models.Incident, error)
	// UpdateStatus меняет статус атомарно. Пустой expected означает безусловную запись,
	// иначе строка обновляется только если текущий статус равен expected.
	UpdateStatus(ctx context.Context, id uuid.UUID, expected, next models.Status) (*models.Incident, error)
	Delete(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	DeleteAll(ctx context.Context) (int64, error)
	FindOpenNear(ctx context.Context, lat, lon float64, radiusMeters int) ([]*models.Incident, error)

	GetIncidentFromCache(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	SetIncidentCache(ctx context.Context, incident *models.Incident) error
	InvalidateIncidentCache(ctx context.Context, id uuid.UUID) error
	FlushIncidentCache(ctx context.Context) error
}

// IncidentService определяет контракт бизнес-логики доски происшествий
type IncidentService interface {
	CreateIncident(ctx context.Context, draft models.IncidentDraft) (*models.Incident, error)
	GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	ListIncidents(ctx context.Context, filter models.IncidentFilter) ([]*models.Incident, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.Status) (*models.Incident, error)
	ForceStatus(ctx context.Context, id uuid.UUID, status models.Status) (*models.Incident, error)
	DeleteIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	ClearIncidents(ctx context.Context) (int64, error)
	FindOpenNear(ctx context.Context, lat, lon float64, radiusMeters int) ([]*models.Incident, error)
}

type incidentService struct {
	repo      IncidentRepository
	logger    *logrus.Logger
	cfg       *config.Config
	publisher webhook.WebhookPublisher
	metrics   *observability.Metrics
	clock     clockwork.Clock
}

func NewIncidentService(
	repo IncidentRepository,
	logger *logrus.Logger,
	cfg *config.Config,
	publisher webhook.WebhookPublisher,
	metrics *observability.Metrics,
	clock clockwork.Clock,
) IncidentService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &incidentService{
		repo:      repo,
		logger:    logger,
		cfg:       cfg,
		publisher: publisher,
		metrics:   metrics,
		clock:     clock,
	}
}

// CreateIncident проверяет черновик, присваивает id, время и статус OPEN
func (s *incidentService) CreateIncident(ctx context.Context, draft models.IncidentDraft) (*models.Incident, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service": "incident",
		"method":  "CreateIncident",
		"type":    draft.Type,
	})
	log.Info("Attempting to create a new incident")

	draft.Normalize()
	if err := draft.Validate(); err != nil {
		log.WithError(err).Warn("Rejected invalid incident draft")
		return nil, fmt.Errorf("service: %w", err)
	}

	// Postgres хранит время с точностью до микросекунд
	incident := &models.Incident{
		ID:             uuid.New(),
		Type:           draft.Type,
		Priority:       draft.Priority,
		Description:    draft.Description,
		PeopleAffected: draft.PeopleAffected,
		Location:       *draft.Location,
		PlaceName:      draft.PlaceName,
		Status:         models.StatusOpen,
		Timestamp:      s.clock.Now().UTC().Truncate(time.Microsecond),
	}
	incident.UpdatedAt = incident.Timestamp

	if err := s.repo.Create(ctx, incident); err != nil {
		log.WithError(err).Error("Failed to create incident in repository")
		s.metrics.StoreErrors.WithLabelValues("create").Inc()
		return nil, fmt.Errorf("service: could not create incident: %w", err)
	}

	s.metrics.IncidentsCreated.WithLabelValues(string(incident.Type), string(incident.Priority)).Inc()
	s.publish(ctx, webhook.EventIncidentCreated, incident)

	log.WithFields(logrus.Fields{
		"incident_id": incident.ID,
		"priority":    incident.Priority,
	}).Info("Incident created successfully")
	return incident, nil
}

// GetIncident получает инцидент по ID, сначала из кеша
func (s *incidentService) GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "GetIncident",
		"incident_id": id,
	})
	log.Debug("Fetching incident by ID")

	cached, err := s.repo.GetIncidentFromCache(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Incident cache lookup failed, falling back to database")
	}
	if cached != nil {
		return cached, nil
	}

	incident, err := s.repo.GetByID(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Failed to get incident in repository")
		return nil, fmt.Errorf("service: could not get incident: %w", err)
	}

	if err := s.repo.SetIncidentCache(ctx, incident); err != nil {
		log.WithError(err).Warn("Failed to cache incident")
	}
	return incident, nil
}

// ListIncidents возвращает доску, новые сверху. Ошибка хранилища не превращается в пустой список.
func (s *incidentService) ListIncidents(ctx context.Context, filter models.IncidentFilter) ([]*models.Incident, error) {
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return nil, fmt.Errorf("service: %w: unknown status %q", models.ErrValidation, st)
		}
	}
	if filter.Limit < 0 {
		filter.Limit = 0
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	log := s.logger.WithFields(logrus.Fields{
		"service": "incident",
		"method":  "ListIncidents",
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
	log.Debug("Listing incidents")

	incidents, err := s.repo.List(ctx, filter)
	if err != nil {
		log.WithError(err).Error("Failed to list incidents from repository")
		s.metrics.StoreErrors.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("service: could not list incidents: %w", err)
	}

	log.WithField("count", len(incidents)).Debug("Incidents listed successfully")
	return incidents, nil
}

// UpdateStatus применяет переход статуса с проверкой допустимых переходов
func (s *incidentService) UpdateStatus(ctx context.Context, id uuid.UUID, status models.Status) (*models.Incident, error) {
	return s.changeStatus(ctx, id, status, false)
}

// ForceStatus - административная перезапись статуса без проверки перехода
func (s *incidentService) ForceStatus(ctx context.Context, id uuid.UUID, status models.Status) (*models.Incident, error) {
	return s.changeStatus(ctx, id, status, true)
}

func (s *incidentService) changeStatus(ctx context.Context, id uuid.UUID, next models.Status, force bool) (*models.Incident, error) {
	mode := "strict"
	if force {
		mode = "force"
	}
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "UpdateStatus",
		"incident_id": id,
		"status":      next,
		"mode":        mode,
	})
	log.Info("Attempting to change incident status")

	if !next.Valid() {
		return nil, fmt.Errorf("service: %w: unknown status %q", models.ErrValidation, next)
	}

	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Attempted to update a non-existent incident")
		return nil, fmt.Errorf("service: incident with id %s not found for update: %w", id, err)
	}

	if !force && !models.CanTransition(existing.Status, next) {
		log.WithField("current_status", existing.Status).Warn("Rejected status transition")
		return nil, fmt.Errorf("service: %s -> %s: %w", existing.Status, next, models.ErrInvalidTransition)
	}
	if existing.Status == next {
		return existing, nil
	}

	expected := existing.Status
	if force {
		expected = ""
	}

	updated, err := s.repo.UpdateStatus(ctx, id, expected, next)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) && !force {
			// Другой диспетчер успел изменить статус между чтением и записью
			if _, getErr := s.repo.GetByID(ctx, id); getErr == nil {
				log.Warn("Incident status changed concurrently")
				return nil, fmt.Errorf("service: status of %s changed concurrently: %w", id, models.ErrInvalidTransition)
			}
		}
		log.WithError(err).Error("Failed to update incident status in repository")
		if !errors.Is(err, models.ErrNotFound) {
			s.metrics.StoreErrors.WithLabelValues("update_status").Inc()
		}
		return nil, fmt.Errorf("service: could not update incident: %w", err)
	}

	if err := s.repo.InvalidateIncidentCache(ctx, id); err != nil {
		log.WithError(err).Warn("Failed to invalidate incident cache")
	}

	s.metrics.StatusChanges.WithLabelValues(string(next), mode).Inc()
	s.publish(ctx, webhook.EventIncidentStatusChanged, updated)

	log.WithField("previous_status", existing.Status).Info("Incident status updated successfully")
	return updated, nil
}

// DeleteIncident удаляет одно происшествие с доски
func (s *incidentService) DeleteIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "DeleteIncident",
		"incident_id": id,
	})
	log.Info("Attempting to delete incident")

	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			log.WithError(err).Warn("Attempted to delete a non-existent incident")
		} else {
			log.WithError(err).Error("Failed to delete incident in repository")
			s.metrics.StoreErrors.WithLabelValues("delete").Inc()
		}
		return nil, fmt.Errorf("service: could not delete incident: %w", err)
	}

	if err := s.repo.InvalidateIncidentCache(ctx, id); err != nil {
		log.WithError(err).Warn("Failed to invalidate incident cache")
	}
	s.publish(ctx, webhook.EventIncidentDeleted, deleted)

	log.Info("Incident deleted successfully")
	return deleted, nil
}

// ClearIncidents - административная очистка всей доски, необратима
func (s *incidentService) ClearIncidents(ctx context.Context) (int64, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service": "incident",
		"method":  "ClearIncidents",
	})
	log.Warn("Clearing the whole incident board")

	count, err := s.repo.DeleteAll(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to clear incidents in repository")
		s.metrics.StoreErrors.WithLabelValues("clear").Inc()
		return 0, fmt.Errorf("service: could not clear incidents: %w", err)
	}

	if err := s.repo.FlushIncidentCache(ctx); err != nil {
		log.WithError(err).Warn("Failed to flush incident cache")
	}
	s.publish(ctx, webhook.EventIncidentsCleared, nil)

	log.WithField("deleted", count).Info("Incident board cleared")
	return count, nil
}

// FindOpenNear находит незакрытые происшествия в радиусе от точки
func (s *incidentService) FindOpenNear(ctx context.Context, lat, lon float64, radiusMeters int) ([]*models.Incident, error) {
	if !(models.LatLng{Lat: lat, Lng: lon}).Valid() {
		return nil, fmt.Errorf("service: %w: coordinates out of range", models.ErrValidation)
	}
	if radiusMeters <= 0 {
		radiusMeters = s.cfg.FacilitySearchRadius
	}

	log := s.logger.WithFields(logrus.Fields{
		"service": "incident",
		"method":  "FindOpenNear",
		"radius":  radiusMeters,
	})

	incidents, err := s.repo.FindOpenNear(ctx, lat, lon, radiusMeters)
	if err != nil {
		log.WithError(err).Error("Failed to find open incidents by location")
		s.metrics.StoreErrors.WithLabelValues("find_near").Inc()
		return nil, fmt.Errorf("service: failed to find open incidents: %w", err)
	}

	log.WithField("count", len(incidents)).Debug("Nearby incidents found")
	return incidents, nil
}

func (s *incidentService) publish(ctx context.Context, kind webhook.EventType, incident *models.Incident) {
	if s.publisher == nil {
		return
	}
	event := webhook.IncidentEvent{
		Event:     kind,
		Incident:  incident,
		Timestamp: s.clock.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		// Доставка событий best-effort, операция над доской уже выполнена
		s.logger.WithError(err).WithField("event", kind).Warn("Failed to publish board event")
	}
}
