package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shenikar/sos_dispatch_system/internal/models"
	"github.com/shenikar/sos_dispatch_system/internal/service"
)

const (
	cacheKeyPrefix  = "incident:"
	defaultCacheTTL = 5 * time.Minute
)

const incidentColumns = `
			id,
			type,
			priority,
			description,
			people_affected,
			ST_Y(location::geometry) AS latitude,
			ST_X(location::geometry) AS longitude,
			place_name,
			status,
			created_at,
			updated_at`

type IncidentRepository struct {
	db          *pgxpool.Pool
	redisClient *redis.Client
	cacheTTL    time.Duration
}

func NewIncidentRepository(db *pgxpool.Pool, redisClient *redis.Client, cacheTTL time.Duration) service.IncidentRepository {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &IncidentRepository{
		db:          db,
		redisClient: redisClient,
		cacheTTL:    cacheTTL,
	}
}

// rowScanner общий для pgx.Row и pgx.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*models.Incident, error) {
	incident := &models.Incident{}
	err := row.Scan(
		&incident.ID,
		&incident.Type,
		&incident.Priority,
		&incident.Description,
		&incident.PeopleAffected,
		&incident.Location.Lat,
		&incident.Location.Lng,
		&incident.PlaceName,
		&incident.Status,
		&incident.Timestamp,
		&incident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return incident, nil
}

func collectIncidents(rows pgx.Rows, op string) ([]*models.Incident, error) {
	defer rows.Close()

	incidents := make([]*models.Incident, 0)
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan incident row in %s: %v", models.ErrIO, op, err)
		}
		incidents = append(incidents, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error list iteration in %s: %v", models.ErrIO, op, err)
	}
	return incidents, nil
}

// Create сохраняет инцидент. id и время назначает сервис, база их не генерирует.
func (r *IncidentRepository) Create(ctx context.Context, incident *models.Incident) error {
	query := `
		INSERT INTO incidents (id, type, priority, description, people_affected, location, place_name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, ST_SetSRID(ST_MakePoint($6, $7), 4326), $8, $9, $10, $10);
	`
	_, err := r.db.Exec(ctx, query,
		incident.ID,
		incident.Type,
		incident.Priority,
		incident.Description,
		incident.PeopleAffected,
		incident.Location.Lng,
		incident.Location.Lat,
		incident.PlaceName,
		incident.Status,
		incident.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to create incident: %v", models.ErrIO, err)
	}
	incident.UpdatedAt = incident.Timestamp
	return nil
}

// GetByID возвращает инцидент по его UUID
func (r *IncidentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	query := `SELECT ` + incidentColumns + `
		FROM incidents
		WHERE id = $1;
	`
	incident, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("incident with id %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: failed to get incident by id: %v", models.ErrIO, err)
	}
	return incident, nil
}

// List возвращает доску, новые сверху. Limit = 0 означает без ограничения.
func (r *IncidentRepository) List(ctx context.Context, filter models.IncidentFilter) ([]*models.Incident, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT ` + incidentColumns + `
		FROM incidents`)

	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		args = append(args, statuses)
		sb.WriteString(fmt.Sprintf(" WHERE status = ANY($%d)", len(args)))
	}

	// id как второй ключ держит порядок стабильным при одинаковом времени
	sb.WriteString(" ORDER BY created_at DESC, id")

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sb.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		sb.WriteString(fmt.Sprintf(" OFFSET $%d", len(args)))
	}

	rows, err := r.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list incidents: %v", models.ErrIO, err)
	}
	return collectIncidents(rows, "List")
}

// UpdateStatus атомарно меняет статус. Если expected задан и не совпал, возвращает ErrNotFound.
func (r *IncidentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, expected, next models.Status) (*models.Incident, error) {
	query := `
		UPDATE incidents SET
			status = $1,
			updated_at = NOW()
		WHERE id = $2 AND ($3::text = '' OR status = $3::text)
		RETURNING ` + incidentColumns + `;
	`
	incident, err := scanIncident(r.db.QueryRow(ctx, query, next, id, string(expected)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("incident with id %s not found for update: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: failed to update incident status: %v", models.ErrIO, err)
	}
	return incident, nil
}

// Delete удаляет запись и возвращает её последнее состояние
func (r *IncidentRepository) Delete(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	query := `
		DELETE FROM incidents
		WHERE id = $1
		RETURNING ` + incidentColumns + `;
	`
	incident, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("incident with id %s not found for delete: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: failed to delete incident: %v", models.ErrIO, err)
	}
	return incident, nil
}

// DeleteAll очищает доску целиком
func (r *IncidentRepository) DeleteAll(ctx context.Context) (int64, error) {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM incidents;`)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to clear incidents: %v", models.ErrIO, err)
	}
	return cmdTag.RowsAffected(), nil
}

// FindOpenNear находит незакрытые инциденты в радиусе от точки, ближайшие первыми
func (r *IncidentRepository) FindOpenNear(ctx context.Context, lat, lon float64, radiusMeters int) ([]*models.Incident, error) {
	query := `SELECT ` + incidentColumns + `
		FROM incidents
		WHERE
			status <> 'RESOLVED'
			AND ST_DWithin(
				location,
				ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography,
				$3
			)
		ORDER BY ST_Distance(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography);
	`
	rows, err := r.db.Query(ctx, query, lon, lat, radiusMeters)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to find open incidents by location: %v", models.ErrIO, err)
	}
	return collectIncidents(rows, "FindOpenNear")
}

func cacheKey(id uuid.UUID) string {
	return cacheKeyPrefix + id.String()
}

// GetIncidentFromCache пытается получить инцидент из Redis. Промах кеша - (nil, nil).
func (r *IncidentRepository) GetIncidentFromCache(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	val, err := r.redisClient.Get(ctx, cacheKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get incident from cache: %w", err)
	}

	incident := &models.Incident{}
	if err := json.Unmarshal(val, incident); err != nil {
		return nil, fmt.Errorf("failed to unmarshal incident from cache: %w", err)
	}
	return incident, nil
}

// SetIncidentCache сохраняет инцидент в Redis
func (r *IncidentRepository) SetIncidentCache(ctx context.Context, incident *models.Incident) error {
	val, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("failed to marshal incident for cache: %w", err)
	}
	if err := r.redisClient.Set(ctx, cacheKey(incident.ID), val, r.cacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to set incident in cache: %w", err)
	}
	return nil
}

// InvalidateIncidentCache удаляет инцидент из Redis кэша
func (r *IncidentRepository) InvalidateIncidentCache(ctx context.Context, id uuid.UUID) error {
	if err := r.redisClient.Del(ctx, cacheKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate incident cache: %w", err)
	}
	return nil
}

// FlushIncidentCache удаляет все закешированные инциденты после очистки доски
func (r *IncidentRepository) FlushIncidentCache(ctx context.Context) error {
	iter := r.redisClient.Scan(ctx, 0, cacheKeyPrefix+"*", 100).Iterator()
	keys := make([]string, 0)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan incident cache: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.redisClient.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to flush incident cache: %w", err)
	}
	return nil
}
