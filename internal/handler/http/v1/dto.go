package v1

import (
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/sos_dispatch_system/internal/facility"
)

// LocationDTO - точка на карте
// @Description Географическая точка
type LocationDTO struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lng float64 `json:"lng" validate:"longitude"`
}

// CreateIncidentRequest DTO для создания инцидента
// @Description DTO для создания инцидента. Пустой type - Other, пустой priority - MEDIUM.
type CreateIncidentRequest struct {
	Type           string       `json:"type,omitempty" validate:"max=32"`
	Priority       string       `json:"priority,omitempty" validate:"omitempty,oneof=CRITICAL HIGH MEDIUM LOW"`
	Description    string       `json:"description" validate:"required,max=2000"`
	PeopleAffected int          `json:"people_affected" validate:"gte=0"`
	Location       *LocationDTO `json:"location" validate:"required"`
	PlaceName      string       `json:"place_name,omitempty" validate:"max=255"`
}

// UpdateStatusRequest DTO для смены статуса
// @Description force отключает проверку допустимых переходов (административная правка)
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
	Force  bool   `json:"force,omitempty"`
}

// IncidentResponse DTO для ответа с информацией об инциденте
// @Description DTO для ответа с информацией об инциденте
type IncidentResponse struct {
	ID             uuid.UUID   `json:"id"`
	Type           string      `json:"type"`
	Priority       string      `json:"priority"`
	Description    string      `json:"description"`
	PeopleAffected int         `json:"people_affected"`
	Location       LocationDTO `json:"location"`
	PlaceName      string      `json:"place_name,omitempty"`
	Status         string      `json:"status"`
	Timestamp      time.Time   `json:"timestamp"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// ReportRequest - расшифрованная фраза репортера и, если есть, его координаты
// @Description Сообщение о ЧС в свободной форме
type ReportRequest struct {
	Text           string   `json:"text" validate:"required,max=2000"`
	Latitude       *float64 `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude      *float64 `json:"longitude,omitempty" validate:"omitempty,longitude"`
	AccuracyMeters float64  `json:"accuracy_meters,omitempty" validate:"gte=0"`
}

// ClassificationResponse - результат разбора текста
type ClassificationResponse struct {
	Type             string `json:"type"`
	Priority         string `json:"priority"`
	PeopleAffected   int    `json:"people_affected"`
	LocationEstimate string `json:"location_estimate,omitempty"`
}

// ReportResponse - что сделано с сообщением и что ответить репортеру
// @Description Ответ на сообщение репортера
type ReportResponse struct {
	Action         string                 `json:"action"`
	Reply          string                 `json:"reply"`
	Transcript     string                 `json:"transcript"`
	Classification ClassificationResponse `json:"classification"`
	Incident       *IncidentResponse      `json:"incident,omitempty"`
	Facility       *facility.Result       `json:"facility,omitempty"`
	Location       LocationDTO            `json:"location"`
	UsedFallback   bool                   `json:"used_fallback"`
}

// LoginRequest DTO для входа диспетчера
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse - выданная сессия
type LoginResponse struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ClearResponse - итог очистки доски
type ClearResponse struct {
	Message string `json:"message"`
	Deleted int64  `json:"deleted"`
}
