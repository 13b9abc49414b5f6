package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IncidentType - тип происшествия
type IncidentType string

const (
	TypeFlood      IncidentType = "Flood"
	TypeFire       IncidentType = "Fire"
	TypeMedical    IncidentType = "Medical"
	TypeEarthquake IncidentType = "Earthquake"
	TypeCyclone    IncidentType = "Cyclone"
	TypeGeneralSOS IncidentType = "General SOS"
	TypeOther      IncidentType = "Other"
)

// Valid сообщает, входит ли тип в закрытый список
func (t IncidentType) Valid() bool {
	switch t {
	case TypeFlood, TypeFire, TypeMedical, TypeEarthquake, TypeCyclone, TypeGeneralSOS, TypeOther:
		return true
	}
	return false
}

// Priority - срочность происшествия
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// Rank возвращает вес приоритета: чем больше, тем срочнее. Для неизвестного значения 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// Status - состояние обработки происшествия диспетчером
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusDispatched Status = "DISPATCHED"
	StatusResolved   Status = "RESOLVED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusDispatched, StatusResolved:
		return true
	}
	return false
}

// ParseStatus разбирает статус без учета регистра
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, raw)
	}
	return s, nil
}

// CanTransition проверяет допустимость перехода статуса.
// OPEN -> DISPATCHED -> RESOLVED, OPEN -> RESOLVED. RESOLVED терминальный.
// Повторная установка того же статуса допустима и ничего не меняет.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	switch from {
	case StatusOpen:
		return to == StatusDispatched || to == StatusResolved
	case StatusDispatched:
		return to == StatusResolved
	}
	return false
}

// LatLng - географическая точка
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid проверяет диапазоны широты и долготы
func (l LatLng) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

func (l LatLng) String() string {
	return fmt.Sprintf("%.6f,%.6f", l.Lat, l.Lng)
}

type Incident struct {
	ID             uuid.UUID    `json:"id"`
	Type           IncidentType `json:"type"`
	Priority       Priority     `json:"priority"`
	Description    string       `json:"description"`
	PeopleAffected int          `json:"people_affected"`
	Location       LatLng       `json:"location"`
	PlaceName      string       `json:"place_name,omitempty"`
	Status         Status       `json:"status"`
	Timestamp      time.Time    `json:"timestamp"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Clone возвращает независимую копию
func (i *Incident) Clone() *Incident {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// IncidentDraft - данные нового происшествия до присвоения id, времени и статуса
type IncidentDraft struct {
	Type           IncidentType `json:"type"`
	Priority       Priority     `json:"priority"`
	Description    string       `json:"description"`
	PeopleAffected int          `json:"people_affected"`
	Location       *LatLng      `json:"location"`
	PlaceName      string       `json:"place_name,omitempty"`
}

// Normalize подставляет значения по умолчанию: тип Other и приоритет MEDIUM
func (d *IncidentDraft) Normalize() {
	d.Description = strings.TrimSpace(d.Description)
	d.PlaceName = strings.TrimSpace(d.PlaceName)
	if d.Type == "" {
		d.Type = TypeOther
	}
	if d.Priority == "" {
		d.Priority = PriorityMedium
	}
}

// Validate возвращает ErrValidation, если черновик нельзя сохранить
func (d IncidentDraft) Validate() error {
	if d.Location == nil {
		return fmt.Errorf("%w: location is required", ErrValidation)
	}
	if !d.Location.Valid() {
		return fmt.Errorf("%w: location %s is out of range", ErrValidation, d.Location)
	}
	if strings.TrimSpace(d.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrValidation)
	}
	if d.PeopleAffected < 0 {
		return fmt.Errorf("%w: people affected must not be negative", ErrValidation)
	}
	if d.Type != "" && !d.Type.Valid() {
		return fmt.Errorf("%w: unknown incident type %q", ErrValidation, d.Type)
	}
	if d.Priority != "" && !d.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, d.Priority)
	}
	return nil
}

// IncidentFilter - параметры выборки списка. Limit 0 означает без ограничения.
type IncidentFilter struct {
	Statuses []Status
	Limit    int
	Offset   int
}
