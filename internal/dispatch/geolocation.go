package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shenikar/sos_dispatch_system/internal/models"
)

var (
	ErrLocationPermissionDenied = errors.New("location permission denied")
	ErrLocationUnavailable      = errors.New("location unavailable")
	ErrLocationTimeout          = errors.New("location request timed out")
)

// Position - текущее положение репортера
type Position struct {
	Location       models.LatLng
	AccuracyMeters float64
	AcquiredAt     time.Time
}

// Geolocator - источник текущего положения (GPS устройства, координаты из запроса)
type Geolocator interface {
	CurrentPosition(ctx context.Context) (Position, error)
}

// GeolocatorFunc позволяет использовать функцию как Geolocator
type GeolocatorFunc func(ctx context.Context) (Position, error)

func (f GeolocatorFunc) CurrentPosition(ctx context.Context) (Position, error) {
	return f(ctx)
}

// FixedPosition отдает заранее известную точку, например координаты из запроса клиента
func FixedPosition(loc models.LatLng, accuracyMeters float64, clock clockwork.Clock) Geolocator {
	return GeolocatorFunc(func(ctx context.Context) (Position, error) {
		if err := ctx.Err(); err != nil {
			return Position{}, err
		}
		if !loc.Valid() {
			return Position{}, ErrLocationUnavailable
		}
		return Position{Location: loc, AccuracyMeters: accuracyMeters, AcquiredAt: clock.Now()}, nil
	})
}

// classifyLocationError сводит любую ошибку геолокации к одной из трех
func classifyLocationError(err error) error {
	switch {
	case errors.Is(err, ErrLocationPermissionDenied),
		errors.Is(err, ErrLocationUnavailable),
		errors.Is(err, ErrLocationTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return ErrLocationTimeout
	default:
		return errors.Join(ErrLocationUnavailable, err)
	}
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, ErrLocationPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrLocationTimeout):
		return "timeout"
	default:
		return "unavailable"
	}
}
