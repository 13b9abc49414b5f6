// Package dispatch принимает фразу репортера и решает, что с ней делать:
// создать происшествие, подсказать ближайшую службу или попросить уточнить.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shenikar/sos_dispatch_system/internal/classifier"
	"github.com/shenikar/sos_dispatch_system/internal/facility"
	"github.com/shenikar/sos_dispatch_system/internal/models"
	"github.com/shenikar/sos_dispatch_system/internal/observability"
	"github.com/sirupsen/logrus"
)

const (
	FallbackPlaceLabel   = "Default Location (GPS Unavailable)"
	CurrentLocationLabel = "Current GPS Location"

	DefaultLocateTimeout = 15 * time.Second
	DefaultSearchRadius  = 5000
)

// DefaultFallbackLocation - центр Нью-Дели
var DefaultFallbackLocation = models.LatLng{Lat: 28.6139, Lng: 77.2090}

const (
	replySearchDisabled = "I am sorry, but searching for nearby places is currently disabled."
	replySearchFailed   = "Sorry, I could not search for nearby places right now. Please try again."
	replyNeedDetails    = "I could not identify an emergency. Please describe what happened and where."
	replyNotHeard       = "I did not catch that. Please describe the emergency."
	replyAlertFailed    = "Sorry, the alert could not be sent. Please try again."
)

type Action string

const (
	ActionReported Action = "reported"
	ActionRouted   Action = "routed"
	ActionIgnored  Action = "ignored"
	ActionFailed   Action = "failed"
)

// CreateFunc создает происшествие: сервис на сервере или SyncEngine в консольном клиенте
type CreateFunc func(ctx context.Context, draft models.IncidentDraft) (*models.Incident, error)

// FacilityFinder - поиск ближайшей службы
type FacilityFinder interface {
	FindNearest(ctx context.Context, origin models.LatLng, categories []models.Category, radiusMeters int) (*facility.Result, error)
}

type Options struct {
	FallbackLocation models.LatLng
	LocateTimeout    time.Duration
	SearchRadius     int
}

// Outcome - результат обработки одной фразы
type Outcome struct {
	Action         Action            `json:"action"`
	Transcript     string            `json:"transcript"`
	Classification classifier.Result `json:"classification"`
	Incident       *models.Incident  `json:"incident,omitempty"`
	Facility       *facility.Result  `json:"facility,omitempty"`
	Location       models.LatLng     `json:"location"`
	PlaceName      string            `json:"place_name,omitempty"`
	UsedFallback   bool              `json:"used_fallback"`
	LocationError  string            `json:"location_error,omitempty"`
	Reply          string            `json:"reply"`
}

type Coordinator struct {
	create  CreateFunc
	finder  FacilityFinder
	speaker Speaker
	logger  *logrus.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock
	opts    Options
}

// NewCoordinator. finder может быть nil, тогда поиск служб выключен.
func NewCoordinator(
	create CreateFunc,
	finder FacilityFinder,
	speaker Speaker,
	logger *logrus.Logger,
	metrics *observability.Metrics,
	clock clockwork.Clock,
	opts Options,
) *Coordinator {
	if speaker == nil {
		speaker = nopSpeaker{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if opts.LocateTimeout <= 0 {
		opts.LocateTimeout = DefaultLocateTimeout
	}
	if opts.SearchRadius <= 0 {
		opts.SearchRadius = DefaultSearchRadius
	}
	if opts.FallbackLocation == (models.LatLng{}) || !opts.FallbackLocation.Valid() {
		opts.FallbackLocation = DefaultFallbackLocation
	}
	return &Coordinator{
		create:  create,
		finder:  finder,
		speaker: speaker,
		logger:  logger,
		metrics: metrics,
		clock:   clock,
		opts:    opts,
	}
}

// HandleUtterance обрабатывает итоговую расшифровку одной фразы.
// При ошибке Outcome все равно возвращается: в нем исходный текст и озвученный ответ.
func (c *Coordinator) HandleUtterance(ctx context.Context, text string, geo Geolocator) (*Outcome, error) {
	out := &Outcome{Transcript: strings.TrimSpace(text)}
	if out.Transcript == "" {
		c.reply(out, ActionIgnored, replyNotHeard)
		return out, nil
	}

	result := classifier.Classify(out.Transcript)
	out.Classification = result
	c.metrics.Classifications.WithLabelValues(string(result.Type)).Inc()

	log := c.logger.WithFields(logrus.Fields{
		"service":  "dispatch",
		"method":   "HandleUtterance",
		"type":     result.Type,
		"priority": result.Priority,
	})

	if categories, ok := classifier.DetectRoutingRequest(out.Transcript); ok {
		return c.route(ctx, log, out, categories, geo)
	}

	if !needsIncident(result) {
		log.Info("Utterance does not describe an emergency, nothing created")
		c.reply(out, ActionIgnored, replyNeedDetails)
		return out, nil
	}

	c.locate(ctx, log, out, geo)
	switch {
	case result.HasLocationEstimate():
		out.PlaceName = result.LocationEstimate
	case out.UsedFallback:
		out.PlaceName = FallbackPlaceLabel
	default:
		out.PlaceName = CurrentLocationLabel
	}

	location := out.Location
	incident, err := c.create(ctx, models.IncidentDraft{
		Type:           result.Type,
		Priority:       result.Priority,
		Description:    result.Description,
		PeopleAffected: result.PeopleAffected,
		Location:       &location,
		PlaceName:      out.PlaceName,
	})
	if err != nil {
		log.WithError(err).Error("Failed to create incident from utterance")
		c.reply(out, ActionFailed, replyAlertFailed)
		return out, fmt.Errorf("dispatch: create incident: %w", err)
	}

	out.Incident = incident
	log.WithField("incident_id", incident.ID).Info("Incident reported from utterance")
	c.reply(out, ActionReported, fmt.Sprintf("Alert Sent! Reported %s at %s. Emergency teams notified.", incident.Type, out.PlaceName))
	return out, nil
}

// needsIncident: серьезный приоритет или распознанный тип
func needsIncident(r classifier.Result) bool {
	return r.Priority == models.PriorityCritical ||
		r.Priority == models.PriorityHigh ||
		r.Type != models.TypeOther
}

func (c *Coordinator) route(ctx context.Context, log *logrus.Entry, out *Outcome, categories []models.Category, geo Geolocator) (*Outcome, error) {
	if c.finder == nil {
		c.reply(out, ActionRouted, replySearchDisabled)
		return out, nil
	}

	c.locate(ctx, log, out, geo)

	res, err := c.finder.FindNearest(ctx, out.Location, categories, c.opts.SearchRadius)
	if err != nil {
		log.WithError(err).Warn("Nearest facility search failed")
		c.reply(out, ActionFailed, replySearchFailed)
		return out, fmt.Errorf("dispatch: find nearest facility: %w", err)
	}
	out.Facility = res

	if res.Nearest == nil {
		c.reply(out, ActionRouted, fmt.Sprintf("I could not find a %s within %s of you.",
			categoryList(categories), facility.FormatDistance(float64(c.opts.SearchRadius))))
		return out, nil
	}

	n := res.Nearest
	msg := fmt.Sprintf("The nearest %s is %s, %s away", categoryLabel(n.Category), n.Name, n.DistanceText)
	if res.Route != nil && res.Route.DurationText != "" {
		msg += fmt.Sprintf(", about %s by car", res.Route.DurationText)
	}
	c.reply(out, ActionRouted, msg+".")
	return out, nil
}

// locate определяет точку с ограничением по времени. Любая ошибка - резервная точка.
func (c *Coordinator) locate(ctx context.Context, log *logrus.Entry, out *Outcome, geo Geolocator) {
	pos, err := c.currentPosition(ctx, geo)
	if err != nil {
		log.WithError(err).Warn("Geolocation failed, using fallback location")
		c.metrics.GeolocationFallbacks.WithLabelValues(fallbackReason(err)).Inc()
		out.Location = c.opts.FallbackLocation
		out.UsedFallback = true
		out.LocationError = err.Error()
		return
	}
	out.Location = pos.Location
}

func (c *Coordinator) currentPosition(ctx context.Context, geo Geolocator) (Position, error) {
	if geo == nil {
		return Position{}, ErrLocationUnavailable
	}

	requestedAt := c.clock.Now()
	locateCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type located struct {
		pos Position
		err error
	}
	done := make(chan located, 1)
	go func() {
		pos, err := geo.CurrentPosition(locateCtx)
		done <- located{pos: pos, err: err}
	}()

	var res located
	select {
	case res = <-done:
	case <-c.clock.After(c.opts.LocateTimeout):
		return Position{}, ErrLocationTimeout
	case <-ctx.Done():
		return Position{}, classifyLocationError(ctx.Err())
	}

	if res.err != nil {
		return Position{}, classifyLocationError(res.err)
	}
	if !res.pos.Location.Valid() {
		return Position{}, ErrLocationUnavailable
	}
	// Кешированные позиции не принимаются: точка должна быть получена после запроса
	if !res.pos.AcquiredAt.IsZero() && res.pos.AcquiredAt.Before(requestedAt) {
		return Position{}, errors.Join(ErrLocationUnavailable, errors.New("cached position rejected"))
	}
	return res.pos, nil
}

func (c *Coordinator) reply(out *Outcome, action Action, text string) {
	out.Action = action
	out.Reply = text
	c.metrics.DispatchReplies.WithLabelValues(string(action)).Inc()
	c.speaker.Speak(text)
}

func categoryLabel(c models.Category) string {
	switch c {
	case models.CategoryFireStation:
		return "fire station"
	case models.CategoryPolice:
		return "police station"
	default:
		return string(c)
	}
}

func categoryList(categories []models.Category) string {
	labels := make([]string, 0, len(categories))
	for _, c := range categories {
		labels = append(labels, categoryLabel(c))
	}
	if len(labels) == 1 {
		return labels[0]
	}
	return strings.Join(labels[:len(labels)-1], ", ") + " or " + labels[len(labels)-1]
}
