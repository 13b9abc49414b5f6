package facility

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shenikar/sos_dispatch_system/internal/models"
	"github.com/shenikar/sos_dispatch_system/internal/observability"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Place - кандидат из поиска поблизости
type Place struct {
	PlaceID  string
	Name     string
	Category models.Category
	Location models.LatLng
}

// RouteLeg - участок маршрута, как его вернул провайдер
type RouteLeg struct {
	DistanceText   string
	DurationText   string
	DistanceMeters int
	Duration       time.Duration
}

// RouteSummary - дистанция и время первого участка маршрута до ближайшей службы
type RouteSummary struct {
	DistanceText string `json:"distance_text"`
	DurationText string `json:"duration_text"`
}

// Result - итог одного поиска
type Result struct {
	Matches []models.FacilityMatch `json:"matches"`
	Nearest *models.FacilityMatch  `json:"nearest"`
	Route   *RouteSummary          `json:"route"`
}

func (r *Result) clone() *Result {
	if r == nil {
		return nil
	}
	out := &Result{Matches: append([]models.FacilityMatch(nil), r.Matches...)}
	if r.Nearest != nil {
		n := *r.Nearest
		out.Nearest = &n
	}
	if r.Route != nil {
		rt := *r.Route
		out.Route = &rt
	}
	return out
}

// PlacesSearcher ищет службы одной категории в радиусе от точки
type PlacesSearcher interface {
	NearbySearch(ctx context.Context, origin models.LatLng, category models.Category, radiusMeters int) ([]Place, error)
}

// Router строит маршрут между двумя точками
type Router interface {
	Route(ctx context.Context, origin, destination models.LatLng) ([]RouteLeg, error)
}

// Resolver находит ближайшую службу по набору категорий
type Resolver struct {
	places  PlacesSearcher
	router  Router
	logger  *logrus.Logger
	metrics *observability.Metrics
	timeout time.Duration
	group   singleflight.Group
}

// NewResolver. router может быть nil, тогда маршрут не строится.
func NewResolver(places PlacesSearcher, router Router, logger *logrus.Logger, metrics *observability.Metrics, timeout time.Duration) *Resolver {
	return &Resolver{
		places:  places,
		router:  router,
		logger:  logger,
		metrics: metrics,
		timeout: timeout,
	}
}

// FindNearest ищет по всем категориям параллельно и выбирает ближайшего кандидата.
// Одинаковые запросы, пришедшие пока первый еще выполняется, получают его результат.
func (r *Resolver) FindNearest(ctx context.Context, origin models.LatLng, categories []models.Category, radiusMeters int) (*Result, error) {
	if !origin.Valid() {
		return nil, fmt.Errorf("facility: %w: origin %s is out of range", models.ErrValidation, origin)
	}
	if len(categories) == 0 {
		return nil, fmt.Errorf("facility: %w: at least one category is required", models.ErrValidation)
	}
	for _, c := range categories {
		if !c.Valid() {
			return nil, fmt.Errorf("facility: %w: unknown category %q", models.ErrValidation, c)
		}
	}
	if radiusMeters <= 0 {
		return nil, fmt.Errorf("facility: %w: radius must be positive", models.ErrValidation)
	}

	key := searchKey(origin, categories, radiusMeters)
	ch := r.group.DoChan(key, func() (any, error) {
		// Поиск общий для всех ожидающих, отмена одного из них не должна его прерывать
		searchCtx := context.WithoutCancel(ctx)
		if r.timeout > 0 {
			var cancel context.CancelFunc
			searchCtx, cancel = context.WithTimeout(searchCtx, r.timeout)
			defer cancel()
		}
		return r.resolve(searchCtx, origin, categories, radiusMeters)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			r.metrics.FacilitySearches.WithLabelValues("shared").Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Result).clone(), nil
	}
}

func (r *Resolver) resolve(ctx context.Context, origin models.LatLng, categories []models.Category, radiusMeters int) (*Result, error) {
	start := time.Now()
	defer func() {
		r.metrics.FacilitySearchDuration.Observe(time.Since(start).Seconds())
	}()

	log := r.logger.WithFields(logrus.Fields{
		"service":    "facility",
		"method":     "FindNearest",
		"origin":     origin.String(),
		"categories": categories,
		"radius":     radiusMeters,
	})

	found := make([][]Place, len(categories))
	errs := make([]error, len(categories))

	var g errgroup.Group
	for i, category := range categories {
		g.Go(func() error {
			places, err := r.places.NearbySearch(ctx, origin, category, radiusMeters)
			if err != nil {
				// Ошибка одной категории не роняет весь поиск
				log.WithError(err).WithField("category", category).Warn("Nearby search failed for category")
				r.metrics.FacilityCategoryFailure.WithLabelValues(string(category)).Inc()
				errs[i] = fmt.Errorf("%s: %w", category, err)
				return nil
			}
			found[i] = places
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed == len(categories) {
		r.metrics.FacilitySearches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("facility: %w: every nearby search failed: %v", models.ErrIO, errors.Join(errs...))
	}

	matches := dedupe(origin, categories, found)
	result := &Result{Matches: matches}
	if len(matches) == 0 {
		log.Info("No facilities found nearby")
		r.metrics.FacilitySearches.WithLabelValues("empty").Inc()
		return result, nil
	}

	idx := nearestIndex(matches)
	result.Route = r.route(ctx, log, origin, &matches[idx])
	// Nearest - копия, тексты маршрута совпадают с Matches[idx]
	nearest := matches[idx]
	result.Nearest = &nearest

	log.WithFields(logrus.Fields{
		"nearest":    nearest.Name,
		"candidates": len(matches),
		"distance_m": int(nearest.DistanceMeters),
	}).Info("Nearest facility resolved")
	r.metrics.FacilitySearches.WithLabelValues("found").Inc()
	return result, nil
}

// route не ломает поиск: при ошибке маршрута возвращает nil
func (r *Resolver) route(ctx context.Context, log *logrus.Entry, origin models.LatLng, nearest *models.FacilityMatch) *RouteSummary {
	if r.router == nil {
		return nil
	}
	legs, err := r.router.Route(ctx, origin, nearest.Location)
	if err != nil {
		log.WithError(err).Warn("Route lookup to nearest facility failed")
		return nil
	}
	if len(legs) == 0 {
		log.Warn("Route lookup returned no legs")
		return nil
	}
	summary := &RouteSummary{
		DistanceText: legs[0].DistanceText,
		DurationText: legs[0].DurationText,
	}
	nearest.DistanceText = summary.DistanceText
	nearest.DurationText = summary.DurationText
	return summary
}

// dedupe объединяет выдачу категорий, первое вхождение place id побеждает
func dedupe(origin models.LatLng, categories []models.Category, found [][]Place) []models.FacilityMatch {
	seen := make(map[string]struct{})
	matches := make([]models.FacilityMatch, 0)
	for i, places := range found {
		for _, p := range places {
			if _, ok := seen[p.PlaceID]; ok {
				continue
			}
			seen[p.PlaceID] = struct{}{}

			category := p.Category
			if category == "" {
				category = categories[i]
			}
			meters := Distance(origin, p.Location)
			matches = append(matches, models.FacilityMatch{
				PlaceID:        p.PlaceID,
				Name:           p.Name,
				Category:       category,
				Location:       p.Location,
				DistanceMeters: meters,
				DistanceText:   FormatDistance(meters),
			})
		}
	}
	return matches
}

// nearestIndex - минимум по расстоянию, при равенстве первый
func nearestIndex(matches []models.FacilityMatch) int {
	best := 0
	for i := 1; i < len(matches); i++ {
		if matches[i].DistanceMeters < matches[best].DistanceMeters {
			best = i
		}
	}
	return best
}

func searchKey(origin models.LatLng, categories []models.Category, radiusMeters int) string {
	names := make([]string, 0, len(categories))
	for _, c := range categories {
		names = append(names, string(c))
	}
	sort.Strings(names)

	raw := fmt.Sprintf("%s|%s|%d", origin.String(), strings.Join(names, ","), radiusMeters)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
