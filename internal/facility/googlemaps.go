package facility

import (
	"context"
	"fmt"

	"github.com/shenikar/sos_dispatch_system/internal/models"
	"googlemaps.github.io/maps"
)

// GoogleMaps - PlacesSearcher и Router поверх Google Maps Platform
type GoogleMaps struct {
	client *maps.Client
}

func NewGoogleMaps(apiKey string) (*GoogleMaps, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("maps API key is required")
	}
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleMaps{client: client}, nil
}

// NearbySearch. Для убежищ у Places нет типа, ищем по ключевому слову.
func (g *GoogleMaps) NearbySearch(ctx context.Context, origin models.LatLng, category models.Category, radiusMeters int) ([]Place, error) {
	req := &maps.NearbySearchRequest{
		Location: &maps.LatLng{Lat: origin.Lat, Lng: origin.Lng},
		Radius:   uint(radiusMeters),
	}
	switch category {
	case models.CategoryHospital:
		req.Type = maps.PlaceTypeHospital
	case models.CategoryPolice:
		req.Type = maps.PlaceTypePolice
	case models.CategoryFireStation:
		req.Type = maps.PlaceTypeFireStation
	case models.CategoryShelter:
		req.Keyword = "shelter"
	default:
		return nil, fmt.Errorf("%w: unsupported category %q", models.ErrValidation, category)
	}

	resp, err := g.client.NearbySearch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("nearby search %s: %w", category, err)
	}

	places := make([]Place, 0, len(resp.Results))
	for _, r := range resp.Results {
		places = append(places, Place{
			PlaceID:  r.PlaceID,
			Name:     r.Name,
			Category: category,
			Location: models.LatLng{Lat: r.Geometry.Location.Lat, Lng: r.Geometry.Location.Lng},
		})
	}
	return places, nil
}

// Route строит автомобильный маршрут и возвращает участки первого варианта
func (g *GoogleMaps) Route(ctx context.Context, origin, destination models.LatLng) ([]RouteLeg, error) {
	routes, _, err := g.client.Directions(ctx, &maps.DirectionsRequest{
		Origin:      origin.String(),
		Destination: destination.String(),
		Mode:        maps.TravelModeDriving,
	})
	if err != nil {
		return nil, fmt.Errorf("directions: %w", err)
	}
	if len(routes) == 0 {
		return nil, nil
	}

	legs := make([]RouteLeg, 0, len(routes[0].Legs))
	for _, leg := range routes[0].Legs {
		legs = append(legs, RouteLeg{
			DistanceText:   leg.Distance.HumanReadable,
			DurationText:   FormatDuration(leg.Duration),
			DistanceMeters: leg.Distance.Meters,
			Duration:       leg.Duration,
		})
	}
	return legs, nil
}
