package models

// Category - категория экстренной службы для поиска рядом
type Category string

const (
	CategoryHospital    Category = "hospital"
	CategoryPolice      Category = "police"
	CategoryFireStation Category = "fire_station"
	CategoryShelter     Category = "shelter"
)

// DefaultCategories ищутся, когда пользователь не назвал конкретную службу
var DefaultCategories = []Category{CategoryHospital, CategoryPolice, CategoryFireStation}

func (c Category) Valid() bool {
	switch c {
	case CategoryHospital, CategoryPolice, CategoryFireStation, CategoryShelter:
		return true
	}
	return false
}

// FacilityMatch - найденная служба, живет только в рамках одного запроса
type FacilityMatch struct {
	PlaceID        string   `json:"place_id"`
	Name           string   `json:"name"`
	Category       Category `json:"category"`
	Location       LatLng   `json:"location"`
	DistanceMeters float64  `json:"distance_meters"`
	DistanceText   string   `json:"distance_text"`
	DurationText   string   `json:"duration_text,omitempty"`
}
