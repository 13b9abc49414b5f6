package classifier

import (
	"regexp"
	"strings"

	"github.com/shenikar/sos_dispatch_system/internal/models"
)

const facilityWords = `(?:hospital|shelter|police|fire\s+station)`

// Упоминание службы само по себе не просьба: "пожар у пожарной части" - это сообщение о ЧС.
// Маршрут ищем только по оборотам-просьбам.
var routingRequestPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(?:nearest|closest|nearby)\s+(?:[a-z]+\s+)?` + facilityWords),
	regexp.MustCompile(`\bwhere(?:'s|\s+is|\s+are|\s+can\s+i\s+find)\s+(?:the\s+|a\s+|an\s+)?(?:nearest\s+|closest\s+)?` + facilityWords),
	regexp.MustCompile(`\b(?:find|show\s+me|take\s+me\s+to|looking\s+for|any|need)\s+(?:me\s+)?(?:the\s+|a\s+|an\s+)?(?:nearest\s+|closest\s+)?` + facilityWords),
	regexp.MustCompile(`\b(?:directions|route|way)\s+to\b`),
	regexp.MustCompile(`\bdirections\s*(?:please|\?|$)`),
}

var categoryMentions = []struct {
	keyword  string
	category models.Category
}{
	{"hospital", models.CategoryHospital},
	{"shelter", models.CategoryShelter},
	{"police", models.CategoryPolice},
	{"fire station", models.CategoryFireStation},
}

// DetectRoutingRequest определяет, просит ли пользователь найти ближайшую службу,
// а не сообщает о происшествии. Если служба не названа, возвращаются категории по умолчанию.
func DetectRoutingRequest(text string) ([]models.Category, bool) {
	input := strings.ToLower(strings.TrimSpace(text))
	if !matchesAny(input, routingRequestPatterns) {
		return nil, false
	}

	var categories []models.Category
	for _, m := range categoryMentions {
		if strings.Contains(input, m.keyword) {
			categories = append(categories, m.category)
		}
	}
	if len(categories) == 0 {
		categories = append(categories, models.DefaultCategories...)
	}
	return categories, true
}

func matchesAny(input string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(input) {
			return true
		}
	}
	return false
}
