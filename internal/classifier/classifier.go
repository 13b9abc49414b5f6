// Package classifier превращает свободный текст сообщения о ЧС в структурированный черновик.
// Классификация лексическая: порядок проверок важен и зафиксирован.
package classifier

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shenikar/sos_dispatch_system/internal/models"
)

// Result - результат классификации одного сообщения. Не сохраняется.
type Result struct {
	Type           models.IncidentType `json:"type"`
	Priority       models.Priority     `json:"priority"`
	PeopleAffected int                 `json:"people_affected"`
	Description    string              `json:"description"`
	// LocationEstimate пустой, если в тексте нет ориентира: тогда берется текущая позиция
	LocationEstimate string `json:"location_estimate,omitempty"`
}

// HasLocationEstimate сообщает, назвал ли пользователь место словами
func (r Result) HasLocationEstimate() bool {
	return r.LocationEstimate != ""
}

type typeRule struct {
	incidentType models.IncidentType
	keywords     []string
}

var (
	criticalKeywords      = []string{"critical", "severe", "dying", "trapped"}
	criticalKeywordsFinal = []string{"critical", "severe", "dying", "trapped", "help", "sos"}
	highKeywords          = []string{"urgent", "fast", "immediately"}

	// Первая совпавшая группа побеждает
	typeRules = []typeRule{
		{models.TypeFire, []string{"fire", "burn", "smoke"}},
		{models.TypeFlood, []string{"flood", "water", "drowning"}},
		{models.TypeEarthquake, []string{"quake", "shaking"}},
		{models.TypeMedical, []string{"injury", "blood", "hurt", "ambulance"}},
		{models.TypeCyclone, []string{"cyclone", "wind", "storm"}},
		{models.TypeGeneralSOS, []string{"help", "sos", "emergency"}},
	}

	peoplePattern   = regexp.MustCompile(`(\d+)\s+(people|persons|victims|casualties)`)
	locationPattern = regexp.MustCompile(`(?i)(?:at|near|in)\s+([a-z0-9\s]+?)(?:$|\.|,|\s+(?:is|has|with|needs))`)
	articlePattern  = regexp.MustCompile(`(?i)^(the|a|an)\s+`)
)

// Classify разбирает сообщение. Функция чистая и никогда не падает:
// в худшем случае Other / LOW / 0.
func Classify(text string) Result {
	input := strings.ToLower(text)
	result := Result{
		Type:        models.TypeOther,
		Priority:    models.PriorityLow,
		Description: text,
	}

	// Первый проход по приоритету
	if containsAny(input, criticalKeywords) {
		result.Priority = models.PriorityCritical
	} else if containsAny(input, highKeywords) {
		result.Priority = models.PriorityHigh
	}

	for _, rule := range typeRules {
		if containsAny(input, rule.keywords) {
			result.Type = rule.incidentType
			break
		}
	}

	// Второй проход перекрывает первый, help и sos тоже считаются критичными
	if containsAny(input, criticalKeywordsFinal) {
		result.Priority = models.PriorityCritical
	} else if containsAny(input, highKeywords) {
		result.Priority = models.PriorityHigh
	}

	if m := peoplePattern.FindStringSubmatch(input); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			result.PeopleAffected = n
		}
	}

	if result.PeopleAffected > 0 && result.Priority == models.PriorityLow {
		result.Priority = models.PriorityHigh
	}

	result.LocationEstimate = estimateLocation(text)
	return result
}

func estimateLocation(text string) string {
	m := locationPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	candidate := strings.TrimSpace(m[1])
	if len(candidate) <= 3 {
		return ""
	}
	return articlePattern.ReplaceAllString(candidate, "")
}

func containsAny(input string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(input, kw) {
			return true
		}
	}
	return false
}
