package v1

import (
	"github.com/shenikar/sos_dispatch_system/internal/dispatch"
	"github.com/shenikar/sos_dispatch_system/internal/models"
)

// DTOToIncidentDraft преобразует DTO создания в черновик доменной модели
func DTOToIncidentDraft(dto CreateIncidentRequest) models.IncidentDraft {
	draft := models.IncidentDraft{
		Type:           models.IncidentType(dto.Type),
		Priority:       models.Priority(dto.Priority),
		Description:    dto.Description,
		PeopleAffected: dto.PeopleAffected,
		PlaceName:      dto.PlaceName,
	}
	if dto.Location != nil {
		draft.Location = &models.LatLng{Lat: dto.Location.Lat, Lng: dto.Location.Lng}
	}
	return draft
}

// ModelToIncidentResponse преобразует доменную модель в DTO для ответа
func ModelToIncidentResponse(model *models.Incident) *IncidentResponse {
	return &IncidentResponse{
		ID:             model.ID,
		Type:           string(model.Type),
		Priority:       string(model.Priority),
		Description:    model.Description,
		PeopleAffected: model.PeopleAffected,
		Location:       LocationDTO{Lat: model.Location.Lat, Lng: model.Location.Lng},
		PlaceName:      model.PlaceName,
		Status:         string(model.Status),
		Timestamp:      model.Timestamp,
		UpdatedAt:      model.UpdatedAt,
	}
}

// ModelsToIncidentResponses преобразует слайс моделей в слайс DTO
func ModelsToIncidentResponses(models []*models.Incident) []*IncidentResponse {
	responses := make([]*IncidentResponse, len(models))
	for i, model := range models {
		responses[i] = ModelToIncidentResponse(model)
	}
	return responses
}

// OutcomeToReportResponse собирает ответ на сообщение репортера
func OutcomeToReportResponse(out *dispatch.Outcome) *ReportResponse {
	resp := &ReportResponse{
		Action:     string(out.Action),
		Reply:      out.Reply,
		Transcript: out.Transcript,
		Classification: ClassificationResponse{
			Type:             string(out.Classification.Type),
			Priority:         string(out.Classification.Priority),
			PeopleAffected:   out.Classification.PeopleAffected,
			LocationEstimate: out.Classification.LocationEstimate,
		},
		Facility:     out.Facility,
		Location:     LocationDTO{Lat: out.Location.Lat, Lng: out.Location.Lng},
		UsedFallback: out.UsedFallback,
	}
	if out.Incident != nil {
		resp.Incident = ModelToIncidentResponse(out.Incident)
	}
	return resp
}
