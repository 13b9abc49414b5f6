package v1

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shenikar/sos_dispatch_system/internal/config"
	"github.com/shenikar/sos_dispatch_system/internal/dispatch"
	"github.com/shenikar/sos_dispatch_system/internal/models"
	"github.com/shenikar/sos_dispatch_system/internal/service"
	"github.com/shenikar/sos_dispatch_system/internal/session"
	"github.com/sirupsen/logrus"
)

// ReportHandler - разбор сообщения репортера и создание происшествия
type ReportHandler interface {
	HandleUtterance(ctx context.Context, text string, geo dispatch.Geolocator) (*dispatch.Outcome, error)
}

type Handler struct {
	incidentService service.IncidentService
	reports         ReportHandler
	facilities      dispatch.FacilityFinder
	sessions        SessionManager
	logger          *logrus.Logger
	validate        *validator.Validate
	cfg             *config.Config
	clock           clockwork.Clock
}

// NewHandler. facilities может быть nil, тогда поиск служб отвечает 503.
func NewHandler(
	incidentService service.IncidentService,
	reports ReportHandler,
	facilities dispatch.FacilityFinder,
	sessions SessionManager,
	logger *logrus.Logger,
	cfg *config.Config,
	clock clockwork.Clock,
) *Handler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Handler{
		incidentService: incidentService,
		reports:         reports,
		facilities:      facilities,
		sessions:        sessions,
		logger:          logger,
		validate:        validator.New(),
		cfg:             cfg,
		clock:           clock,
	}
}

// respondServiceError переводит ошибки доски в HTTP-статусы
func respondServiceError(c *gin.Context, log *logrus.Entry, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		log.WithError(err).Warn("Rejected by validation")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrNotFound):
		log.WithError(err).Warn("Incident not found")
		c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
	case errors.Is(err, models.ErrInvalidTransition):
		log.WithError(err).Warn("Rejected status transition")
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.WithError(err).Error("Service call failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// @Summary Create a new incident
// @Description Create a new incident on the board. Empty type defaults to Other, empty priority to MEDIUM.
// @Tags Incidents
// @Accept json
// @Produce json
// @Param incident body CreateIncidentRequest true "Incident creation request"
// @Success 201 {object} IncidentResponse
// @Failure 400 {object} map[string]string "Invalid request body or validation error"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /incidents [post]
func (h *Handler) createIncident(c *gin.Context) {
	var input CreateIncidentRequest
	log := h.logger.WithField("method", "createIncident")

	if err := c.ShouldBindJSON(&input); err != nil {
		log.WithError(err).Warn("Failed to bind JSON")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.validate.Struct(input); err != nil {
		log.WithError(err).Warn("Validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	incident, err := h.incidentService.CreateIncident(c.Request.Context(), DTOToIncidentDraft(input))
	if err != nil {
		respondServiceError(c, log, err)
		return
	}
	c.JSON(http.StatusCreated, ModelToIncidentResponse(incident))
}

// @Summary Get a list of incidents
// @Description Get incidents newest first, optionally filtered by status (comma separated).
// @Tags Incidents
// @Accept json
// @Produce json
// @Param status query string false "Statuses, e.g. OPEN,DISPATCHED"
// @Param limit query int false "Max number of items, 0 - all" default(0)
// @Param offset query int false "Number of items to skip" default(0)
// @Success 200 {array} IncidentResponse
// @Failure 400 {object} map[string]string "Invalid query"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /incidents [get]
func (h *Handler) listIncidents(c *gin.Context) {
	log := h.logger.WithField("method", "listIncidents")

	filter := models.IncidentFilter{}
	for _, raw := range splitList(c.Query("status")) {
		status, err := models.ParseStatus(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	var err error
	if filter.Limit, err = strconv.Atoi(c.DefaultQuery("limit", "0")); err != nil || filter.Limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	if filter.Offset, err = strconv.Atoi(c.DefaultQuery("offset", "0")); err != nil || filter.Offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
		return
	}

	incidents, err := h.incidentService.ListIncidents(c.Request.Context(), filter)
	if err != nil {
		respondServiceError(c, log, err)
		return
	}

	c.JSON(http.StatusOK, ModelsToIncidentResponses(incidents))
}

// @Summary Open incidents near a point
// @Description Incidents that are not resolved within radius meters of the point, nearest first.
// @Tags Incidents
// @Produce json
// @Param lat query number true "Latitude"
// @Param lng query number true "Longitude"
// @Param radius query int false "Radius in meters"
// @Success 200 {array} IncidentResponse
// @Failure 400 {object} map[string]string "Invalid coordinates"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /incidents/nearby [get]
func (h *Handler) nearbyIncidents(c *gin.Context) {
	log := h.logger.WithField("method", "nearbyIncidents")

	point, radius, ok := h.parsePointQuery(c)
	if !ok {
		return
	}

	incidents, err := h.incidentService.FindOpenNear(c.Request.Context(), point.Lat, point.Lng, radius)
	if err != nil {
		respondServiceError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelsToIncidentResponses(incidents))
}

// @Summary Get incident by ID
// @Description Get a single incident by its ID.
// @Tags Incidents
// @Accept json
// @Produce json
// @Param id path string true "Incident ID"
// @Success 200 {object} IncidentResponse
// @Failure 400 {object} map[string]string "Invalid incident ID"
// @Failure 404 {object} map[string]string "Incident not found"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /incidents/{id} [get]
func (h *Handler) getIncident(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident ID"})
		return
	}
	log := h.logger.WithField("method", "getIncident").WithField("id", id)

	incident, err := h.incidentService.GetIncident(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelToIncidentResponse(incident))
}

// @Summary Change incident status
// @Description OPEN -> DISPATCHED -> RESOLVED. force=true skips the transition check. Requires dispatcher.
// @Tags Incidents
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Incident ID"
// @Param status body UpdateStatusRequest true "New status"
// @Success 200 {object} IncidentResponse
// @Failure 400 {object} map[string]string "Invalid incident ID or request body"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Incident not found"
// @Failure 409 {object} map[string]string "Invalid status transition"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /incidents/{id} [patch]
func (h *Handler) updateIncidentStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident ID"})
		return
	}
	log := h.logger.WithField("method", "updateIncidentStatus").WithField("id", id)
	if s, ok := SessionFromContext(c); ok {
		log = log.WithField("dispatcher", s.Username)
	}

	var input UpdateStatusRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		log.WithError(err).Warn("Failed to bind JSON")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.validate.Struct(input); err != nil {
		log.WithError(err).Warn("Validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := models.ParseStatus(input.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var incident *models.Incident
	if input.Force {
		incident, err = h.incidentService.ForceStatus(c.Request.Context(), id, status)
	} else {
		incident, err = h.incidentService.UpdateStatus(c.Request.Context(), id, status)
	}
	if err != nil {
		respondServiceError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelToIncidentResponse(incident))
}

// @Summary Delete an incident
// @Description Remove an incident from the board. Requires dispatcher.
// @Tags Incidents
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Incident ID"
// @Success 200 {object} map[string]string "Incident deleted"
// @Failure 400 {object} map[string]string "Invalid incident ID"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Incident not found"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /incidents/{id} [delete]
func (h *Handler) deleteIncident(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident ID"})
		return
	}
	log := h.logger.WithField("method", "deleteIncident").WithField("id", id)

	if _, err := h.incidentService.DeleteIncident(c.Request.Context(), id); err != nil {
		respondServiceError(c, log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Incident deleted"})
}

// @Summary Clear the board
// @Description Delete every incident. Requires dispatcher.
// @Tags Incidents
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} ClearResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /incidents [delete]
func (h *Handler) clearIncidents(c *gin.Context) {
	log := h.logger.WithField("method", "clearIncidents")

	deleted, err := h.incidentService.ClearIncidents(c.Request.Context())
	if err != nil {
		respondServiceError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ClearResponse{Message: "Incidents cleared", Deleted: deleted})
}

// @Summary Submit an SOS report
// @Description Classify a free-form report and create an incident. Without coordinates the default location is used.
// @Tags Reports
// @Accept json
// @Produce json
// @Param report body ReportRequest true "Transcribed report"
// @Success 201 {object} ReportResponse "Incident created"
// @Success 200 {object} ReportResponse "No incident created"
// @Failure 400 {object} map[string]string "Invalid request body"
// @Failure 500 {object} ReportResponse "Report could not be processed"
// @Router /reports [post]
func (h *Handler) submitReport(c *gin.Context) {
	var input ReportRequest
	log := h.logger.WithField("method", "submitReport")

	if err := c.ShouldBindJSON(&input); err != nil {
		log.WithError(err).Warn("Failed to bind JSON")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.validate.Struct(input); err != nil {
		log.WithError(err).Warn("Validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var geo dispatch.Geolocator
	if input.Latitude != nil && input.Longitude != nil {
		loc := models.LatLng{Lat: *input.Latitude, Lng: *input.Longitude}
		geo = dispatch.FixedPosition(loc, input.AccuracyMeters, h.clock)
	}

	out, err := h.reports.HandleUtterance(c.Request.Context(), input.Text, geo)
	if err != nil {
		log.WithError(err).Error("Failed to handle report")
		status := http.StatusInternalServerError
		if errors.Is(err, models.ErrValidation) {
			status = http.StatusBadRequest
		}
		if out == nil {
			c.JSON(status, gin.H{"error": "internal server error"})
			return
		}
		c.JSON(status, OutcomeToReportResponse(out))
		return
	}

	status := http.StatusOK
	if out.Incident != nil {
		status = http.StatusCreated
	}
	c.JSON(status, OutcomeToReportResponse(out))
}

// @Summary Nearest emergency facility
// @Description Search hospitals, police and fire stations (or the given categories) around a point.
// @Tags Facilities
// @Produce json
// @Param lat query number true "Latitude"
// @Param lng query number true "Longitude"
// @Param categories query string false "hospital,police,fire_station,shelter"
// @Param radius query int false "Radius in meters"
// @Success 200 {object} facility.Result
// @Failure 400 {object} map[string]string "Invalid query"
// @Failure 502 {object} map[string]string "Every search failed"
// @Failure 503 {object} map[string]string "Facility search disabled"
// @Router /facilities/nearest [get]
func (h *Handler) nearestFacility(c *gin.Context) {
	log := h.logger.WithField("method", "nearestFacility")

	if h.facilities == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "facility search is disabled"})
		return
	}

	point, radius, ok := h.parsePointQuery(c)
	if !ok {
		return
	}

	categories := models.DefaultCategories
	if raw := splitList(c.Query("categories")); len(raw) > 0 {
		categories = make([]models.Category, 0, len(raw))
		for _, r := range raw {
			categories = append(categories, models.Category(strings.ToLower(r)))
		}
	}

	result, err := h.facilities.FindNearest(c.Request.Context(), point, categories, radius)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrValidation):
			log.WithError(err).Warn("Validation failed")
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, models.ErrIO):
			log.WithError(err).Error("Facility search failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": "facility search failed"})
		default:
			log.WithError(err).Error("Facility search failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

// @Summary Dispatcher login
// @Description Exchange dispatcher credentials for a session token.
// @Tags Auth
// @Accept json
// @Produce json
// @Param credentials body LoginRequest true "Dispatcher credentials"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} map[string]string "Invalid request body"
// @Failure 401 {object} map[string]string "Invalid username or password"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /auth/login [post]
func (h *Handler) login(c *gin.Context) {
	var input LoginRequest
	log := h.logger.WithField("method", "login")

	if err := c.ShouldBindJSON(&input); err != nil {
		log.WithError(err).Warn("Failed to bind JSON")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.validate.Struct(input); err != nil {
		log.WithError(err).Warn("Validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, err := h.sessions.Login(c.Request.Context(), input.Username, input.Password)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		log.WithError(err).Error("Failed to log in")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:     s.Token,
		Username:  s.Username,
		Role:      s.Role,
		ExpiresAt: s.ExpiresAt,
	})
}

// @Summary Dispatcher logout
// @Description Invalidate the session passed as a Bearer token.
// @Tags Auth
// @Security ApiKeyAuth
// @Success 204 "No Content"
// @Failure 401 {object} map[string]string "Token required"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /auth/logout [post]
func (h *Handler) logout(c *gin.Context) {
	log := h.logger.WithField("method", "logout")

	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session token required"})
		return
	}
	if err := h.sessions.Logout(c.Request.Context(), token); err != nil {
		log.WithError(err).Error("Failed to log out")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary Get application health status
// @Description Get health status of the application
// @Tags System
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string "Status OK"
// @Router /system/health [get]
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// parsePointQuery читает lat, lng и radius. При ошибке ответ уже записан.
func (h *Handler) parsePointQuery(c *gin.Context) (models.LatLng, int, bool) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	point := models.LatLng{Lat: lat, Lng: lng}
	if errLat != nil || errLng != nil || !point.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng must be valid coordinates"})
		return models.LatLng{}, 0, false
	}

	radius := h.cfg.FacilitySearchRadius
	if raw := c.Query("radius"); raw != "" {
		r, err := strconv.Atoi(raw)
		if err != nil || r <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "radius must be a positive integer"})
			return models.LatLng{}, 0, false
		}
		radius = r
	}
	return point, radius, true
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
