// Package client - HTTP-клиент API доски происшествий для консольного клиента.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shenikar/sos_dispatch_system/internal/config"
	"github.com/shenikar/sos_dispatch_system/internal/facility"
	"github.com/shenikar/sos_dispatch_system/internal/models"
	"github.com/shenikar/sos_dispatch_system/internal/session"
	"github.com/sirupsen/logrus"
)

// ErrUnauthorized - сервер не принял ключ или токен сессии
var ErrUnauthorized = errors.New("unauthorized")

// ErrUnavailable - функция выключена на сервере (503)
var ErrUnavailable = errors.New("service unavailable")

// ReportReply - ответ сервера на сообщение репортера
type ReportReply struct {
	Action       string           `json:"action"`
	Reply        string           `json:"reply"`
	Transcript   string           `json:"transcript"`
	Incident     *models.Incident `json:"incident,omitempty"`
	Location     models.LatLng    `json:"location"`
	UsedFallback bool             `json:"used_fallback"`
}

type reportRequest struct {
	Text      string   `json:"text"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

type statusRequest struct {
	Status models.Status `json:"status"`
	Force  bool          `json:"force,omitempty"`
}

type apiError struct {
	Error string `json:"error"`
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger

	mu    sync.RWMutex
	token string
}

func New(cfg *config.ClientConfig, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.ServerURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		logger: logger,
		token:  cfg.SessionToken,
	}
}

// SetToken задает токен сессии диспетчера для последующих запросов
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) ListIncidents(ctx context.Context, filter models.IncidentFilter) ([]*models.Incident, error) {
	q := url.Values{}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		q.Set("status", strings.Join(statuses, ","))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}

	var out []*models.Incident
	if err := c.do(ctx, http.MethodGet, "/incidents", q, nil, &out); err != nil {
		return nil, fmt.Errorf("client: list incidents: %w", err)
	}
	return out, nil
}

func (c *Client) CreateIncident(ctx context.Context, draft models.IncidentDraft) (*models.Incident, error) {
	out := &models.Incident{}
	if err := c.do(ctx, http.MethodPost, "/incidents", nil, draft, out); err != nil {
		return nil, fmt.Errorf("client: create incident: %w", err)
	}
	return out, nil
}

func (c *Client) GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	out := &models.Incident{}
	if err := c.do(ctx, http.MethodGet, "/incidents/"+id.String(), nil, nil, out); err != nil {
		return nil, fmt.Errorf("client: get incident: %w", err)
	}
	return out, nil
}

func (c *Client) UpdateStatus(ctx context.Context, id uuid.UUID, status models.Status) (*models.Incident, error) {
	return c.patchStatus(ctx, id, statusRequest{Status: status})
}

// ForceStatus выставляет статус без проверки переходов
func (c *Client) ForceStatus(ctx context.Context, id uuid.UUID, status models.Status) (*models.Incident, error) {
	return c.patchStatus(ctx, id, statusRequest{Status: status, Force: true})
}

func (c *Client) patchStatus(ctx context.Context, id uuid.UUID, req statusRequest) (*models.Incident, error) {
	out := &models.Incident{}
	if err := c.do(ctx, http.MethodPatch, "/incidents/"+id.String(), nil, req, out); err != nil {
		return nil, fmt.Errorf("client: update status: %w", err)
	}
	return out, nil
}

func (c *Client) DeleteIncident(ctx context.Context, id uuid.UUID) error {
	if err := c.do(ctx, http.MethodDelete, "/incidents/"+id.String(), nil, nil, nil); err != nil {
		return fmt.Errorf("client: delete incident: %w", err)
	}
	return nil
}

func (c *Client) ClearIncidents(ctx context.Context) (int64, error) {
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	if err := c.do(ctx, http.MethodDelete, "/incidents", nil, nil, &out); err != nil {
		return 0, fmt.Errorf("client: clear incidents: %w", err)
	}
	return out.Deleted, nil
}

// NearbyIncidents - нерешенные происшествия в радиусе от точки
func (c *Client) NearbyIncidents(ctx context.Context, point models.LatLng, radiusMeters int) ([]*models.Incident, error) {
	q := pointQuery(point, radiusMeters)
	var out []*models.Incident
	if err := c.do(ctx, http.MethodGet, "/incidents/nearby", q, nil, &out); err != nil {
		return nil, fmt.Errorf("client: nearby incidents: %w", err)
	}
	return out, nil
}

// FindNearest ищет ближайшую службу через сервер
func (c *Client) FindNearest(ctx context.Context, origin models.LatLng, categories []models.Category, radiusMeters int) (*facility.Result, error) {
	q := pointQuery(origin, radiusMeters)
	if len(categories) > 0 {
		names := make([]string, len(categories))
		for i, cat := range categories {
			names[i] = string(cat)
		}
		q.Set("categories", strings.Join(names, ","))
	}

	out := &facility.Result{}
	if err := c.do(ctx, http.MethodGet, "/facilities/nearest", q, nil, out); err != nil {
		return nil, fmt.Errorf("client: find nearest facility: %w", err)
	}
	return out, nil
}

// Report отправляет текст на разбор серверу. loc nil - сервер возьмет резервную точку.
// При ошибке сервера ответ все равно возвращается, если сервер его прислал.
func (c *Client) Report(ctx context.Context, text string, loc *models.LatLng) (*ReportReply, error) {
	req := reportRequest{Text: text}
	if loc != nil {
		req.Latitude, req.Longitude = &loc.Lat, &loc.Lng
	}
	out := &ReportReply{}
	if err := c.do(ctx, http.MethodPost, "/reports", nil, req, out); err != nil {
		return out, fmt.Errorf("client: report: %w", err)
	}
	return out, nil
}

// Login получает токен сессии и сохраняет его в клиенте
func (c *Client) Login(ctx context.Context, username, password string) (*session.Session, error) {
	body := map[string]string{"username": username, "password": password}
	s := &session.Session{}
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, body, s); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return nil, fmt.Errorf("client: login: %w", session.ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("client: login: %w", err)
	}
	c.SetToken(s.Token)
	return s, nil
}

func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, nil); err != nil {
		return fmt.Errorf("client: logout: %w", err)
	}
	c.SetToken("")
	return nil
}

func pointQuery(point models.LatLng, radiusMeters int) url.Values {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(point.Lat, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(point.Lng, 'f', -1, 64))
	if radiusMeters > 0 {
		q.Set("radius", strconv.Itoa(radiusMeters))
	}
	return q
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	log := c.logger.WithFields(logrus.Fields{
		"service": "client",
		"method":  method,
		"path":    path,
	})

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Debug("Request failed")
		return fmt.Errorf("%w: %v", models.ErrIO, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", models.ErrIO, err)
	}
	log.WithField("status", resp.StatusCode).Debug("Request completed")

	if resp.StatusCode >= http.StatusBadRequest {
		// Ответ на сообщение репортера содержит текст для озвучивания и при ошибке
		if out != nil && json.Valid(raw) && path == "/reports" {
			_ = json.Unmarshal(raw, out)
		}
		return statusError(resp.StatusCode, raw)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", models.ErrIO, err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
		return
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}

// statusError переводит HTTP-статус обратно в ошибки доски
func statusError(code int, raw []byte) error {
	msg := http.StatusText(code)
	var apiErr apiError
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
		msg = apiErr.Error
	}

	switch code {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", models.ErrValidation, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", models.ErrNotFound, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", models.ErrInvalidTransition, msg)
	case http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", ErrUnavailable, msg)
	default:
		return fmt.Errorf("%w: server responded %d: %s", models.ErrIO, code, msg)
	}
}
