// Package syncengine держит локальную копию доски происшествий согласованной с сервером.
//
// Кеш обновляется опросом раз в interval. Локальные смены статуса применяются сразу
// (оптимистично) и помечаются pending, пока сервер их не подтвердит; при ошибке сервера
// статус откатывается. Результат опроса сливается с кешем по id, а не заменяет его целиком.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shenikar/sos_dispatch_system/internal/models"
	"github.com/shenikar/sos_dispatch_system/internal/observability"
	"github.com/sirupsen/logrus"
)

// DefaultInterval - период опроса доски
const DefaultInterval = 3 * time.Second

const mutationTimeout = 30 * time.Second

// ErrPollInFlight - предыдущий опрос еще не завершился, новый пропущен
var ErrPollInFlight = errors.New("poll already in flight")

// ErrStopped - движок остановлен, новые изменения статуса не принимаются
var ErrStopped = errors.New("sync engine stopped")

// Remote - авторитетное хранилище доски. Ему удовлетворяют HTTP-клиент и сервис.
type Remote interface {
	ListIncidents(ctx context.Context, filter models.IncidentFilter) ([]*models.Incident, error)
	CreateIncident(ctx context.Context, draft models.IncidentDraft) (*models.Incident, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.Status) (*models.Incident, error)
	ClearIncidents(ctx context.Context) (int64, error)
}

type MutationState string

const (
	MutationPending   MutationState = "pending"
	MutationConfirmed MutationState = "confirmed"
	MutationFailed    MutationState = "failed"
)

// Mutation - последняя локальная смена статуса инцидента
type Mutation struct {
	IncidentID uuid.UUID
	From       models.Status
	To         models.Status
	State      MutationState
	Err        error
	IssuedAt   time.Time

	settledGen uint64
}

type Engine struct {
	remote   Remote
	interval time.Duration
	clock    clockwork.Clock
	logger   *logrus.Logger
	metrics  *observability.Metrics

	mu         sync.RWMutex
	incidents  []*models.Incident // новые сверху
	mutations  map[uuid.UUID]*Mutation
	created    map[uuid.UUID]uint64 // локально созданные -> generation на момент создания
	generation uint64
	clearedGen uint64
	subs       []chan []*models.Incident
	stopping   bool
	closed     bool

	polling  atomic.Bool
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewEngine(remote Remote, interval time.Duration, clock clockwork.Clock, logger *logrus.Logger, metrics *observability.Metrics) *Engine {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		remote:    remote,
		interval:  interval,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
		mutations: make(map[uuid.UUID]*Mutation),
		created:   make(map[uuid.UUID]uint64),
	}
}

// Start опрашивает сразу и затем каждые interval до Stop или отмены ctx
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.cancel != nil || e.closed {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	ticker := e.clock.NewTicker(e.interval)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer ticker.Stop()

		e.poll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				e.poll(ctx)
			}
		}
	}()
}

// Stop останавливает опрос, дожидается фоновых подтверждений и закрывает подписки
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		// После stopping новых фоновых подтверждений не будет, wg.Wait ниже их дождется
		e.mu.Lock()
		e.stopping = true
		cancel := e.cancel
		e.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		e.wg.Wait()

		e.mu.Lock()
		e.closed = true
		for _, ch := range e.subs {
			close(ch)
		}
		e.subs = nil
		e.mu.Unlock()
	})
}

func (e *Engine) poll(ctx context.Context) {
	if err := e.Refresh(ctx); err != nil && !errors.Is(err, ErrPollInFlight) && ctx.Err() == nil {
		e.logger.WithError(err).Warn("Incident board poll failed, keeping cached incidents")
	}
}

// Refresh запрашивает доску и сливает ее с кешем. Ошибка опроса кеш не трогает.
func (e *Engine) Refresh(ctx context.Context) error {
	if !e.polling.CompareAndSwap(false, true) {
		e.metrics.SyncPolls.WithLabelValues("skipped").Inc()
		return ErrPollInFlight
	}
	defer e.polling.Store(false)

	e.mu.RLock()
	pollGen := e.generation
	e.mu.RUnlock()

	remote, err := e.remote.ListIncidents(ctx, models.IncidentFilter{})
	if err != nil {
		e.metrics.SyncPolls.WithLabelValues("error").Inc()
		return fmt.Errorf("syncengine: poll failed: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.clearedGen > pollGen {
		// Доску очистили, пока шел опрос: ответ устарел
		e.metrics.SyncPolls.WithLabelValues("skipped").Inc()
		return nil
	}

	e.incidents = e.mergeLocked(remote, pollGen)
	e.generation++
	e.metrics.SyncPolls.WithLabelValues("success").Inc()
	e.metrics.SyncCachedIncidents.Set(float64(len(e.incidents)))
	e.publishLocked()
	return nil
}

// mergeLocked накладывает на ответ сервера незавершенные локальные изменения
func (e *Engine) mergeLocked(remote []*models.Incident, pollGen uint64) []*models.Incident {
	merged := make([]*models.Incident, 0, len(remote)+len(e.created))
	inRemote := make(map[uuid.UUID]struct{}, len(remote))

	for _, r := range remote {
		if r == nil {
			continue
		}
		inc := r.Clone()
		inRemote[inc.ID] = struct{}{}

		if m, ok := e.mutations[inc.ID]; ok {
			switch {
			case m.State == MutationPending:
				inc.Status = m.To
			case m.State == MutationConfirmed && m.settledGen > pollGen && inc.Status == m.From:
				// Ответ снят до подтверждения, сервер уже содержит новое значение
				inc.Status = m.To
			}
		}
		merged = append(merged, inc)
	}

	for id, createdGen := range e.created {
		if _, ok := inRemote[id]; ok {
			delete(e.created, id)
			continue
		}
		if createdGen > pollGen {
			if local := e.findLocked(id); local != nil {
				merged = append(merged, local.Clone())
			}
			continue
		}
		delete(e.created, id)
	}

	for id, m := range e.mutations {
		if _, ok := inRemote[id]; !ok && m.State != MutationPending {
			delete(e.mutations, id)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})
	return merged
}

// AddIncident создает инцидент на сервере и сразу ставит его в начало кеша
func (e *Engine) AddIncident(ctx context.Context, draft models.IncidentDraft) (*models.Incident, error) {
	created, err := e.remote.CreateIncident(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("syncengine: create incident: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.generation++
	if e.findLocked(created.ID) == nil {
		e.incidents = append([]*models.Incident{created.Clone()}, e.incidents...)
	}
	e.created[created.ID] = e.generation
	e.metrics.SyncCachedIncidents.Set(float64(len(e.incidents)))
	e.publishLocked()

	return created.Clone(), nil
}

// ResolveIncident меняет статус в кеше сразу, а на сервере в фоне
func (e *Engine) ResolveIncident(ctx context.Context, id uuid.UUID, status models.Status) (*models.Incident, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("syncengine: %w: unknown status %q", models.ErrValidation, status)
	}

	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		return nil, fmt.Errorf("syncengine: resolve incident %s: %w", id, ErrStopped)
	}
	inc := e.findLocked(id)
	if inc == nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("syncengine: incident %s: %w", id, models.ErrNotFound)
	}
	if !models.CanTransition(inc.Status, status) {
		from := inc.Status
		e.mu.Unlock()
		return nil, fmt.Errorf("syncengine: %s -> %s: %w", from, status, models.ErrInvalidTransition)
	}
	if inc.Status == status {
		out := inc.Clone()
		e.mu.Unlock()
		return out, nil
	}

	now := e.clock.Now().UTC()
	m := &Mutation{
		IncidentID: id,
		From:       inc.Status,
		To:         status,
		State:      MutationPending,
		IssuedAt:   now,
	}
	inc.Status = status
	inc.UpdatedAt = now
	e.mutations[id] = m
	e.generation++
	out := inc.Clone()
	e.publishLocked()

	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mutationTimeout)
		defer cancel()
		e.commit(commitCtx, m)
	}()

	return out, nil
}

func (e *Engine) commit(ctx context.Context, m *Mutation) {
	_, err := e.remote.UpdateStatus(ctx, m.IncidentID, m.To)

	e.mu.Lock()
	defer e.mu.Unlock()

	log := e.logger.WithFields(logrus.Fields{
		"component":   "syncengine",
		"incident_id": m.IncidentID,
		"status":      m.To,
	})

	e.generation++
	m.settledGen = e.generation
	if err != nil {
		m.State = MutationFailed
		m.Err = err
		e.metrics.SyncMutations.WithLabelValues("failed").Inc()

		// Откатываем, только если поверх не легло более новое изменение
		if e.mutations[m.IncidentID] == m {
			if inc := e.findLocked(m.IncidentID); inc != nil && inc.Status == m.To {
				inc.Status = m.From
			}
		}
		log.WithError(err).Warn("Status change rejected by the board, reverted locally")
	} else {
		m.State = MutationConfirmed
		e.metrics.SyncMutations.WithLabelValues("confirmed").Inc()
		log.Debug("Status change confirmed")
	}
	e.publishLocked()
}

// Mutation возвращает состояние последней локальной смены статуса инцидента
func (e *Engine) Mutation(id uuid.UUID) (Mutation, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.mutations[id]
	if !ok {
		return Mutation{}, false
	}
	return *m, true
}

// Incidents возвращает копию кеша, новые сверху
func (e *Engine) Incidents() []*models.Incident {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

// Subscribe возвращает канал снимков доски. Хранится только последний снимок,
// медленный подписчик пропускает промежуточные. Канал закрывается в Stop.
func (e *Engine) Subscribe() <-chan []*models.Incident {
	ch := make(chan []*models.Incident, 1)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		close(ch)
		return ch
	}
	e.subs = append(e.subs, ch)
	ch <- e.snapshotLocked()
	return ch
}

// Clear очищает доску на сервере, затем локально
func (e *Engine) Clear(ctx context.Context) (int64, error) {
	n, err := e.remote.ClearIncidents(ctx)
	if err != nil {
		return 0, fmt.Errorf("syncengine: clear incidents: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.incidents = nil
	e.mutations = make(map[uuid.UUID]*Mutation)
	e.created = make(map[uuid.UUID]uint64)
	e.generation++
	e.clearedGen = e.generation
	e.metrics.SyncCachedIncidents.Set(0)
	e.publishLocked()
	return n, nil
}

func (e *Engine) findLocked(id uuid.UUID) *models.Incident {
	for _, inc := range e.incidents {
		if inc.ID == id {
			return inc
		}
	}
	return nil
}

func (e *Engine) snapshotLocked() []*models.Incident {
	out := make([]*models.Incident, 0, len(e.incidents))
	for _, inc := range e.incidents {
		out = append(out, inc.Clone())
	}
	return out
}

func (e *Engine) publishLocked() {
	if e.closed || len(e.subs) == 0 {
		return
	}
	snapshot := e.snapshotLocked()
	for _, ch := range e.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snapshot:
		default:
		}
	}
}
