package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/Alturino/cartsync/cart/internal/store"
	"github.com/Alturino/cartsync/cart/pkg/model"
	inErrors "github.com/Alturino/cartsync/internal/errors"
	"github.com/Alturino/cartsync/internal/log"
	"github.com/Alturino/cartsync/internal/otel"
)

type State int

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Fetcher loads the persisted cart of a user.
type Fetcher interface {
	FetchAll(c context.Context, userID uuid.UUID) ([]model.RemoteCartRecord, error)
}

type Stats struct {
	Generation     uint64 `json:"generation"`
	StaleDiscarded uint64 `json:"staleDiscarded"`
	Applied        uint64 `json:"applied"`
}

type fetchResult struct {
	err        error
	records    []model.RemoteCartRecord
	generation uint64
	userID     uuid.UUID
}

// Reconciler moves the cart of one session between the anonymous and the
// signed in user. All state transitions happen on the goroutine running
// Run; every fetch is tagged with the generation that started it and its
// result is dropped when a newer event has arrived since.
type Reconciler struct {
	provider      Provider
	fetcher       Fetcher
	store         *store.Store
	metrics       *Metrics
	fetchDuration metric.Float64Histogram
	results       chan fetchResult
	done          chan struct{}
	cancelFetch   context.CancelFunc
	fetchTimeout  time.Duration

	mu    sync.RWMutex
	state State
	user  uuid.UUID

	generation atomic.Uint64
	stale      atomic.Uint64
	applied    atomic.Uint64
}

func NewReconciler(
	provider Provider,
	fetcher Fetcher,
	cart *store.Store,
	metrics *Metrics,
	fetchTimeout time.Duration,
) *Reconciler {
	fetchDuration, err := otel.Meter.Float64Histogram(
		"cartsync.reconciler.fetch.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of cart fetches started by authentication events."),
	)
	if err != nil {
		fetchDuration = noop.Float64Histogram{}
	}
	return &Reconciler{
		provider:      provider,
		fetcher:       fetcher,
		store:         cart,
		metrics:       metrics,
		fetchDuration: fetchDuration,
		results:       make(chan fetchResult),
		done:          make(chan struct{}),
		fetchTimeout:  fetchTimeout,
	}
}

func (r *Reconciler) State() (State, uuid.UUID) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state, r.user
}

func (r *Reconciler) Stats() Stats {
	return Stats{
		Generation:     r.generation.Load(),
		StaleDiscarded: r.stale.Load(),
		Applied:        r.applied.Load(),
	}
}

func (r *Reconciler) setState(state State, userID uuid.UUID) {
	r.mu.Lock()
	r.state = state
	r.user = userID
	r.mu.Unlock()
}

// Run consumes provider events until c is done or the event stream is
// closed. It must be called once per Reconciler.
func (r *Reconciler) Run(c context.Context) error {
	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "Reconciler Run").
		Logger()
	c = logger.WithContext(c)

	defer func() {
		close(r.done)
		if r.cancelFetch != nil {
			r.cancelFetch()
		}
	}()

	logger.Debug().Msg("reconciling session")
	events := r.provider.Events()
	for {
		select {
		case <-c.Done():
			logger.Debug().Msg("stopped reconciling session")
			return c.Err()
		case event, ok := <-events:
			if !ok {
				logger.Debug().Msg("event stream closed, stopped reconciling session")
				return nil
			}
			r.handle(c, event)
		case result := <-r.results:
			r.apply(c, result)
		}
	}
}

func (r *Reconciler) handle(c context.Context, event Event) {
	generation := r.generation.Add(1)
	c, span := otel.Tracer.Start(
		c,
		"Reconciler handle",
		trace.WithAttributes(
			attribute.String(log.KeyEvent, event.Type.String()),
			attribute.String(log.KeyUserID, event.UserID.String()),
			attribute.Int64(log.KeyGeneration, int64(generation)),
		),
	)
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "Reconciler handle").
		Str(log.KeyEvent, event.Type.String()).
		Str(log.KeyUserID, event.UserID.String()).
		Uint64(log.KeyGeneration, generation).
		Logger()

	r.metrics.event(event)
	if r.cancelFetch != nil {
		logger.Debug().Msg("cancelling superseded fetch")
		r.cancelFetch()
		r.cancelFetch = nil
	}
	r.setState(StateAuthenticating, event.UserID)

	if event.Type == EventSignedOut || event.UserID == uuid.Nil {
		logger = logger.With().Str(log.KeyProcess, "resetting cart").Logger()
		r.store.Reset()
		r.setState(StateAnonymous, uuid.Nil)
		logger.Info().Str(log.KeyState, StateAnonymous.String()).Msg("reset cart")
		return
	}

	// The previous owner must not receive anything changed while the new
	// cart loads.
	r.store.Disown()

	logger = logger.With().Str(log.KeyProcess, "fetching cart").Logger()
	logger.Debug().Msg("fetching cart")
	var (
		fetchCtx context.Context
		cancel   context.CancelFunc
	)
	if r.fetchTimeout > 0 {
		fetchCtx, cancel = context.WithTimeout(c, r.fetchTimeout)
	} else {
		fetchCtx, cancel = context.WithCancel(c)
	}
	r.cancelFetch = cancel
	go r.fetch(c, fetchCtx, generation, event.UserID)
}

// fetch runs off the Run goroutine. runCtx and the end of Run bound the
// hand-off of the result; fetchCtx is cancelled once the fetch is superseded.
func (r *Reconciler) fetch(runCtx context.Context, fetchCtx context.Context, generation uint64, userID uuid.UUID) {
	start := time.Now()
	records, err := r.fetcher.FetchAll(fetchCtx, userID)
	r.fetchDuration.Record(
		fetchCtx,
		time.Since(start).Seconds(),
		metric.WithAttributes(attribute.Bool("failed", err != nil)),
	)

	select {
	case r.results <- fetchResult{generation: generation, userID: userID, records: records, err: err}:
	case <-runCtx.Done():
	case <-r.done:
	}
}

func (r *Reconciler) apply(c context.Context, result fetchResult) {
	c, span := otel.Tracer.Start(
		c,
		"Reconciler apply",
		trace.WithAttributes(
			attribute.String(log.KeyUserID, result.userID.String()),
			attribute.Int64(log.KeyGeneration, int64(result.generation)),
		),
	)
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "Reconciler apply").
		Str(log.KeyUserID, result.userID.String()).
		Uint64(log.KeyGeneration, result.generation).
		Logger()

	if current := r.generation.Load(); result.generation != current {
		r.stale.Add(1)
		r.metrics.stale()
		err := inErrors.NewFailure("FetchAll", inErrors.KindStaleGeneration, fmt.Errorf(
			"fetch generation=%d superseded by generation=%d",
			result.generation,
			current,
		))
		span.AddEvent(err.Error())
		logger.Debug().Err(err).Msg("discarded stale cart")
		return
	}
	if r.cancelFetch != nil {
		r.cancelFetch()
		r.cancelFetch = nil
	}

	items := make([]model.LineItem, 0, len(result.records))
	if result.err != nil {
		r.metrics.fetchFailed()
		inErrors.HandleError(result.err, span)
		logger.Warn().
			Err(result.err).
			Str(log.KeyFailureKind, inErrors.KindOf(result.err).String()).
			Msg("failed fetching cart, signing in with an empty cart")
	} else {
		for _, record := range result.records {
			items = append(items, record.LineItem())
		}
	}

	logger = logger.With().Str(log.KeyProcess, "replacing cart").Logger()
	if err := r.store.ReplaceAll(result.userID, items); err != nil {
		err = fmt.Errorf("failed replacing cart with error=%w", err)
		inErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		_ = r.store.ReplaceAll(result.userID, nil)
	}
	r.applied.Add(1)
	r.setState(StateAuthenticated, result.userID)
	logger.Info().
		Int(log.KeyCartItemsCount, r.store.Len()).
		Str(log.KeyState, StateAuthenticated.String()).
		Msg("replaced cart")
}
