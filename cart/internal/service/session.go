package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Alturino/cartsync/cart/internal/notify"
	"github.com/Alturino/cartsync/cart/internal/persistence"
	"github.com/Alturino/cartsync/cart/internal/session"
	"github.com/Alturino/cartsync/cart/internal/store"
	"github.com/Alturino/cartsync/internal/config"
	inErrors "github.com/Alturino/cartsync/internal/errors"
	"github.com/Alturino/cartsync/internal/log"
)

var _ Syncer = (*persistence.Adapter)(nil)

// Session is one browser session: its cart, its authentication state and
// the reconciler keeping both in step.
type Session struct {
	CreatedAt  time.Time
	Cart       *CartService
	Provider   *session.TokenProvider
	Reconciler *session.Reconciler
	cancel     context.CancelFunc
	done       chan error
	ID         uuid.UUID
}

func (s *Session) SignIn(c context.Context, token string) (uuid.UUID, error) {
	return s.Provider.SignIn(c, token)
}

func (s *Session) SignOut(c context.Context) error {
	return s.Provider.SignOut(c)
}

func (s *Session) close() error {
	s.Provider.Close()
	err := <-s.done
	s.cancel()
	s.Cart.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Registry owns every live session of the process.
type Registry struct {
	base     context.Context
	adapter  *persistence.Adapter
	metrics  *session.Metrics
	sessions map[uuid.UUID]*Session
	secret   string
	cfg      config.Sync
	mu       sync.RWMutex
}

// NewRegistry creates sessions whose background work lives as long as c.
func NewRegistry(
	c context.Context,
	adapter *persistence.Adapter,
	metrics *session.Metrics,
	secret string,
	cfg config.Sync,
) *Registry {
	return &Registry{
		base:     context.WithoutCancel(c),
		adapter:  adapter,
		metrics:  metrics,
		sessions: map[uuid.UUID]*Session{},
		secret:   secret,
		cfg:      cfg,
	}
}

func (r *Registry) Create(c context.Context) *Session {
	id := uuid.New()
	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "Registry Create").
		Str(log.KeySessionID, id.String()).
		Logger()

	cart := store.New()
	provider := session.NewTokenProvider(r.secret, r.cfg.EventBuffer)
	reconciler := session.NewReconciler(provider, r.adapter, cart, r.metrics, r.cfg.FetchTimeout)

	runCtx, cancel := context.WithCancel(logger.WithContext(r.base))
	s := &Session{
		ID:         id,
		CreatedAt:  time.Now(),
		Cart:       NewCartService(cart, r.adapter, notify.NewNotifier(r.cfg.NotificationBuffer), r.cfg.SyncTimeout),
		Provider:   provider,
		Reconciler: reconciler,
		cancel:     cancel,
		done:       make(chan error, 1),
	}
	go func() { s.done <- reconciler.Run(runCtx) }()

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	logger.Info().Msg("created session")

	return s
}

func (r *Registry) Get(id uuid.UUID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("failed finding sessionId=%s with error=%w", id.String(), inErrors.ErrSessionNotFound)
	}
	return s, nil
}

// Close stops the session, waits for its pending syncs and forgets it. The
// remote cart is left untouched.
func (r *Registry) Close(c context.Context, id uuid.UUID) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("failed closing sessionId=%s with error=%w", id.String(), inErrors.ErrSessionNotFound)
	}

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "Registry Close").
		Str(log.KeySessionID, id.String()).
		Logger()
	if err := s.close(); err != nil {
		err = fmt.Errorf("failed closing session with error=%w", err)
		logger.Error().Err(err).Msg(err.Error())
		return err
	}
	logger.Info().Msg("closed session")

	return nil
}

func (r *Registry) CloseAll(c context.Context) error {
	r.mu.RLock()
	ids := make([]uuid.UUID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := r.Close(c, id); err != nil && !errors.Is(err, inErrors.ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
