package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Alturino/cartsync/internal/constants"
	inErrors "github.com/Alturino/cartsync/internal/errors"
	"github.com/Alturino/cartsync/internal/log"
	"github.com/Alturino/cartsync/internal/otel"
)

// TokenProvider is a Provider driven by bearer tokens issued by the user
// service. It emits Initial(none) as soon as it is created.
type TokenProvider struct {
	events chan Event
	secret []byte
	mu     sync.RWMutex
	user   uuid.UUID
	closed bool
}

func NewTokenProvider(secret string, buffer int) *TokenProvider {
	if buffer <= 0 {
		buffer = 1
	}
	p := &TokenProvider{secret: []byte(secret), events: make(chan Event, buffer)}
	p.events <- Initial(uuid.Nil)
	return p
}

func (p *TokenProvider) Events() <-chan Event {
	return p.events
}

func (p *TokenProvider) CurrentUser() uuid.UUID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.user
}

// SignIn verifies token and emits SignedIn for its subject.
func (p *TokenProvider) SignIn(c context.Context, token string) (uuid.UUID, error) {
	c, span := otel.Tracer.Start(c, "TokenProvider SignIn")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "TokenProvider SignIn").
		Logger()

	logger = logger.With().Str(log.KeyProcess, "verifying token").Logger()
	logger.Trace().Msg("verifying token")
	userID, err := VerifyToken(logger.WithContext(c), p.secret, token)
	if err != nil {
		err = fmt.Errorf("failed verifying token with error=%w", err)
		inErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return uuid.Nil, err
	}
	span.SetAttributes(attribute.String(log.KeyUserID, userID.String()))
	logger = logger.With().Str(log.KeyUserID, userID.String()).Logger()
	logger.Debug().Msg("verified token")

	logger = logger.With().Str(log.KeyProcess, "emitting signed in").Logger()
	if err = p.emit(c, userID, SignedIn(userID)); err != nil {
		err = fmt.Errorf("failed emitting signed in with error=%w", err)
		inErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return uuid.Nil, err
	}
	logger.Info().Msg("signed in")

	return userID, nil
}

func (p *TokenProvider) SignOut(c context.Context) error {
	c, span := otel.Tracer.Start(c, "TokenProvider SignOut")
	defer span.End()

	if err := p.emit(c, uuid.Nil, SignedOut()); err != nil {
		err = fmt.Errorf("failed emitting signed out with error=%w", err)
		inErrors.HandleError(err, span)
		zerolog.Ctx(c).Error().Err(err).Str(log.KeyTag, "TokenProvider SignOut").Msg(err.Error())
		return err
	}
	zerolog.Ctx(c).Info().Str(log.KeyTag, "TokenProvider SignOut").Msg("signed out")
	return nil
}

// Close ends the event stream, which stops the Reconciler reading it.
func (p *TokenProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
}

// emit holds the lock until the event is queued so the event order always
// matches the order of user changes.
func (p *TokenProvider) emit(c context.Context, userID uuid.UUID, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return inErrors.ErrProviderClosed
	}
	select {
	case p.events <- event:
		p.user = userID
		return nil
	case <-c.Done():
		return c.Err()
	}
}

// VerifyToken checks an HS256 token issued to the user audience and returns
// its subject as a user id.
func VerifyToken(c context.Context, secret []byte, token string) (uuid.UUID, error) {
	c, span := otel.Tracer.Start(c, "VerifyToken")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "VerifyToken").
		Logger()

	if token == "" {
		inErrors.HandleError(inErrors.ErrEmptyAuth, span)
		return uuid.Nil, inErrors.ErrEmptyAuth
	}

	logger = logger.With().Str(log.KeyProcess, "parsing claims").Logger()
	logger.Trace().Msg("parsing claims")
	jwtToken, err := jwt.ParseWithClaims(
		token,
		&jwt.RegisteredClaims{},
		func(t *jwt.Token) (interface{}, error) {
			return secret, nil
		},
		jwt.WithAudience(constants.AUDIENCE_USER),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(constants.ISSUER_USER),
	)
	if err != nil {
		err = fmt.Errorf("failed parsing claims with error=%w: %w", inErrors.ErrTokenInvalid, err)
		inErrors.HandleError(err, span)
		logger.Debug().Err(err).Msg(err.Error())
		return uuid.Nil, err
	}
	if !jwtToken.Valid {
		inErrors.HandleError(inErrors.ErrTokenInvalid, span)
		return uuid.Nil, inErrors.ErrTokenInvalid
	}
	logger.Trace().Msg("parsed claims")

	logger = logger.With().Str(log.KeyProcess, "parsing subject").Logger()
	subject, err := jwtToken.Claims.GetSubject()
	if err != nil || subject == "" {
		inErrors.HandleError(inErrors.ErrEmptySubject, span)
		return uuid.Nil, inErrors.ErrEmptySubject
	}
	userID, err := uuid.Parse(subject)
	if err != nil {
		err = fmt.Errorf("failed parsing subject=%s with error=%w: %w", subject, inErrors.ErrTokenInvalid, err)
		inErrors.HandleError(err, span)
		logger.Debug().Err(err).Msg(err.Error())
		return uuid.Nil, err
	}
	logger.Trace().Str(log.KeyUserID, userID.String()).Msg("parsed subject")

	return userID, nil
}

// IssueToken signs a token VerifyToken accepts.
func IssueToken(secret []byte, userID uuid.UUID, now time.Time, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(
		jwt.SigningMethodHS256,
		jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{constants.AUDIENCE_USER},
			Issuer:    constants.ISSUER_USER,
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	)
	return token.SignedString(secret)
}
