package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/Alturino/cartsync/cart/internal/service"
	"github.com/Alturino/cartsync/cart/pkg/request"
	"github.com/Alturino/cartsync/cart/pkg/response"
	inErrors "github.com/Alturino/cartsync/internal/errors"
	inHttp "github.com/Alturino/cartsync/internal/http"
	"github.com/Alturino/cartsync/internal/log"
	"github.com/Alturino/cartsync/internal/middleware"
	"github.com/Alturino/cartsync/internal/otel"
	"github.com/Alturino/cartsync/internal/validate"
)

type SessionController struct {
	registry *service.Registry
	validate *validator.Validate
}

func AttachSessionController(router *mux.Router, registry *service.Registry) {
	controller := SessionController{registry: registry, validate: validate.New()}

	sessions := router.PathPrefix("/sessions").Subrouter()
	sessions.HandleFunc("", controller.CreateSession).Methods(http.MethodPost)
	sessions.HandleFunc("/{sessionId}", controller.FindSession).Methods(http.MethodGet)
	sessions.HandleFunc("/{sessionId}", controller.CloseSession).Methods(http.MethodDelete)
	sessions.Handle("/{sessionId}/signin", middleware.BearerToken(http.HandlerFunc(controller.SignIn))).
		Methods(http.MethodPost)
	sessions.HandleFunc("/{sessionId}/signout", controller.SignOut).Methods(http.MethodPost)
	sessions.HandleFunc("/{sessionId}/notifications", controller.DrainNotifications).Methods(http.MethodGet)

	cart := sessions.PathPrefix("/{sessionId}/cart").Subrouter()
	cart.HandleFunc("", controller.FindCart).Methods(http.MethodGet)
	cart.HandleFunc("", controller.ClearCart).Methods(http.MethodDelete)
	cart.HandleFunc("/items", controller.AddItem).Methods(http.MethodPost)
	cart.HandleFunc("/items/{productId}", controller.SetQuantity).Methods(http.MethodPut)
	cart.HandleFunc("/items/{productId}", controller.RemoveItem).Methods(http.MethodDelete)
	cart.HandleFunc("/push", controller.PushCart).Methods(http.MethodPost)
}

func sessionResponse(s *service.Session) response.Session {
	state, userID := s.Reconciler.State()
	session := response.Session{ID: s.ID, CreatedAt: s.CreatedAt, State: state.String()}
	if userID != uuid.Nil {
		session.UserID = &userID
	}
	return session
}

func cartResponse(s *service.Session) response.Cart {
	return response.NewCart(s.ID, s.Cart.Owner(), s.Cart.Items())
}

// findSession resolves {sessionId} and writes the failure response itself
// when it returns nil.
func (t SessionController) findSession(
	w http.ResponseWriter,
	r *http.Request,
	logger zerolog.Logger,
	span trace.Span,
) (*service.Session, zerolog.Logger) {
	c := r.Context()

	logger = logger.With().Str(log.KeyProcess, "validating sessionId").Logger()
	logger.Info().Msg("validating sessionId")
	pathValues := mux.Vars(r)
	sessionID, err := uuid.Parse(pathValues["sessionId"])
	if err != nil {
		err = fmt.Errorf("failed validating sessionId=%s with error=%w", pathValues["sessionId"], err)
		inErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		inHttp.WriteFailedResponse(c, w, http.StatusBadRequest, err)
		return nil, logger
	}
	logger = logger.With().Str(log.KeySessionID, sessionID.String()).Logger()
	logger.Info().Msgf("validated sessionId=%s", sessionID.String())

	logger = logger.With().Str(log.KeyProcess, "finding session").Logger()
	logger.Info().Msg("finding session")
	s, err := t.registry.Get(sessionID)
	if err != nil {
		inErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		inHttp.WriteFailedResponse(c, w, http.StatusNotFound, err)
		return nil, logger
	}
	logger.Info().Msg("found session")

	return s, logger
}

func (t SessionController) productID(
	w http.ResponseWriter,
	r *http.Request,
	logger zerolog.Logger,
	span trace.Span,
) (int64, bool) {
	raw := mux.Vars(r)["productId"]
	productID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || productID <= 0 {
		err = fmt.Errorf("failed validating productId=%s with error=%w", raw, inErrors.ErrInvalidProductID)
		inErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		inHttp.WriteFailedResponse(r.Context(), w, http.StatusBadRequest, err)
		return 0, false
	}
	return productID, true
}

func (t SessionController) CreateSession(w http.ResponseWriter, r *http.Request) {
	c, span := otel.Tracer.Start(r.Context(), "SessionController CreateSession")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "SessionController CreateSession").
		Str(log.KeyProcess, "creating session").
		Logger()

	logger.Info().Msg("creating session")
	c = logger.WithContext(c)
	s := t.registry.Create(c)
	logger = logger.With().Str(log.KeySessionID, s.ID.String()).Logger()
	logger.Info().Msg("created session")

	inHttp.WriteJsonResponse(c, w, map[string]string{}, map[string]interface{}{
		"status":     "success",
		"statusCode": http.StatusCreated,
		"message":    fmt.Sprintf("created sessionId=%s", s.ID.String()),
		"data": map[string]interface{}{
			"session": sessionResponse(s),
		},
	})
}

func (t SessionController) FindSession(w http.ResponseWriter, r *http.Request) {
	c, span := otel.Tracer.Start(r.Context(), "SessionController FindSession")
	defer span.End()

	logger := zerolog.Ctx(c).With().Str(log.KeyTag, "SessionController FindSession").Logger()
	s, logger := t.findSession(w, r.WithContext(c), logger, span)
	if s == nil {
		return
	}

	inHttp.WriteJsonResponse(c, w, map[string]string{}, map[string]interface{}{
		"status":     "success",
		"statusCode": http.StatusOK,
		"message":    fmt.Sprintf("sessionId=%s found", s.ID.String()),
		"data": map[string]interface{}{
			"session": sessionResponse(s),
			"stats":   s.Reconciler.Stats(),
		},
	})
}

func (t SessionController) CloseSession(w http.ResponseWriter, r *http.Request) {
	c, span := otel.Tracer.Start(r.Context(), "SessionController CloseSession")
	defer span.End()

	logger := zerolog.Ctx(c).With().Str(log.KeyTag, "SessionController CloseSession").Logger()
	s, logger := t.findSession(w, r.WithContext(c), logger, span)
	if s == nil {
		return
	}

	logger = logger.With().Str(log.KeyProcess, "closing session").Logger()
	logger.Info().Msg("closing session")
	c = logger.WithContext(c)
	if err := t.registry.Close(c, s.ID); err != nil {
		err = fmt.Errorf("failed closing sessionId=%s with error=%w", s.ID.String(), err)
		inErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		statusCode := http.StatusInternalServerError
		if errors.Is(err, inErrors.ErrSessionNotFound) {
			statusCode = http.StatusNotFound
		}
		inHttp.WriteFailedResponse(c, w, statusCode, err)
		return
	}
	logger.Info().Msg("closed session")

	inHttp.WriteJsonResponse(c, w, map[string]string{}, map[string]interface{}{
		"status":     "success",
		"statusCode": http.StatusOK,
		"message":    fmt.Sprintf("closed sessionId=%s", s.ID.String()),
	})
}

func (t SessionController) SignIn(w http.ResponseWriter, r *http.Request) {
	c, span := otel.Tracer.Start(r.Context(), "SessionController SignIn")
	defer span.End()

	logger := zerolog.Ctx(c).With().Str(log.KeyTag, "SessionController SignIn").Logger()
	s, logger := t.findSession(w, r.WithContext(c), logger, span)
	if s == nil {
		return
	}

	logger = logger.With().Str(log.KeyProcess, "signing in").Logger()
	logger.Info().Msg("signing in")
	c = logger.WithContext(c)
	userID, err := s.SignIn(c, middleware.TokenFromContext(c))
	if err != nil {
		err = fmt.Errorf("failed signing in with error=%w", err)
		inErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		statusCode := http.StatusUnauthorized
		if errors.Is(err, inErrors.ErrProviderClosed) {
			statusCode = http.StatusGone
		}
		inHttp.WriteFailedResponse(c, w, statusCode, err)
		return
	}
	logger = logger.With().Str(log.KeyUserID, userID.String()).Logger()
	logger.Info().Msg("signed in")

	inHttp.WriteJsonResponse(c, w, map[string]string{}, map[string]interface{}{
		"status":     "success",
		"statusCode": http.StatusAccepted,
		"message":    fmt.Sprintf("signing in userId=%s", userID.String()),
		"data": map[string]interface{}{
			"session": sessionResponse(s),
		},
	})
}

func (t SessionController) SignOut(w http.ResponseWriter, r *http.Request) {
	c, span := otel.Tracer.Start(r.Context(), "SessionController SignOut")
	defer span.End()

	logger := zerolog.Ctx(c).With().Str(log.KeyTag, "SessionController SignOut").Logger()
	s, logger := t.findSession(w, r.WithContext(c), logger, span)
	if s == nil {
		return
	}

	logger = logger.With().Str(log.KeyProcess, "signing out").Logger()
	logger.Info().Msg("signing out")
	c = logger.WithContext(c)
	if err := s.SignOut(c); err != nil {
		err = fmt.Errorf("failed signing out with error=%w", err)
		inErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		inHttp.WriteFailedResponse(c, w, http.StatusGone, err)
		return
	}
	logger.Info().Msg("signed out")

	inHttp.WriteJsonResponse(c, w, map[string]string{}, map[string]interface{}{
		"status":     "success",
		"statusCode": http.StatusAccepted,
		"message":    "signing out",
		"data": map[string]interface{}{
			"session": sessionResponse(s),
		},
	})
}

func (t SessionController) DrainNotifications(w http.ResponseWriter, r *http.Request) {
	c, span := otel.Tracer.Start(r.Context(), "SessionController DrainNotifications")
	defer span.End()

	logger := zerolog.Ctx(c).With().Str(log.KeyTag, "SessionController DrainNotifications").Logger()
	s, logger := t.findSession(w, r.WithContext(c), logger, span)
	if s == nil {
		return
	}

	notifications := s.Cart.DrainNotifications()
	logger.Info().Msgf("drained %d notifications", len(notifications))

	inHttp.WriteJsonResponse(c, w, map[string]string{}, map[string]interface{}{
		"status":     "success",
		"statusCode": http.StatusOK,
		"message":    fmt.Sprintf("found %d notifications", len(notifications)),
		"data": map[string]interface{}{
			"notifications": notifications,
		},
	})
}

func (t SessionController) FindCart(w http.ResponseWriter, r *http.Request) {
	c, span := otel.Tracer.Start(r.Context(), "SessionController FindCart")
	defer span.End()

	logger := zerolog.Ctx(c).With().Str(log.KeyTag, "SessionController FindCart").Logger()
	s, logger := t.findSession(w, r.WithContext(c), logger, span)
	if s == nil {
		return
	}

	cart := cartResponse(s)
	logger.Info().Int(log.KeyCartItemsCount, len(cart.Items)).Msg("found cart")

	inHttp.WriteJsonResponse(c, w, map[string]string{}, map[string]interface{}{
		"status":     "success",
		"statusCode": http.StatusOK,
		"message":    fmt.Sprintf("cart of sessionId=%s found", s.ID.String()),
		"data": map[string]interface{}{
			"cart": cart,
		},
	})
}

func (t SessionController) AddItem(w http.ResponseWriter, r *http.Request) {
	c, span := otel.Tracer.Start(r.Context(), "SessionController AddItem")
	defer span.End()

	logger := zerolog.Ctx(c).With().Str(log.KeyTag, "SessionController AddItem").Logger()
	s, logger := t.findSession(w, r.WithContext(c), logger, span)
	if s == nil {
		return
	}

	logger = logger.With().Str(log.KeyProcess, "decoding requestbody").Logger()
	logger.Info().Msg("decoding request body")
	reqBody := request.AddItem{}
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		err = fmt.Errorf("failed decoding request body with error=%w", err)
		inErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		inHttp.WriteFailedResponse(c, w, http.StatusBadRequest, err)
		return
	}
	logger.Info().Msg("decoded request body")

	logger = logger.With().Str(log.KeyProcess, "validating requestbody").Logger()
	logger.Info().Msg("validating request body")
	if err := t.validate.StructCtx(c, reqBody); err != nil {
		err = fmt.Errorf("failed validating request body with error=%w", err)
		inErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		inHttp.WriteFailedResponse(c, w, http.StatusBadRequest, err)
		return
	}
	logger = logger.With().
		Int64(log.KeyProductID, reqBody.ProductID).
		Int32(log.KeyQuantity, reqBody.Quantity).
		Logger()
	logger.Info().Msg("validated request body")

	logger = logger.With().Str(log.KeyProcess, "adding item").Logger()
	logger.Info().Msg("adding item")
	c = logger.WithContext(c)
	s.Cart.AddItem(c, reqBody.Product(), reqBody.Quantity)
	logger.Info().Msg("added item")

	inHttp.WriteJsonResponse(c, w, map[string]string{}, map[string]interface{}{
		"status":     "success",
		"statusCode": http.StatusOK,
		"message":    fmt.Sprintf("added productId=%d", reqBody.ProductID),
		"data": map[string]interface{}{
			"cart": cartResponse(s),
		},
	})
}

func (t SessionController) SetQuantity(w http.ResponseWriter, r *http.Request) {
	c, span := otel.Tracer.Start(r.Context(), "SessionController SetQuantity")
	defer span.End()

	logger := zerolog.Ctx(c).With().Str(log.KeyTag, "SessionController SetQuantity").Logger()
	s, logger := t.findSession(w, r.WithContext(c), logger, span)
	if s == nil {
		return
	}
	productID, ok := t.productID(w, r.WithContext(c), logger, span)
	if !ok {
		return
	}
	logger = logger.With().Int64(log.KeyProductID, productID).Logger()

	logger = logger.With().Str(log.KeyProcess, "decoding requestbody").Logger()
	logger.Info().Msg("decoding request body")
	reqBody := request.SetQuantity{}
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		err = fmt.Errorf("failed decoding request body with error=%w", err)
		inErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		inHttp.WriteFailedResponse(c, w, http.StatusBadRequest, err)
		return
	}
	if err := t.validate.StructCtx(c, reqBody); err != nil {
		err = fmt.Errorf("failed validating request body with error=%w", err)
		inErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		inHttp.WriteFailedResponse(c, w, http.StatusBadRequest, err)
		return
	}
	logger = logger.With().Int32(log.KeyQuantity, *reqBody.Quantity).Logger()
	logger.Info().Msg("decoded request body")

	logger = logger.With().Str(log.KeyProcess, "setting quantity").Logger()
	logger.Info().Msg("setting quantity")
	c = logger.WithContext(c)
	s.Cart.SetQuantity(c, productID, *reqBody.Quantity)
	logger.Info().Msg("set quantity")

	inHttp.WriteJsonResponse(c, w, map[string]string{}, map[string]interface{}{
		"status":     "success",
		"statusCode": http.StatusOK,
		"message":    fmt.Sprintf("set quantity of productId=%d to %d", productID, *reqBody.Quantity),
		"data": map[string]interface{}{
			"cart": cartResponse(s),
		},
	})
}

func (t SessionController) RemoveItem(w http.ResponseWriter, r *http.Request) {
	c, span := otel.Tracer.Start(r.Context(), "SessionController RemoveItem")
	defer span.End()

	logger := zerolog.Ctx(c).With().Str(log.KeyTag, "SessionController RemoveItem").Logger()
	s, logger := t.findSession(w, r.WithContext(c), logger, span)
	if s == nil {
		return
	}
	productID, ok := t.productID(w, r.WithContext(c), logger, span)
	if !ok {
		return
	}

	logger = logger.With().
		Int64(log.KeyProductID, productID).
		Str(log.KeyProcess, "removing item").
		Logger()
	logger.Info().Msg("removing item")
	c = logger.WithContext(c)
	s.Cart.RemoveItem(c, productID)
	logger.Info().Msg("removed item")

	inHttp.WriteJsonResponse(c, w, map[string]string{}, map[string]interface{}{
		"status":     "success",
		"statusCode": http.StatusOK,
		"message":    fmt.Sprintf("removed productId=%d", productID),
		"data": map[string]interface{}{
			"cart": cartResponse(s),
		},
	})
}

func (t SessionController) ClearCart(w http.ResponseWriter, r *http.Request) {
	c, span := otel.Tracer.Start(r.Context(), "SessionController ClearCart")
	defer span.End()

	logger := zerolog.Ctx(c).With().Str(log.KeyTag, "SessionController ClearCart").Logger()
	s, logger := t.findSession(w, r.WithContext(c), logger, span)
	if s == nil {
		return
	}

	logger = logger.With().Str(log.KeyProcess, "clearing cart").Logger()
	logger.Info().Msg("clearing cart")
	c = logger.WithContext(c)
	s.Cart.Clear(c)
	logger.Info().Msg("cleared cart")

	inHttp.WriteJsonResponse(c, w, map[string]string{}, map[string]interface{}{
		"status":     "success",
		"statusCode": http.StatusOK,
		"message":    fmt.Sprintf("cleared cart of sessionId=%s", s.ID.String()),
		"data": map[string]interface{}{
			"cart": cartResponse(s),
		},
	})
}

func (t SessionController) PushCart(w http.ResponseWriter, r *http.Request) {
	c, span := otel.Tracer.Start(r.Context(), "SessionController PushCart")
	defer span.End()

	logger := zerolog.Ctx(c).With().Str(log.KeyTag, "SessionController PushCart").Logger()
	s, logger := t.findSession(w, r.WithContext(c), logger, span)
	if s == nil {
		return
	}

	logger = logger.With().Str(log.KeyProcess, "pushing local cart").Logger()
	logger.Info().Msg("pushing local cart")
	c = logger.WithContext(c)
	if err := s.Cart.PushLocalCart(c); err != nil {
		err = fmt.Errorf("failed pushing local cart with error=%w", err)
		inErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		inHttp.WriteFailedResponse(c, w, pushStatusCode(err), err)
		return
	}
	logger.Info().Msg("pushed local cart")

	inHttp.WriteJsonResponse(c, w, map[string]string{}, map[string]interface{}{
		"status":     "success",
		"statusCode": http.StatusOK,
		"message":    fmt.Sprintf("pushed cart of sessionId=%s", s.ID.String()),
		"data": map[string]interface{}{
			"cart": cartResponse(s),
		},
	})
}

func pushStatusCode(err error) int {
	switch inErrors.KindOf(err) {
	case inErrors.KindUnauthenticated:
		return http.StatusUnauthorized
	case inErrors.KindSchemaMissing, inErrors.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
