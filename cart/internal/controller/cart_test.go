package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alturino/cartsync/cart/internal/persistence"
	"github.com/Alturino/cartsync/cart/internal/repository"
	"github.com/Alturino/cartsync/cart/internal/service"
	"github.com/Alturino/cartsync/cart/internal/session"
	"github.com/Alturino/cartsync/cart/pkg/model"
	"github.com/Alturino/cartsync/cart/pkg/response"
	"github.com/Alturino/cartsync/internal/config"
)

const secret = "secret"

type envelope struct {
	Data struct {
		Session response.Session `json:"session"`
		Cart    response.Cart    `json:"cart"`
	} `json:"data"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

func setupRouter(t *testing.T, repo repository.Repository) (*mux.Router, *service.Registry) {
	t.Helper()
	c := context.Background()
	adapter := persistence.NewAdapter(repo, persistence.NewMetrics(prometheus.NewRegistry()))
	registry := service.NewRegistry(
		c,
		adapter,
		session.NewMetrics(prometheus.NewRegistry()),
		secret,
		config.Sync{FetchTimeout: time.Second, SyncTimeout: time.Second, NotificationBuffer: 8, EventBuffer: 8},
	)
	t.Cleanup(func() { assert.NoError(t, registry.CloseAll(c)) })

	router := mux.NewRouter()
	AttachSessionController(router, registry)
	return router, registry
}

func do(t *testing.T, router *mux.Router, method, path string, body interface{}, header map[string]string) envelope {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	res := envelope{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, rec.Code, res.StatusCode)
	return res
}

func createSession(t *testing.T, router *mux.Router) uuid.UUID {
	t.Helper()
	res := do(t, router, http.MethodPost, "/sessions", nil, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, session.StateAnonymous.String(), res.Data.Session.State)
	return res.Data.Session.ID
}

var mouse = map[string]interface{}{
	"productId":           1,
	"title":               "Mouse",
	"unitPrice":           "20",
	"discountedUnitPrice": "18",
	"quantity":            2,
}

func TestAnonymousCart(t *testing.T) {
	router, _ := setupRouter(t, repository.NewMemoryRepository())
	sessionID := createSession(t, router)
	cartPath := fmt.Sprintf("/sessions/%s/cart", sessionID)

	res := do(t, router, http.MethodPost, cartPath+"/items", mouse, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Len(t, res.Data.Cart.Items, 1)
	assert.True(t, decimal.NewFromInt(36).Equal(res.Data.Cart.TotalPrice))
	assert.Nil(t, res.Data.Cart.UserID)

	res = do(t, router, http.MethodPut, cartPath+"/items/1", map[string]int{"quantity": 0}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, res.Data.Cart.Items)
	assert.True(t, decimal.Zero.Equal(res.Data.Cart.TotalPrice))

	res = do(t, router, http.MethodGet, cartPath, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, sessionID, res.Data.Cart.SessionID)
}

func TestRequestValidation(t *testing.T) {
	router, _ := setupRouter(t, repository.NewMemoryRepository())
	sessionID := createSession(t, router)

	tests := []struct {
		name               string
		method             string
		path               string
		body               interface{}
		expectedStatusCode int
	}{
		{
			name:               "given negative price should return bad request",
			method:             http.MethodPost,
			path:               fmt.Sprintf("/sessions/%s/cart/items", sessionID),
			body:               map[string]interface{}{"productId": 1, "title": "Mouse", "unitPrice": "-1", "quantity": 1},
			expectedStatusCode: http.StatusBadRequest,
		},
		{
			name:               "given zero quantity on add should return bad request",
			method:             http.MethodPost,
			path:               fmt.Sprintf("/sessions/%s/cart/items", sessionID),
			body:               map[string]interface{}{"productId": 1, "title": "Mouse", "unitPrice": "1", "quantity": 0},
			expectedStatusCode: http.StatusBadRequest,
		},
		{
			name:               "given missing quantity on set should return bad request",
			method:             http.MethodPut,
			path:               fmt.Sprintf("/sessions/%s/cart/items/1", sessionID),
			body:               map[string]interface{}{},
			expectedStatusCode: http.StatusBadRequest,
		},
		{
			name:               "given non numeric productId should return bad request",
			method:             http.MethodDelete,
			path:               fmt.Sprintf("/sessions/%s/cart/items/mouse", sessionID),
			expectedStatusCode: http.StatusBadRequest,
		},
		{
			name:               "given malformed sessionId should return bad request",
			method:             http.MethodGet,
			path:               "/sessions/not-a-uuid/cart",
			expectedStatusCode: http.StatusBadRequest,
		},
		{
			name:               "given unknown sessionId should return not found",
			method:             http.MethodGet,
			path:               fmt.Sprintf("/sessions/%s", uuid.New()),
			expectedStatusCode: http.StatusNotFound,
		},
		{
			name:               "given signin without authorization should return unauthorized",
			method:             http.MethodPost,
			path:               fmt.Sprintf("/sessions/%s/signin", sessionID),
			expectedStatusCode: http.StatusUnauthorized,
		},
		{
			name:               "given push while anonymous should return unauthorized",
			method:             http.MethodPost,
			path:               fmt.Sprintf("/sessions/%s/cart/push", sessionID),
			expectedStatusCode: http.StatusUnauthorized,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			res := do(t, router, test.method, test.path, test.body, nil)
			assert.Equal(t, test.expectedStatusCode, res.StatusCode)
			assert.Equal(t, "failed", res.Status)
		})
	}
}

func TestSignInLoadsRemoteCart(t *testing.T) {
	c := context.Background()
	repo := repository.NewMemoryRepository()
	router, registry := setupRouter(t, repo)
	userID := uuid.New()

	adapter := persistence.NewAdapter(repo, nil)
	keyboard := model.Product{ID: 2, Title: "Keyboard", UnitPrice: decimal.NewFromInt(50)}
	_, err := adapter.SyncAdd(c, userID, keyboard, 3)
	require.NoError(t, err)

	sessionID := createSession(t, router)
	token, err := session.IssueToken([]byte(secret), userID, time.Now(), time.Minute)
	require.NoError(t, err)

	res := do(t, router, http.MethodPost, fmt.Sprintf("/sessions/%s/signin", sessionID), nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	require.Equal(t, http.StatusAccepted, res.StatusCode)

	s, err := registry.Get(sessionID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		state, _ := s.Reconciler.State()
		return state == session.StateAuthenticated
	}, 2*time.Second, 10*time.Millisecond)

	res = do(t, router, http.MethodGet, fmt.Sprintf("/sessions/%s", sessionID), nil, nil)
	assert.Equal(t, session.StateAuthenticated.String(), res.Data.Session.State)

	res = do(t, router, http.MethodGet, fmt.Sprintf("/sessions/%s/cart", sessionID), nil, nil)
	require.Len(t, res.Data.Cart.Items, 1)
	assert.Equal(t, int64(2), res.Data.Cart.Items[0].ProductID)
	assert.Equal(t, int32(3), res.Data.Cart.Items[0].Quantity)
	require.NotNil(t, res.Data.Cart.UserID)
	assert.Equal(t, userID, *res.Data.Cart.UserID)

	res = do(t, router, http.MethodPost, fmt.Sprintf("/sessions/%s/cart/push", sessionID), nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res = do(t, router, http.MethodDelete, fmt.Sprintf("/sessions/%s", sessionID), nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}
