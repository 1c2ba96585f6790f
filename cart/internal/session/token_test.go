package session

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	inErrors "github.com/Alturino/cartsync/internal/errors"
)

var secret = []byte("secret")

func TestVerifyToken(t *testing.T) {
	userID := uuid.New()
	now := time.Now()

	tests := []struct {
		name        string
		token       func(t *testing.T) string
		expected    uuid.UUID
		expectedErr error
	}{
		{
			name: "given valid token should return subject",
			token: func(t *testing.T) string {
				token, err := IssueToken(secret, userID, now, time.Minute)
				require.NoError(t, err)
				return token
			},
			expected: userID,
		},
		{
			name:        "given empty token should return empty auth",
			token:       func(*testing.T) string { return "" },
			expectedErr: inErrors.ErrEmptyAuth,
		},
		{
			name: "given token signed with another secret should be invalid",
			token: func(t *testing.T) string {
				token, err := IssueToken([]byte("other"), userID, now, time.Minute)
				require.NoError(t, err)
				return token
			},
			expectedErr: inErrors.ErrTokenInvalid,
		},
		{
			name: "given expired token should be invalid",
			token: func(t *testing.T) string {
				token, err := IssueToken(secret, userID, now.Add(-time.Hour), time.Minute)
				require.NoError(t, err)
				return token
			},
			expectedErr: inErrors.ErrTokenInvalid,
		},
		{
			name: "given token for another audience should be invalid",
			token: func(t *testing.T) string {
				token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
					Audience:  jwt.ClaimStrings{"audience-admin"},
					Issuer:    "user-service",
					Subject:   userID.String(),
					ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
					IssuedAt:  jwt.NewNumericDate(now),
				}).SignedString(secret)
				require.NoError(t, err)
				return token
			},
			expectedErr: inErrors.ErrTokenInvalid,
		},
		{
			name: "given subject that is not a user id should be invalid",
			token: func(t *testing.T) string {
				token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
					Audience:  jwt.ClaimStrings{"audience-user"},
					Issuer:    "user-service",
					Subject:   "alice",
					ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
					IssuedAt:  jwt.NewNumericDate(now),
				}).SignedString(secret)
				require.NoError(t, err)
				return token
			},
			expectedErr: inErrors.ErrTokenInvalid,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			actual, err := VerifyToken(context.Background(), secret, test.token(t))
			if test.expectedErr != nil {
				assert.ErrorIs(t, err, test.expectedErr)
				assert.Equal(t, uuid.Nil, actual)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expected, actual)
		})
	}
}

func TestTokenProviderEvents(t *testing.T) {
	c := context.Background()
	provider := NewTokenProvider(string(secret), 4)
	userID := uuid.New()

	assert.Equal(t, Initial(uuid.Nil), <-provider.Events())
	assert.Equal(t, uuid.Nil, provider.CurrentUser())

	token, err := IssueToken(secret, userID, time.Now(), time.Minute)
	require.NoError(t, err)
	signedIn, err := provider.SignIn(c, token)
	require.NoError(t, err)
	assert.Equal(t, userID, signedIn)
	assert.Equal(t, SignedIn(userID), <-provider.Events())
	assert.Equal(t, userID, provider.CurrentUser())

	_, err = provider.SignIn(c, "not a token")
	assert.ErrorIs(t, err, inErrors.ErrTokenInvalid)
	assert.Equal(t, userID, provider.CurrentUser())

	require.NoError(t, provider.SignOut(c))
	assert.Equal(t, SignedOut(), <-provider.Events())
	assert.Equal(t, uuid.Nil, provider.CurrentUser())

	provider.Close()
	_, ok := <-provider.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, provider.SignOut(c), inErrors.ErrProviderClosed)
}
