package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockTokenValidator is a mock implementation of TokenValidator
type MockTokenValidator struct {
	mock.Mock
}

func (m *MockTokenValidator) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Claims), args.Error(1)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("valid token allows request", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)

		claims := &Claims{Subject: "ops", Role: RoleAdmin}
		mockValidator.On("ValidateToken", mock.Anything, "valid-token").Return(claims, nil)

		handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			extracted := GetClaimsFromContext(r.Context())
			assert.NotNil(t, extracted)
			assert.Equal(t, "ops", extracted.Subject)
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockValidator.AssertExpectations(t)
	})

	t.Run("missing token returns 401", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		handler := NewAuthMiddleware(mockValidator, logger).RequireAuth(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockValidator.AssertNotCalled(t, "ValidateToken")
	})

	t.Run("invalid authorization header format returns 401", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		handler := NewAuthMiddleware(mockValidator, logger).RequireAuth(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockValidator.AssertNotCalled(t, "ValidateToken")
	})

	t.Run("rejected token returns 401", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		mockValidator.On("ValidateToken", mock.Anything, "expired").Return(nil, ErrTokenExpired)
		handler := NewAuthMiddleware(mockValidator, logger).RequireAuth(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer expired")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequireRole(t *testing.T) {
	middleware := NewAuthMiddleware(new(MockTokenValidator), zap.NewNop())

	tests := []struct {
		name   string
		claims *Claims
		want   int
	}{
		{"admin passes", &Claims{Subject: "ops", Role: RoleAdmin}, http.StatusOK},
		{"other role forbidden", &Claims{Subject: "dev", Role: "viewer"}, http.StatusForbidden},
		{"no claims unauthorized", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.claims != nil {
				req = req.WithContext(WithClaims(req.Context(), tt.claims))
			}
			w := httptest.NewRecorder()

			middleware.RequireRole(RoleAdmin)(okHandler()).ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRequireAdmin_WithHMACValidator(t *testing.T) {
	validator := NewHMACValidator("test-secret", "llm-provider-manager")
	middleware := NewAuthMiddleware(validator, zap.NewNop())
	handler := middleware.RequireAdmin(okHandler())

	adminToken, err := validator.IssueToken("ops", RoleAdmin, time.Hour)
	require.NoError(t, err)
	viewerToken, err := validator.IssueToken("dev", "viewer", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"admin token", adminToken, http.StatusOK},
		{"viewer token", viewerToken, http.StatusForbidden},
		{"garbage token", "not-a-jwt", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/api/v1/routing/conversation/primary", nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestHMACValidator_ValidateToken(t *testing.T) {
	validator := NewHMACValidator("test-secret", "llm-provider-manager")
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		token, err := validator.IssueToken("ops", RoleAdmin, time.Hour)
		require.NoError(t, err)

		claims, err := validator.ValidateToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "ops", claims.Subject)
		assert.True(t, claims.IsAdmin())
		assert.Equal(t, "llm-provider-manager", claims.Issuer)
		assert.Positive(t, claims.ExpiresAt)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := validator.IssueToken("ops", RoleAdmin, -time.Minute)
		require.NoError(t, err)

		_, err = validator.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := NewHMACValidator("other-secret", "llm-provider-manager").IssueToken("ops", RoleAdmin, time.Hour)
		require.NoError(t, err)

		_, err = validator.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token, err := NewHMACValidator("test-secret", "someone-else").IssueToken("ops", RoleAdmin, time.Hour)
		require.NoError(t, err)

		_, err = validator.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing expiry", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "ops", "role": RoleAdmin}).
			SignedString([]byte("test-secret"))
		require.NoError(t, err)

		_, err = validator.ValidateToken(ctx, token)
		assert.True(t, errors.Is(err, ErrInvalidToken))
	})

	t.Run("none algorithm rejected", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "ops", "role": RoleAdmin, "exp": time.Now().Add(time.Hour).Unix()}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = validator.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
