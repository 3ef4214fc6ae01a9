package client

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// CreateTestToken creates an HS256 token with the claims AuthUserMiddleware reads
func CreateTestToken(userID string, roles []string, secret []byte) (string, error) {
	tokenAuth := jwtauth.New("HS256", secret, nil)

	claims := map[string]interface{}{
		"sub":   userID,
		"exp":   time.Now().Add(time.Hour).Unix(),
		"email": "test@example.com",
		"roles": roles,
	}

	_, tokenString, err := tokenAuth.Encode(claims)
	return tokenString, err
}

func TestElevated(t *testing.T) {
	secret := []byte("test-jwt-secret-key")
	tokenAuth := jwtauth.New("HS256", secret, nil)

	var seen *AuthUser
	handler := Elevated(Verifier(tokenAuth), "superadmin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetAuthUser(r)
		w.WriteHeader(http.StatusOK)
	}))

	userID := uuid.New().String()

	tests := []struct {
		name   string
		token  func(t *testing.T) string
		cookie bool
		status int
	}{
		{
			name:   "missing token",
			token:  func(t *testing.T) string { return "" },
			status: http.StatusUnauthorized,
		},
		{
			name:   "garbage token",
			token:  func(t *testing.T) string { return "not-a-jwt" },
			status: http.StatusUnauthorized,
		},
		{
			name: "wrong secret",
			token: func(t *testing.T) string {
				token, err := CreateTestToken(userID, []string{"superadmin"}, []byte("other-secret"))
				require.NoError(t, err)
				return token
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "missing role",
			token: func(t *testing.T) string {
				token, err := CreateTestToken(userID, []string{"admin"}, secret)
				require.NoError(t, err)
				return token
			},
			status: http.StatusForbidden,
		},
		{
			name: "superadmin",
			token: func(t *testing.T) string {
				token, err := CreateTestToken(userID, []string{"user", "superadmin"}, secret)
				require.NoError(t, err)
				return token
			},
			status: http.StatusOK,
		},
		{
			name: "superadmin cookie",
			token: func(t *testing.T) string {
				token, err := CreateTestToken(userID, []string{"superadmin"}, secret)
				require.NoError(t, err)
				return token
			},
			cookie: true,
			status: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodPost, "/test/clear-all", nil)
			if token := tt.token(t); token != "" {
				if tt.cookie {
					req.AddCookie(&http.Cookie{Name: ACCESS_TOKEN_NAME, Value: token})
				} else {
					req.Header.Set("Authorization", "Bearer "+token)
				}
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				require.NotNil(t, seen)
				assert.Equal(t, userID, seen.UserId)
				assert.Equal(t, "test@example.com", seen.Email)
				assert.True(t, seen.HasRole("superadmin"))
			}
		})
	}
}

func TestAuthUser_HasRole(t *testing.T) {
	var nilUser *AuthUser
	assert.False(t, nilUser.HasRole("admin"))

	user := &AuthUser{UserId: "u1", Roles: []string{"admin"}}
	assert.True(t, user.HasRole("superadmin", "admin"))
	assert.False(t, user.HasRole("superadmin"))
	assert.False(t, user.HasRole())
}
