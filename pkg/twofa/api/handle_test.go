package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-twofa/pkg/client"
	"github.com/tendant/simple-twofa/pkg/twofa"
	"github.com/xlzd/gotp"
)

const testNow = 1700000000

var jwtSecret = []byte("handler-test-jwt-secret")

func setupTestServer(t *testing.T, opts ...Option) (http.Handler, *twofa.InMemoryStore) {
	users := twofa.NewInMemoryStore(twofa.PartitionUser)
	admins := twofa.NewInMemoryStore(twofa.PartitionAdmin)
	users.Put(twofa.Record{PrincipalID: "user-1", Email: "user1@example.com"})
	users.Put(twofa.Record{PrincipalID: "admin-1", Email: "admin1@example.com"})
	admins.Put(twofa.Record{PrincipalID: "admin-1", Email: "admin1@example.com"})

	service := twofa.NewTwoFaService(
		twofa.NewResolver(users, admins),
		twofa.WithClock(func() time.Time { return time.Unix(testNow, 0) }),
	)

	handle := NewHandle(service, opts...)
	handle.now = func() time.Time { return time.Unix(testNow, 0) }
	return TwoFaHandler(handle), users
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func enrollViaAPI(t *testing.T, h http.Handler, userID string) (string, []any) {
	t.Helper()

	rec, setup := doJSON(t, h, http.MethodPost, "/setup", map[string]string{"userId": userID})
	require.Equal(t, http.StatusOK, rec.Code)
	secret := setup["secret"].(string)

	rec, enable := doJSON(t, h, http.MethodPost, "/enable", map[string]string{
		"userId": userID,
		"secret": secret,
		"token":  gotp.NewDefaultTOTP(secret).At(testNow),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, enable["enabled"])
	return secret, enable["backupCodes"].([]any)
}

func TestHandle_Setup(t *testing.T) {
	h, _ := setupTestServer(t)

	rec, body := doJSON(t, h, http.MethodPost, "/setup", map[string]string{"userId": "user-1", "email": "me@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "user-1", body["userId"])
	assert.NotEmpty(t, body["secret"])
	assert.Equal(t, body["secret"], body["manualEntryKey"])
	assert.True(t, strings.HasPrefix(body["qrCodeUrl"].(string), "data:image/png;base64,"))

	t.Run("Missing userId", func(t *testing.T) {
		rec, body := doJSON(t, h, http.MethodPost, "/setup", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_INPUT", body["error"])
		assert.Equal(t, "missing required fields: userId", body["message"])
	})

	t.Run("Malformed body", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodPost, "/setup", "{not json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Unknown principal", func(t *testing.T) {
		rec, body := doJSON(t, h, http.MethodPost, "/setup", map[string]string{"userId": "missing"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "NOT_FOUND", body["error"])
	})
}

func TestHandle_EnrollmentFlow(t *testing.T) {
	h, users := setupTestServer(t)

	secret, codes := enrollViaAPI(t, h, "user-1")
	assert.Len(t, codes, twofa.BACKUP_CODE_COUNT)

	rec, status := doJSON(t, h, http.MethodGet, "/status/user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"enabled": true, "hasSecret": true, "remainingBackupCodes": float64(8)}, status)

	totp := gotp.NewDefaultTOTP(secret)

	rec, body := doJSON(t, h, http.MethodPost, "/verify", map[string]string{"userId": "user-1", "token": totp.At(testNow - 30)})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["verified"])

	rec, body = doJSON(t, h, http.MethodPost, "/verify", map[string]string{"userId": "user-1", "token": totp.At(testNow + 90)})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["verified"])
	assert.Equal(t, "Invalid token", body["message"])

	rec, body = doJSON(t, h, http.MethodPost, "/verify-backup", map[string]string{"userId": "user-1", "backupCode": codes[0].(string)})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["verified"])

	rec, body = doJSON(t, h, http.MethodPost, "/verify-backup", map[string]string{"userId": "user-1", "backupCode": codes[0].(string)})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["verified"])

	rec, body = doJSON(t, h, http.MethodPost, "/regenerate-backup-codes", map[string]string{"userId": "user-1", "token": totp.At(testNow)})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["backupCodes"], twofa.BACKUP_CODE_COUNT)

	rec, body = doJSON(t, h, http.MethodPost, "/disable", map[string]string{"userId": "user-1", "token": totp.At(testNow)})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["disabled"])

	record, err := users.FindByID(t.Context(), "user-1")
	require.NoError(t, err)
	assert.False(t, record.Enabled)
	assert.Empty(t, record.Secret)

	rec, body = doJSON(t, h, http.MethodPost, "/verify", map[string]string{"userId": "user-1", "token": totp.At(testNow)})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", body["error"])
}

func TestHandle_Errors(t *testing.T) {
	h, _ := setupTestServer(t)

	rec, setup := doJSON(t, h, http.MethodPost, "/setup", map[string]string{"userId": "user-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	secret := setup["secret"].(string)

	tests := []struct {
		name   string
		path   string
		body   map[string]string
		status int
		code   string
	}{
		{
			name:   "enable missing fields",
			path:   "/enable",
			body:   map[string]string{"userId": "user-1"},
			status: http.StatusBadRequest,
			code:   "INVALID_INPUT",
		},
		{
			name:   "enable wrong secret",
			path:   "/enable",
			body:   map[string]string{"userId": "user-1", "secret": "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP", "token": "123456"},
			status: http.StatusBadRequest,
			code:   "INVALID_INPUT",
		},
		{
			name:   "enable wrong code",
			path:   "/enable",
			body:   map[string]string{"userId": "user-1", "secret": secret, "token": gotp.NewDefaultTOTP(secret).At(testNow + 120)},
			status: http.StatusUnauthorized,
			code:   "UNAUTHORIZED",
		},
		{
			name:   "disable without enable",
			path:   "/disable",
			body:   map[string]string{"userId": "user-1", "token": gotp.NewDefaultTOTP(secret).At(testNow)},
			status: http.StatusBadRequest,
			code:   "INVALID_INPUT",
		},
		{
			name:   "verify-backup without enable",
			path:   "/verify-backup",
			body:   map[string]string{"userId": "user-1", "backupCode": "deadbeef"},
			status: http.StatusUnauthorized,
			code:   "UNAUTHORIZED",
		},
		{
			name:   "verify-backup missing code",
			path:   "/verify-backup",
			body:   map[string]string{"userId": "user-1"},
			status: http.StatusBadRequest,
			code:   "INVALID_INPUT",
		},
		{
			name:   "regenerate without enable",
			path:   "/regenerate-backup-codes",
			body:   map[string]string{"userId": "user-1", "token": "123456"},
			status: http.StatusBadRequest,
			code:   "INVALID_INPUT",
		},
		{
			name:   "verify unknown principal",
			path:   "/verify",
			body:   map[string]string{"userId": "missing", "token": "123456"},
			status: http.StatusNotFound,
			code:   "NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := doJSON(t, h, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, body["error"])
			assert.NotEmpty(t, body["message"])
		})
	}

	t.Run("status unknown principal", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodGet, "/status/missing", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandle_DebugRoutes(t *testing.T) {
	t.Run("Not mounted by default", func(t *testing.T) {
		h, _ := setupTestServer(t)
		rec, _ := doJSON(t, h, http.MethodGet, "/test/generate-token/user-1", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec, _ = doJSON(t, h, http.MethodPost, "/test/clear-all", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Generate token", func(t *testing.T) {
		h, _ := setupTestServer(t, WithDebugRoutes(true))

		rec, setup := doJSON(t, h, http.MethodPost, "/setup", map[string]string{"userId": "admin-1"})
		require.Equal(t, http.StatusOK, rec.Code)

		rec, body := doJSON(t, h, http.MethodGet, "/test/generate-token/admin-1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "admin-1", body["userId"])
		assert.Equal(t, gotp.NewDefaultTOTP(setup["secret"].(string)).At(testNow), body["token"])
		assert.Equal(t, float64(10), body["expiresIn"])
	})
}

func TestHandle_ClearAll(t *testing.T) {
	tokenAuth := jwtauth.New("HS256", jwtSecret, nil)
	h, users := setupTestServer(t, WithElevatedGuard(client.Elevated(client.Verifier(tokenAuth), "superadmin")))

	enrollViaAPI(t, h, "user-1")

	token := func(roles ...string) string {
		_, tokenString, err := tokenAuth.Encode(map[string]any{
			"sub":   "ops-1",
			"roles": roles,
			"exp":   time.Now().Add(time.Hour).Unix(),
		})
		require.NoError(t, err)
		return tokenString
	}

	rec, _ := doJSON(t, h, http.MethodPost, "/test/clear-all", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = doJSON(t, h, http.MethodPost, "/test/clear-all", nil, "Authorization", "Bearer "+token("admin"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	record, err := users.FindByID(t.Context(), "user-1")
	require.NoError(t, err)
	assert.True(t, record.Enabled)

	rec, body := doJSON(t, h, http.MethodPost, "/test/clear-all", nil, "Authorization", "Bearer "+token("superadmin"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "All 2FA data cleared", body["message"])

	record, err = users.FindByID(t.Context(), "user-1")
	require.NoError(t, err)
	assert.False(t, record.Enabled)
	assert.Empty(t, record.Secret)
}

func TestHandle_Health(t *testing.T) {
	h, _ := setupTestServer(t)

	rec, body := doJSON(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "2fa", body["service"])
	assert.Equal(t, "2023-11-14T22:13:20Z", body["timestamp"])
}
