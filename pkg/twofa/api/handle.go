package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/jinzhu/copier"
	twofaerrors "github.com/tendant/simple-twofa/pkg/errors"
	"github.com/tendant/simple-twofa/pkg/twofa"
)

const SERVICE_NAME = "2fa"

// Routes that accept a guessable code, for stricter rate limits
var VerifyRoutes = []string{
	"POST /verify",
	"POST /verify-backup",
	"POST /enable",
	"POST /disable",
	"POST /regenerate-backup-codes",
}

type Handle struct {
	twoFaService twofa.TwoFactorService
	debugRoutes  bool
	elevated     func(http.Handler) http.Handler
	now          func() time.Time
}

type Option func(*Handle)

// WithDebugRoutes mounts /test/generate-token, which reveals live codes
func WithDebugRoutes(enabled bool) Option {
	return func(h *Handle) {
		h.debugRoutes = enabled
	}
}

// WithElevatedGuard mounts /test/clear-all behind guard. Without a guard the route does not exist.
func WithElevatedGuard(guard func(http.Handler) http.Handler) Option {
	return func(h *Handle) {
		h.elevated = guard
	}
}

// NewHandle creates a new Handle
func NewHandle(twoFaService twofa.TwoFactorService, opts ...Option) *Handle {
	h := &Handle{
		twoFaService: twoFaService,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// TwoFaHandler returns a http.Handler for the 2FA API
func TwoFaHandler(h *Handle) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", h.GetHealth)
	r.Post("/setup", h.PostSetup)
	r.Post("/enable", h.PostEnable)
	r.Post("/verify", h.PostVerify)
	r.Post("/disable", h.PostDisable)
	r.Get("/status/{userId}", h.GetStatus)
	r.Post("/verify-backup", h.PostVerifyBackup)
	r.Post("/regenerate-backup-codes", h.PostRegenerateBackupCodes)

	if h.debugRoutes {
		slog.Warn("2FA debug routes enabled")
		r.Get("/test/generate-token/{userId}", h.GetGenerateToken)
	}
	if h.elevated != nil {
		r.With(h.elevated).Post("/test/clear-all", h.PostClearAll)
	}

	return r
}

type (
	SetupRequest struct {
		UserID string `json:"userId"`
		Email  string `json:"email,omitempty"`
	}

	SetupResponse struct {
		Secret         string `json:"secret"`
		QRCodeURL      string `json:"qrCodeUrl"`
		ManualEntryKey string `json:"manualEntryKey"`
		UserID         string `json:"userId"`
	}

	EnableRequest struct {
		UserID string `json:"userId"`
		Secret string `json:"secret"`
		Token  string `json:"token"`
	}

	EnableResponse struct {
		Enabled     bool     `json:"enabled"`
		Message     string   `json:"message"`
		BackupCodes []string `json:"backupCodes"`
	}

	// TokenRequest is the body of every TOTP-protected operation
	TokenRequest struct {
		UserID string `json:"userId"`
		Token  string `json:"token"`
	}

	VerifyResponse struct {
		Verified bool   `json:"verified"`
		Message  string `json:"message"`
	}

	DisableResponse struct {
		Disabled bool   `json:"disabled"`
		Message  string `json:"message"`
	}

	StatusResponse struct {
		Enabled              bool `json:"enabled"`
		HasSecret            bool `json:"hasSecret"`
		RemainingBackupCodes int  `json:"remainingBackupCodes"`
	}

	VerifyBackupRequest struct {
		UserID     string `json:"userId"`
		BackupCode string `json:"backupCode"`
	}

	RegenerateResponse struct {
		BackupCodes []string `json:"backupCodes"`
		Message     string   `json:"message"`
	}

	GenerateTokenResponse struct {
		UserID    string `json:"userId"`
		Token     string `json:"token"`
		ExpiresIn int    `json:"expiresIn"`
	}

	MessageResponse struct {
		Message string `json:"message"`
	}

	HealthResponse struct {
		Status    string `json:"status"`
		Service   string `json:"service"`
		Timestamp string `json:"timestamp"`
	}

	ErrorResponse struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
)

func decodeRequest(r *http.Request, v any) error {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		return twofaerrors.BadRequest("unable to parse body")
	}
	return nil
}

type field struct {
	name  string
	value string
}

// requireFields rejects blank required body fields, listing them in order
func requireFields(fields ...field) error {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return twofaerrors.Newf(twofaerrors.ErrCodeInvalidInput, "missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

func renderError(w http.ResponseWriter, r *http.Request, err error) {
	code := twofaerrors.GetCode(err)
	status := twofaerrors.MapErrorCodeToHTTPStatus(code)

	message := "internal server error"
	var e *twofaerrors.Error
	if errors.As(err, &e) {
		message = e.Message
		if retryAfter, ok := e.Details["retry_after"].(string); ok {
			if d, parseErr := time.ParseDuration(retryAfter); parseErr == nil {
				w.Header().Set("Retry-After", strconv.Itoa(int(d.Seconds())))
			}
		}
	}

	if status >= http.StatusInternalServerError {
		slog.Error("2FA request failed", "path", r.URL.Path, "code", code, "error", err)
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: string(code), Message: message})
}

// Start TOTP enrollment
// (POST /setup)
func (h *Handle) PostSetup(w http.ResponseWriter, r *http.Request) {
	data := SetupRequest{}
	if err := decodeRequest(r, &data); err != nil {
		renderError(w, r, err)
		return
	}
	if err := requireFields(field{"userId", data.UserID}); err != nil {
		renderError(w, r, err)
		return
	}

	prov, err := h.twoFaService.GenerateSecret(r.Context(), data.UserID, data.Email)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.JSON(w, r, SetupResponse{
		Secret:         prov.Secret,
		QRCodeURL:      prov.QRCodeURL,
		ManualEntryKey: prov.ManualEntryKey,
		UserID:         data.UserID,
	})
}

// Confirm enrollment and issue backup codes
// (POST /enable)
func (h *Handle) PostEnable(w http.ResponseWriter, r *http.Request) {
	data := EnableRequest{}
	if err := decodeRequest(r, &data); err != nil {
		renderError(w, r, err)
		return
	}
	if err := requireFields(field{"userId", data.UserID}, field{"secret", data.Secret}, field{"token", data.Token}); err != nil {
		renderError(w, r, err)
		return
	}

	enrollment, err := h.twoFaService.Enable(r.Context(), data.UserID, data.Secret, data.Token)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.JSON(w, r, EnableResponse{
		Enabled:     enrollment.Enabled,
		Message:     "2FA enabled successfully. Store these backup codes in a safe place.",
		BackupCodes: enrollment.BackupCodes,
	})
}

// Check a TOTP code
// (POST /verify)
func (h *Handle) PostVerify(w http.ResponseWriter, r *http.Request) {
	data, ok := h.decodeTokenRequest(w, r)
	if !ok {
		return
	}

	valid, err := h.twoFaService.Verify(r.Context(), data.UserID, data.Token)
	if err != nil {
		renderError(w, r, err)
		return
	}

	resp := VerifyResponse{Verified: valid, Message: "Token verified successfully"}
	if !valid {
		resp.Message = "Invalid token"
	}
	render.JSON(w, r, resp)
}

// Turn 2FA off
// (POST /disable)
func (h *Handle) PostDisable(w http.ResponseWriter, r *http.Request) {
	data, ok := h.decodeTokenRequest(w, r)
	if !ok {
		return
	}

	disabled, err := h.twoFaService.Disable(r.Context(), data.UserID, data.Token)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.JSON(w, r, DisableResponse{Disabled: disabled, Message: "2FA disabled successfully"})
}

// (GET /status/{userId})
func (h *Handle) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	status, err := h.twoFaService.Status(r.Context(), userID)
	if err != nil {
		renderError(w, r, err)
		return
	}

	resp := StatusResponse{}
	if err := copier.Copy(&resp, &status); err != nil {
		renderError(w, r, twofaerrors.InternalWrap(err, "failed to build status response"))
		return
	}
	render.JSON(w, r, resp)
}

// Use a backup code in place of a TOTP code
// (POST /verify-backup)
func (h *Handle) PostVerifyBackup(w http.ResponseWriter, r *http.Request) {
	data := VerifyBackupRequest{}
	if err := decodeRequest(r, &data); err != nil {
		renderError(w, r, err)
		return
	}
	if err := requireFields(field{"userId", data.UserID}, field{"backupCode", data.BackupCode}); err != nil {
		renderError(w, r, err)
		return
	}

	valid, err := h.twoFaService.VerifyBackupCode(r.Context(), data.UserID, data.BackupCode)
	if err != nil {
		renderError(w, r, err)
		return
	}

	resp := VerifyResponse{Verified: valid, Message: "Backup code verified successfully"}
	if !valid {
		resp.Message = "Invalid backup code"
	}
	render.JSON(w, r, resp)
}

// (POST /regenerate-backup-codes)
func (h *Handle) PostRegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	data, ok := h.decodeTokenRequest(w, r)
	if !ok {
		return
	}

	codes, err := h.twoFaService.RegenerateBackupCodes(r.Context(), data.UserID, data.Token)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.JSON(w, r, RegenerateResponse{
		BackupCodes: codes,
		Message:     "Backup codes regenerated successfully. Previous codes are no longer valid.",
	})
}

// Current code for a principal, for manual testing only
// (GET /test/generate-token/{userId})
func (h *Handle) GetGenerateToken(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	token, expiresIn, err := h.twoFaService.GenerateCurrentPasscode(r.Context(), userID)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.JSON(w, r, GenerateTokenResponse{
		UserID:    userID,
		Token:     token,
		ExpiresIn: int(expiresIn.Seconds()),
	})
}

// Reset 2FA for every principal
// (POST /test/clear-all)
func (h *Handle) PostClearAll(w http.ResponseWriter, r *http.Request) {
	if err := h.twoFaService.ClearAll(r.Context()); err != nil {
		renderError(w, r, err)
		return
	}

	render.JSON(w, r, MessageResponse{Message: "All 2FA data cleared"})
}

// (GET /health)
func (h *Handle) GetHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, HealthResponse{
		Status:    "ok",
		Service:   SERVICE_NAME,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

func (h *Handle) decodeTokenRequest(w http.ResponseWriter, r *http.Request) (TokenRequest, bool) {
	data := TokenRequest{}
	if err := decodeRequest(r, &data); err != nil {
		renderError(w, r, err)
		return data, false
	}
	if err := requireFields(field{"userId", data.UserID}, field{"token", data.Token}); err != nil {
		renderError(w, r, err)
		return data, false
	}
	return data, true
}
