package httpapi

import (
	"net/http"
	"strings"

	"slotwise.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type sessionResponse struct {
	auth.TokenPair
	User        auth.User `json:"user"`
	Permissions []string  `json:"permissions"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	fields := map[string]string{}
	if strings.TrimSpace(req.Email) == "" {
		fields["email"] = "email is required"
	}
	if req.Password == "" {
		fields["password"] = "password is required"
	}
	if len(fields) > 0 {
		writeFieldErrors(w, r, fields)
		return
	}

	pair, principal, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	a.audit(r.Context(), "auth.login", map[string]any{"user_id": principal.User.ID})
	writeJSON(w, http.StatusOK, sessionResponse{
		TokenPair:   pair,
		User:        *principal.User,
		Permissions: principal.PermissionList(),
	})
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	fields := map[string]string{}
	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		fields["email"] = "a valid email is required"
	}
	if strength := auth.PasswordStrength(req.Password); strength.Score < auth.MinRegistrationScore {
		fields["password"] = "password too weak: " + strings.Join(strength.Feedback, ", ")
	}
	if len(fields) > 0 {
		writeFieldErrors(w, r, fields)
		return
	}

	user, err := a.auth.Register(r.Context(), req.Email, req.Password, req.FirstName, req.LastName)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	a.audit(r.Context(), "auth.register", map[string]any{"user_id": user.ID})
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, principal, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		// A spent or forged refresh token means the session is over.
		writeError(w, r, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		TokenPair:   pair,
		User:        *principal.User,
		Permissions: principal.PermissionList(),
	})
}

func (a *API) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.VerifyEmail(r.Context(), req.Token); err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.email_verified", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.ResendVerification(r.Context(), req.Email); err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		handleDomainError(w, r, err)
		return
	}
	// Always accepted, whether or not the email has an account.
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetConfirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strength := auth.PasswordStrength(req.NewPassword); strength.Score < auth.MinRegistrationScore {
		writeFieldErrors(w, r, map[string]string{
			"new_password": "password too weak: " + strings.Join(strength.Feedback, ", "),
		})
		return
	}
	if err := a.auth.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.password_reset", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strength := auth.PasswordStrength(req.NewPassword); strength.Score < auth.MinRegistrationScore {
		writeFieldErrors(w, r, map[string]string{
			"new_password": "password too weak: " + strings.Join(strength.Feedback, ", "),
		})
		return
	}
	if err := a.auth.ChangePassword(r.Context(), principal.User.ID, req.CurrentPassword, req.NewPassword); err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.password_changed", map[string]any{"user_id": principal.User.ID})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	user, err := a.dir.GetUser(r.Context(), principal.User.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":        user,
		"permissions": principal.PermissionList(),
	})
}
