// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package api

import (
	"net/http"
	"net/mail"
	"strings"

	"github.com/relabs-tech/granja/core/logger"
	"github.com/relabs-tech/granja/core/resource"
)

// MinPasswordLength is the minimum length of a new password
const MinPasswordLength = 8

// PasswordResetRequest asks for a password reset mail
type PasswordResetRequest struct {
	Email string `json:"email"`
}

// PasswordResetConfirmation sets a new password
type PasswordResetConfirmation struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

func (a *API) handleAuth() {
	nillog := logger.FromContext(nil)
	nillog.Debugln("  handle auth routes: /api/auth/password-reset[/confirm] POST")
	a.router.HandleFunc("/api/auth/password-reset", a.requestPasswordReset).Methods(http.MethodPost)
	a.router.HandleFunc("/api/auth/password-reset/confirm", a.confirmPasswordReset).Methods(http.MethodPost)
}

func (req PasswordResetRequest) check() error {
	email := strings.TrimSpace(req.Email)
	if email == "" {
		return resource.NewValidationError("el correo electrónico es obligatorio", map[string]string{"email": "required"})
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return resource.NewValidationError("el correo electrónico no es válido", map[string]string{"email": "must be a valid email address"})
	}
	return nil
}

func (c PasswordResetConfirmation) check() error {
	fields := map[string]string{}
	if strings.TrimSpace(c.Token) == "" {
		fields["token"] = "required"
	}
	if len(c.Password) < MinPasswordLength {
		fields["password"] = "must have at least 8 characters"
	}
	if c.Password != c.PasswordConfirm {
		fields["passwordConfirm"] = "passwords do not match"
	}
	if len(fields) > 0 {
		return resource.NewValidationError("no se puede cambiar la contraseña", fields)
	}
	return nil
}

func (a *API) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	body, _, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req PasswordResetRequest
	if err := decodeJSON(body, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.check(); err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.accounts.RequestPasswordReset(r.Context(), strings.TrimSpace(req.Email)); err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 5010: request password reset")
		writeError(w, r, resource.FromRemote(err))
		return
	}
	writeData(w, r, http.StatusOK, nil, "se ha enviado un correo para restablecer la contraseña")
}

func (a *API) confirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	body, _, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var c PasswordResetConfirmation
	if err := decodeJSON(body, &c); err != nil {
		writeError(w, r, err)
		return
	}
	if err := c.check(); err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.accounts.ConfirmPasswordReset(r.Context(), c.Token, c.Password, c.PasswordConfirm); err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 5011: confirm password reset")
		writeError(w, r, resource.FromRemote(err))
		return
	}
	writeData(w, r, http.StatusOK, nil, "la contraseña se ha cambiado")
}
