package auth

import (
	"fmt"
	"net/http"
	"net/url"

	sharedAuth "github.com/forgebuild/forgebuild/backend/internal/auth"
	"github.com/forgebuild/forgebuild/backend/internal/config"
	"github.com/forgebuild/forgebuild/backend/internal/models"
	"github.com/forgebuild/forgebuild/backend/internal/repository"
	"github.com/forgebuild/forgebuild/backend/internal/sso"
	"github.com/forgebuild/forgebuild/backend/internal/sso/saml"
	"github.com/forgebuild/forgebuild/backend/pkg/debug"
	"github.com/forgebuild/forgebuild/backend/pkg/jwt"
)

// Fixed user-visible messages. Validation detail goes to the server logs
// only; nothing from the pipeline is echoed into redirect URLs.
const (
	msgNoResponse  = "No SAML response received"
	msgAuthError   = "SAML authentication error"
	msgDeactivated = "Account is deactivated"
	msgNotLinked   = "No account is linked to this identity"
)

// SAMLHandler serves the SP side of the SAML login flow: login redirect,
// assertion consumer service, and SP metadata.
type SAMLHandler struct {
	cfg         *config.Config
	validator   *saml.Validator
	provisioner *sso.Provisioner
	sessions    *sharedAuth.SessionManager
	userRepo    *repository.UserRepository
	attempts    *repository.LoginAttemptRepository
}

// NewSAMLHandler creates a new SAML handler
func NewSAMLHandler(cfg *config.Config, provisioner *sso.Provisioner, sessions *sharedAuth.SessionManager,
	userRepo *repository.UserRepository, attempts *repository.LoginAttemptRepository) *SAMLHandler {
	return &SAMLHandler{
		cfg:         cfg,
		validator:   saml.NewValidator(&cfg.SAML),
		provisioner: provisioner,
		sessions:    sessions,
		userRepo:    userRepo,
		attempts:    attempts,
	}
}

// HandleLogin initiates the SAML flow: builds an AuthnRequest, parks the
// correlation state in the session, and redirects the browser to the IdP.
func (h *SAMLHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	acsURL := h.resolveACSURL(r)

	redirect, err := saml.BuildLoginRedirect(&h.cfg.SAML, acsURL)
	if err != nil {
		if err == saml.ErrDisabled {
			debug.Info("SAML login attempted while disabled")
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "<html><body><h1>SSO unavailable</h1><p>%s login is not enabled on this server.</p></body></html>",
				h.providerName())
			return
		}
		debug.Error("Failed to build SAML AuthnRequest: %v", err)
		http.Error(w, "Failed to initiate authentication", http.StatusInternalServerError)
		return
	}

	returnTo := r.URL.Query().Get("return_to")
	if !sharedAuth.IsRelativePath(returnTo) {
		returnTo = ""
	}
	h.sessions.SetPendingSAML(w, r, &sharedAuth.PendingSAML{
		RequestID:  redirect.RequestID,
		RelayState: redirect.RelayState,
		ReturnTo:   returnTo,
	})

	debug.Info("Redirecting to SAML IdP with request %s", redirect.RequestID)
	http.Redirect(w, r, redirect.URL, http.StatusFound)
}

// HandleACS consumes the IdP's POST-back. Every outcome, success or not,
// discards the pending request state; the stored request id is single-use.
func (h *SAMLHandler) HandleACS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pending := h.sessions.GetPendingSAML(r)
	h.sessions.ClearPendingSAML(w, r)

	if err := r.ParseForm(); err != nil {
		debug.Warning("Failed to parse SAML ACS form: %v", err)
		h.logAttempt(r, "", false, "malformed_form")
		h.errorRedirect(w, r, msgAuthError)
		return
	}

	samlResponse := r.FormValue("SAMLResponse")
	if samlResponse == "" {
		debug.Warning("SAML ACS callback without SAMLResponse")
		h.logAttempt(r, "", false, "missing_saml_response")
		h.errorRedirect(w, r, msgNoResponse)
		return
	}

	expectedRequestID := ""
	if pending != nil {
		expectedRequestID = pending.RequestID
	}

	result, verr := h.validator.Validate(samlResponse, expectedRequestID)
	if verr != nil {
		debug.Error("SAML validation failed: %v", verr)
		h.logAttempt(r, "", false, string(verr.Reason))
		h.errorRedirect(w, r, msgAuthError)
		return
	}

	identity := sso.ResolveIdentity(result)

	linked, err := h.provisioner.FindLinked(ctx, h.cfg.SAML.IDPEntityID, identity.NameID)
	if err != nil {
		debug.Error("Identity lookup failed: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if linked == nil {
		if !h.cfg.SAML.AutoCreateUsers {
			debug.Info("No linked account for %s and auto-create is off", identity.NameID)
			h.logAttempt(r, "", false, "no_linked_account")
			h.errorRedirect(w, r, msgNotLinked)
			return
		}
		linked, err = h.provisioner.Provision(ctx, identity, &h.cfg.SAML)
		if err != nil {
			debug.Error("Provisioning failed for %s: %v", identity.NameID, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	}

	if !linked.AccountEnabled {
		debug.Warning("SAML login for deactivated account %s", linked.Username)
		h.logAttempt(r, linked.Username, false, "account_disabled")
		h.errorRedirect(w, r, msgDeactivated)
		return
	}

	h.establishSession(w, r, linked, pending)
}

// HandleMetadata serves the SP metadata document
func (h *SAMLHandler) HandleMetadata(w http.ResponseWriter, r *http.Request) {
	metadata, err := saml.GenerateMetadata(&h.cfg.SAML, h.resolveACSURL(r))
	if err != nil {
		debug.Error("Failed to generate SP metadata: %v", err)
		http.Error(w, "Failed to generate metadata", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	w.Write(metadata)
}

func (h *SAMLHandler) establishSession(w http.ResponseWriter, r *http.Request, user *models.LinkedUser, pending *sharedAuth.PendingSAML) {
	token, err := jwt.GenerateToken(user.ID.String(), user.Role, h.cfg.JWTExpiryMinutes)
	if err != nil {
		debug.Error("Failed to generate session token: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if err := h.userRepo.UpdateLastLogin(r.Context(), user.ID); err != nil {
		debug.Warning("Failed to stamp last login for %s: %v", user.Username, err)
	}

	sharedAuth.SetAuthCookie(w, r, token, h.cfg.JWTExpiryMinutes*60)
	h.logAttempt(r, user.Username, true, "")

	dest := "/"
	if pending != nil && sharedAuth.IsRelativePath(pending.ReturnTo) {
		dest = pending.ReturnTo
	}
	debug.Info("SAML login succeeded for %s", user.Username)
	http.Redirect(w, r, dest, http.StatusSeeOther)
}

func (h *SAMLHandler) errorRedirect(w http.ResponseWriter, r *http.Request, message string) {
	http.Redirect(w, r, "/login?error="+url.QueryEscape(message), http.StatusSeeOther)
}

// resolveACSURL prefers the configured override, else derives the ACS
// endpoint from the incoming request's scheme and host.
func (h *SAMLHandler) resolveACSURL(r *http.Request) string {
	if h.cfg.SAML.ACSURL != "" {
		return h.cfg.SAML.ACSURL
	}
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + "/auth/saml/acs"
}

func (h *SAMLHandler) providerName() string {
	if h.cfg.SAML.ProviderName != "" {
		return h.cfg.SAML.ProviderName
	}
	return "SAML"
}

func (h *SAMLHandler) logAttempt(r *http.Request, username string, success bool, reason string) {
	ip, agent := sharedAuth.GetClientInfo(r)
	h.attempts.Record(r.Context(), &models.LoginAttempt{
		Username:      username,
		IPAddress:     ip,
		UserAgent:     agent,
		Success:       success,
		FailureReason: reason,
		ProviderName:  h.providerName(),
	})
}
