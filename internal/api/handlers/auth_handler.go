package handlers

import (
	"context"
	stderrors "errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"clientportal/internal/api/middleware"
	"clientportal/internal/engine/directory"
	"clientportal/internal/engine/magiclink"
	"clientportal/internal/pkg/errors"
	"clientportal/internal/pkg/parser"
	"clientportal/internal/pkg/validator"
	"clientportal/internal/platform/audit"
	"clientportal/internal/platform/auth"
	"clientportal/internal/platform/models"
	"clientportal/internal/platform/notify"
)

// GenericLinkMessage is returned by request-link whether or not a link was
// sent, so the response never reveals which emails have portal access.
const GenericLinkMessage = "If this email is registered, you will receive a login link shortly."

const backgroundTimeout = 10 * time.Second

// Directory resolves identities and organizations for login.
type Directory interface {
	FindIdentityByEmail(ctx context.Context, email string) directory.IdentityResult
	FindOrgForIdentity(ctx context.Context, identityID string) directory.OrgResult
	TouchLastLogin(ctx context.Context, identityID string, at time.Time) error
}

type AuthHandler struct {
	directory   Directory
	issuer      *magiclink.Issuer
	verifier    *magiclink.Verifier
	sessions    *auth.SessionService
	cookies     *auth.CookieStore
	sender      notify.Sender
	audit       *audit.Logger
	tokenTTL    time.Duration
	minDuration time.Duration

	wg sync.WaitGroup
}

type AuthHandlerConfig struct {
	Directory Directory
	Issuer    *magiclink.Issuer
	Verifier  *magiclink.Verifier
	Sessions  *auth.SessionService
	Cookies   *auth.CookieStore
	Sender    notify.Sender
	Audit     *audit.Logger
	// TokenTTL is only used to word the login email.
	TokenTTL time.Duration
	// MinDuration pads every request-link response to at least this long.
	MinDuration time.Duration
}

func NewAuthHandler(cfg AuthHandlerConfig) *AuthHandler {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &AuthHandler{
		directory:   cfg.Directory,
		issuer:      cfg.Issuer,
		verifier:    cfg.Verifier,
		sessions:    cfg.Sessions,
		cookies:     cfg.Cookies,
		sender:      cfg.Sender,
		audit:       cfg.Audit,
		tokenTTL:    ttl,
		minDuration: cfg.MinDuration,
	}
}

// Wait blocks until background last-login updates have finished.
func (h *AuthHandler) Wait() {
	h.wg.Wait()
}

type RequestLinkRequest struct {
	Email string `json:"email"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type VerifiedUser struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	OrgName   string `json:"orgName"`
}

type VerifyResponse struct {
	Success bool         `json:"success"`
	User    VerifiedUser `json:"user"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

func (h *AuthHandler) RequestLink(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req RequestLinkRequest
	if !decodeBody(w, r, maxLinkRequestBytes, &req) {
		return
	}

	email := validator.NormalizeEmail(req.Email)
	if err := validator.ValidateEmail(email); err != nil {
		msg := "Invalid email address"
		if stderrors.Is(err, validator.ErrEmailRequired) {
			msg = "Email is required"
		}
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, msg, nil)
		return
	}

	outcome, sendErr := h.issueLink(r, email)

	h.record(r, audit.Entry{
		Action:   audit.ActionLinkRequested,
		Email:    email,
		Metadata: map[string]interface{}{"outcome": outcome},
	})

	h.pad(r.Context(), start)

	if stderrors.Is(sendErr, notify.ErrSinkRejected) {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeUpstream, "Failed to send login email", nil)
		return
	}
	errors.WriteJSON(w, http.StatusOK, MessageResponse{Message: GenericLinkMessage})
}

// issueLink runs the eligibility checks and sends the link. The outcome is
// for the audit trail only; callers must not let it shape the response.
func (h *AuthHandler) issueLink(r *http.Request, email string) (string, error) {
	ctx := r.Context()
	logger := log.With().Str("email", email).Logger()

	idRes := h.directory.FindIdentityByEmail(ctx, email)
	if idRes.Err != nil {
		logger.Warn().Err(idRes.Err).Msg("identity lookup failed")
		return "directory_error", nil
	}
	if !idRes.Found {
		return directory.ErrIdentityNotFound.Error(), nil
	}
	if err := directory.CheckIdentity(idRes.Identity); err != nil {
		return err.Error(), nil
	}

	orgRes := h.directory.FindOrgForIdentity(ctx, idRes.Identity.ID)
	if orgRes.Err != nil {
		logger.Warn().Err(orgRes.Err).Str("identity_id", idRes.Identity.ID).Msg("organization lookup failed")
		return "directory_error", nil
	}
	var org *models.Organization
	if orgRes.Found {
		org = orgRes.Org
	}
	if err := directory.CheckEligibility(idRes.Identity, org); err != nil {
		return err.Error(), nil
	}

	token, err := h.issuer.Issue(ctx, email, idRes.Identity.ID, org.ID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create login token")
		return "storage_error", nil
	}

	body, err := notify.LoginEmail{
		FirstName: idRes.Identity.FirstName,
		OrgName:   org.Name,
		Link:      h.issuer.BuildVerificationURL(token.Token),
		TTL:       h.tokenTTL,
	}.Render()
	if err != nil {
		logger.Error().Err(err).Msg("failed to render login email")
		return "render_error", nil
	}

	if err := h.sender.Send(ctx, email, notify.LoginSubject, body); err != nil {
		logger.Error().Err(err).Str("token_id", token.ID).Msg("failed to send login email")
		return "send_failed", err
	}

	h.record(r, audit.Entry{
		Action:     audit.ActionLinkIssued,
		Email:      email,
		IdentityID: idRes.Identity.ID,
		OrgID:      org.ID,
		Metadata:   map[string]interface{}{"token_id": token.ID},
	})
	logger.Info().Str("token_id", token.ID).Msg("login link sent")
	return "sent", nil
}

// pad holds the response until minDuration has passed since start so that
// the ineligible paths cannot be told apart by timing.
func (h *AuthHandler) pad(ctx context.Context, start time.Time) {
	remaining := h.minDuration - time.Since(start)
	if remaining <= 0 {
		return
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := r.URL.Query().Get("token")
	if token == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Missing token", nil)
		return
	}

	verified, err := h.verifier.Verify(ctx, token)
	if err != nil {
		if magiclink.IsTokenFailure(err) {
			h.record(r, audit.Entry{Action: audit.ActionVerifyFailed, Metadata: map[string]interface{}{"reason": err.Error()}})
			status, code, msg := tokenFailure(err)
			errors.WriteError(w, status, code, msg, nil)
			return
		}
		log.Error().Err(err).Msg("token verification failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Internal server error", nil)
		return
	}

	logger := log.With().Str("email", verified.Email).Logger()

	// Entitlement may have changed since the link was sent; resolve it again.
	idRes := h.directory.FindIdentityByEmail(ctx, verified.Email)
	if idRes.Err != nil {
		logger.Error().Err(idRes.Err).Msg("identity lookup failed during verify")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeUpstream, "Unable to verify account", nil)
		return
	}
	var identity *models.Identity
	if idRes.Found {
		identity = idRes.Identity
	}

	var org *models.Organization
	if identity != nil && identity.PortalEnabled {
		orgRes := h.directory.FindOrgForIdentity(ctx, identity.ID)
		if orgRes.Err != nil {
			logger.Error().Err(orgRes.Err).Str("identity_id", identity.ID).Msg("organization lookup failed during verify")
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeUpstream, "Unable to verify account", nil)
			return
		}
		if orgRes.Found {
			org = orgRes.Org
		}
	}

	if err := directory.CheckEligibility(identity, org); err != nil {
		h.record(r, audit.Entry{
			Action:     audit.ActionVerifyFailed,
			Email:      verified.Email,
			IdentityID: verified.IdentityID,
			OrgID:      verified.OrgID,
			Metadata:   map[string]interface{}{"reason": err.Error()},
		})
		status, code := http.StatusBadRequest, errors.ErrCodeNotEligible
		if directory.IsEntitlementDenied(err) {
			status, code = http.StatusForbidden, errors.ErrCodeForbidden
		}
		errors.WriteError(w, status, code, eligibilityMessage(err), nil)
		return
	}

	session := models.NewPortalSession(identity, org)
	credential, err := h.sessions.Mint(session)
	if err != nil {
		logger.Error().Err(err).Msg("failed to mint session")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Internal server error", nil)
		return
	}
	h.cookies.Persist(w, credential)

	h.touchLastLogin(identity.ID)

	h.record(r, audit.Entry{
		Action:     audit.ActionVerified,
		Email:      identity.Email,
		IdentityID: identity.ID,
		OrgID:      org.ID,
	})
	logger.Info().Str("identity_id", identity.ID).Str("org_id", org.ID).Msg("portal login verified")

	errors.WriteJSON(w, http.StatusOK, VerifyResponse{
		Success: true,
		User: VerifiedUser{
			Email:     session.Email,
			FirstName: session.FirstName,
			LastName:  session.LastName,
			OrgName:   session.OrgName,
		},
	})
}

// touchLastLogin updates the directory in the background. It outlives the
// request, so it gets its own deadline; failures are only logged.
func (h *AuthHandler) touchLastLogin(identityID string) {
	at := time.Now()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()

		if err := h.directory.TouchLastLogin(ctx, identityID, at); err != nil {
			log.Warn().Err(err).Str("identity_id", identityID).Msg("failed to update last login")
		}
	}()
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	entry := audit.Entry{Action: audit.ActionLogout}
	if credential, ok := h.cookies.Retrieve(r); ok {
		if session := h.sessions.Validate(credential); session != nil {
			entry.Email = session.Email
			entry.IdentityID = session.IdentityID
			entry.OrgID = session.OrgID
		}
	}

	h.cookies.Clear(w)
	h.record(r, entry)

	errors.WriteJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (h *AuthHandler) record(r *http.Request, e audit.Entry) {
	e.IPAddress = middleware.ClientIPFromContext(r.Context())
	e.UserAgent = r.UserAgent()
	if e.UserAgent != "" {
		if e.Metadata == nil {
			e.Metadata = map[string]interface{}{}
		}
		e.Metadata["client"] = parser.ParseUserAgent(e.UserAgent).String()
	}
	h.audit.Log(e)
}

func tokenFailure(err error) (int, string, string) {
	switch {
	case stderrors.Is(err, magiclink.ErrTokenAlreadyUsed):
		return http.StatusBadRequest, errors.ErrCodeTokenUsed, "This login link has already been used"
	case stderrors.Is(err, magiclink.ErrTokenExpired):
		return http.StatusBadRequest, errors.ErrCodeTokenExpired, "This login link has expired"
	default:
		return http.StatusBadRequest, errors.ErrCodeInvalidToken, "Invalid login link"
	}
}

func eligibilityMessage(err error) string {
	switch {
	case stderrors.Is(err, directory.ErrIdentityNotFound):
		return "Contact not found"
	case stderrors.Is(err, directory.ErrIdentityPortalDisabled):
		return "Portal access is not enabled for your account"
	case stderrors.Is(err, directory.ErrOrgNotFound):
		return "No company is associated with your account"
	case stderrors.Is(err, directory.ErrOrgPortalDisabled):
		return "Portal access is not enabled for your company"
	default:
		return "Portal is not fully configured for your company"
	}
}
