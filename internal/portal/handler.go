package portal

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"time"

	"cargo_portal/internal/audit"
	"cargo_portal/internal/common"
	"cargo_portal/internal/platform/crypto"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	loginTemplate   = "login.html"
	sessionKeyBytes = 24
)

// LoadTemplates parses the embedded page templates for gin's HTML renderer.
func LoadTemplates() (*template.Template, error) {
	return template.ParseFS(templateFS, "templates/*.html")
}

// Handler serves the sign-in page and its JSON counterpart.
type Handler struct {
	coordinator *Coordinator
	logger      *zap.Logger
	now         func() time.Time
}

// NewHandler creates a new portal handler.
func NewHandler(coordinator *Coordinator, logger *zap.Logger) *Handler {
	return &Handler{
		coordinator: coordinator,
		logger:      logger.Named("PortalHandler"),
		now:         time.Now,
	}
}

// RegisterPageRoutes sets up the browser-facing routes. limit guards the
// form submission.
func (h *Handler) RegisterPageRoutes(router gin.IRoutes, limit gin.HandlerFunc) {
	router.GET("/", h.showLogin)
	router.POST("/login", limit, h.submitLogin)
}

// RegisterRoutes sets up the JSON routes under the given API group.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup, limit gin.HandlerFunc) {
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", limit, h.login)
	}
}

func (h *Handler) showLogin(c *gin.Context) {
	h.sessionKey(c)
	h.render(c, http.StatusOK, loginPage{})
}

func (h *Handler) submitLogin(c *gin.Context) {
	var form LoginForm
	if err := c.ShouldBind(&form); err != nil {
		h.logger.Warn("Login form: invalid submission", zap.Error(err))
		message := "Please enter your email and password."
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			message = common.ValidationSummary(ve)
		}
		h.render(c, http.StatusUnprocessableEntity, loginPage{Email: form.Email, Error: message})
		return
	}

	outcome, err := h.coordinator.SignIn(h.requestContext(c), h.sessionKey(c), Credentials{
		Email:    form.Email,
		Password: form.Password,
	})
	if err != nil {
		apiErr := apiErrorFor(err)
		h.render(c, apiErr.StatusCode, loginPage{Email: form.Email, Error: apiErr.Message})
		return
	}

	c.Redirect(http.StatusSeeOther, outcome.RedirectURL)
}

func (h *Handler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Login: Invalid request body", zap.Error(err))
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			common.RespondWithError(c, common.NewValidationAPIError(common.FormatValidationErrors(ve)))
			return
		}
		common.RespondWithError(c, common.ErrBadRequest.WithDetails(err.Error()))
		return
	}

	key, _ := c.Cookie(common.SessionCookieName)
	outcome, err := h.coordinator.SignIn(h.requestContext(c), key, Credentials{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		common.RespondWithError(c, apiErrorFor(err))
		return
	}

	common.RespondOK(c, "Sign-in successful.", LoginResponse{
		RedirectURL: outcome.RedirectURL,
		Target:      outcome.Target,
		Role:        string(outcome.Me.Role),
	})
}

// RenderRateLimited answers a throttled form submission with the login page
// and an inline message instead of a JSON body.
func (h *Handler) RenderRateLimited(c *gin.Context) {
	h.render(c, common.ErrTooManyRequests.StatusCode, loginPage{
		Email: c.PostForm("email"),
		Error: common.ErrTooManyRequests.Message,
	})
}

func (h *Handler) render(c *gin.Context, status int, page loginPage) {
	page.Year = h.now().Year()
	c.HTML(status, loginTemplate, page)
}

// sessionKey returns the browser's portal_sid, issuing one if needed.
func (h *Handler) sessionKey(c *gin.Context) string {
	if key, err := c.Cookie(common.SessionCookieName); err == nil && key != "" {
		return key
	}
	key, err := crypto.RandomToken(sessionKeyBytes)
	if err != nil {
		h.logger.Error("Failed to generate session key, falling back to uuid", zap.Error(err))
		key = uuid.NewString()
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(common.SessionCookieName, key, 0, "/", "", c.Request.TLS != nil, true)
	return key
}

func (h *Handler) requestContext(c *gin.Context) context.Context {
	return audit.WithRequestMeta(c.Request.Context(), audit.RequestMeta{
		ClientIP:  c.ClientIP(),
		RequestID: common.GetRequestID(c),
	})
}

// apiErrorFor maps a sign-in failure to its HTTP form. The message is the
// failure's own text, the same one the page shows inline.
func apiErrorFor(err error) *common.APIError {
	if errors.Is(err, ErrSubmissionInFlight) {
		return common.NewAPIError(http.StatusConflict, "SUBMISSION_IN_FLIGHT", "A sign-in is already in progress. Please wait.")
	}

	var signInErr *SignInError
	if !errors.As(err, &signInErr) {
		return common.ErrInternalServer
	}

	var apiErr *common.APIError
	switch signInErr.Kind {
	case FailureCredentials, FailureSessionMissing:
		apiErr = common.NewAPIError(http.StatusUnauthorized, "INVALID_CREDENTIALS", signInErr.Error())
	case FailureUnknownRole:
		apiErr = common.NewAPIError(http.StatusForbidden, "ROLE_NOT_PERMITTED", signInErr.Error())
	case FailureConfig:
		apiErr = common.NewAPIError(http.StatusServiceUnavailable, "CONFIGURATION_ERROR", signInErr.Error())
	default:
		apiErr = common.NewAPIError(http.StatusBadGateway, "UPSTREAM_ERROR", signInErr.Error())
	}

	details := gin.H{"kind": signInErr.Kind}
	if signInErr.Status != 0 {
		details["upstream_status"] = signInErr.Status
	}
	return apiErr.WithDetails(details)
}
