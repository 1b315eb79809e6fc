package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"ownide/internal/sandbox/model"
	"ownide/internal/sandbox/service"
	"ownide/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	visitorContextKey = "visitor"
	guestPrefix       = "guest_"

	defaultCookieName   = "guest_id"
	defaultCookieMaxAge = 30 * 24 * time.Hour
)

// VisitorConfig controls the anonymous identity cookie.
type VisitorConfig struct {
	CookieName string        `yaml:"cookieName"`
	MaxAge     time.Duration `yaml:"maxAge"`
	Secure     bool          `yaml:"secure"`
}

// VisitorMiddleware resolves who is calling. A valid bearer token wins;
// otherwise the guest cookie is reused, or a new one is minted and set.
func VisitorMiddleware(authService *service.AuthService, cfg VisitorConfig) gin.HandlerFunc {
	if cfg.CookieName == "" {
		cfg.CookieName = defaultCookieName
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultCookieMaxAge
	}
	return func(c *gin.Context) {
		visitor := resolveVisitor(c, authService, cfg)
		c.Set(visitorContextKey, visitor)
		ctx := context.WithValue(c.Request.Context(), contextkey.UserID, visitor.ID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// VisitorFrom returns the visitor resolved for this request.
func VisitorFrom(c *gin.Context) (model.Visitor, bool) {
	value, ok := c.Get(visitorContextKey)
	if !ok {
		return model.Visitor{}, false
	}
	visitor, ok := value.(model.Visitor)
	return visitor, ok
}

func resolveVisitor(c *gin.Context, authService *service.AuthService, cfg VisitorConfig) model.Visitor {
	if token := extractBearerToken(c.GetHeader("Authorization")); token != "" {
		if info, ok := authService.OptionalAuthenticate(c.Request.Context(), token); ok {
			return model.Visitor{ID: info.ID, Authenticated: true}
		}
	}
	if raw, err := c.Cookie(cfg.CookieName); err == nil && validGuestID(raw) {
		return model.Visitor{ID: raw}
	}

	guestID := guestPrefix + uuid.NewString()
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     cfg.CookieName,
		Value:    guestID,
		Path:     "/",
		MaxAge:   int(cfg.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return model.Visitor{ID: guestID}
}

func validGuestID(raw string) bool {
	rest, ok := strings.CutPrefix(raw, guestPrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil && len(rest) == 36
}

func extractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
