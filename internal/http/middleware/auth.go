package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/pdfsum-backend/internal/http/response"
	"github.com/yungbote/pdfsum-backend/internal/platform/ctxutil"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

// HeaderUserID carries the caller resolved by the gateway in front of the API.
const HeaderUserID = "X-User-ID"

type AuthMiddleware struct {
	log *logger.Logger
}

func NewAuthMiddleware(log *logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{log: log.With("middleware", "AuthMiddleware")}
}

// RequireUser scopes the request to the caller named by X-User-ID.
// Every document, job and usage query downstream filters on that id.
func (am *AuthMiddleware) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := parseUserID(c.GetHeader(HeaderUserID))
		if err != nil {
			am.log.WithContext(c.Request.Context()).Debug("Rejected caller", "path", c.Request.URL.Path, "reason", err.Error())
			response.RespondError(c, http.StatusUnauthorized, "unauthorized", err)
			c.Abort()
			return
		}
		c.Request = c.Request.WithContext(ctxutil.WithUser(c.Request.Context(), userID))
		c.Set("user_id", userID.String())
		c.Next()
	}
}

func parseUserID(raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("missing %s header", HeaderUserID)
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid %s header", HeaderUserID)
	}
	return id, nil
}
