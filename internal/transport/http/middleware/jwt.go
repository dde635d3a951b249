package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rfi-copilot/internal/pkg/jwtutil"
	"rfi-copilot/internal/transport/http/response"
)

// ContextSubjectKey holds the API client named by the token subject.
const ContextSubjectKey = "subject"

const apiScope = "api"

// AuthJWT admits requests carrying a bearer token minted for the API.
func AuthJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, reason := bearerToken(c.GetHeader("Authorization"))
		if reason != "" {
			deny(c, reason)
			return
		}

		claims, err := jwtutil.ParseToken(secret, token)
		if err != nil {
			deny(c, "invalid or expired token")
			return
		}
		if claims.Scope != apiScope || claims.Subject == "" {
			deny(c, "token is not valid for this api")
			return
		}

		c.Set(ContextSubjectKey, claims.Subject)
		c.Next()
	}
}

func bearerToken(header string) (string, string) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", "missing authorization header"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "invalid authorization scheme"
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "empty bearer token"
	}
	return token, ""
}

func deny(c *gin.Context, reason string) {
	response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, reason)
	c.Abort()
}
