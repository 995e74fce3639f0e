package http

import (
	"net/http"

	"github.com/dmitrijs2005/mediarelay/internal/common"
	"github.com/dmitrijs2005/mediarelay/internal/server/auth"
	"github.com/gin-gonic/gin"
)

const userIDKey = "userID"

// requireAuth accepts only requests carrying a valid Bearer access token.
func (s *HTTPServer) requireAuth(c *gin.Context) {
	token, err := auth.BearerToken(c.GetHeader(common.AuthorizationHeaderName))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	userID, err := s.verifier.Verify(token)
	if err != nil {
		s.logger.Warn(c.Request.Context(), "rejected access token", "error", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	c.Set(userIDKey, userID)
	c.Next()
}
