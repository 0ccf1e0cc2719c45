package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HandleWebhook receives provider callbacks. Anything the processor
// acknowledges (duplicates and ignorable events included) answers 200 so
// the provider stops retrying; verification failures answer 401 and
// post-log processing errors 5xx so the provider retries.
func (s *Server) HandleWebhook(c *gin.Context) {
	tenantID, ok := s.requireTenant(c)
	if !ok {
		return
	}

	provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	outcome, err := s.webhooks.Process(c.Request.Context(), tenantID, provider, c.Request.Header, body)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}
