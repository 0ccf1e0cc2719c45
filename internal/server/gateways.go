package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	gatewaydomain "github.com/steeplehq/giving/internal/gateway/domain"
	gatewayservice "github.com/steeplehq/giving/internal/gateway/service"
)

func (s *Server) HandleListGateways(c *gin.Context) {
	tenantID, ok := s.requireTenant(c)
	if !ok {
		return
	}

	gateways, err := s.gateways.ListGateways(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"gateways": gateways})
}

type saveGatewayRequest struct {
	Provider    string         `json:"provider"`
	Environment string         `json:"environment"`
	PrivateKey  string         `json:"private_key"`
	PublicKey   string         `json:"public_key"`
	PayFees     bool           `json:"pay_fees"`
	Settings    map[string]any `json:"settings"`
}

// HandleSaveGateway configures a processor for the tenant and runs the
// provisioning protocol. The private key is never echoed back.
func (s *Server) HandleSaveGateway(c *gin.Context) {
	tenantID, ok := s.requireTenant(c)
	if !ok {
		return
	}

	var req saveGatewayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	gateway, err := s.gateways.SaveGateway(c.Request.Context(), gatewayservice.SaveGatewayInput{
		TenantID:    tenantID,
		Provider:    req.Provider,
		Environment: req.Environment,
		PrivateKey:  req.PrivateKey,
		PublicKey:   req.PublicKey,
		PayFees:     req.PayFees,
		Settings:    req.Settings,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":          gateway.ID.String(),
		"provider":    gateway.Provider,
		"environment": gateway.Environment,
		"pay_fees":    gateway.PayFees,
	})
}

func (s *Server) HandleDeleteGateway(c *gin.Context) {
	tenantID, ok := s.requireTenant(c)
	if !ok {
		return
	}

	gatewayID := parseID(c.Param("id"))
	if gatewayID == 0 {
		AbortWithError(c, gatewaydomain.ErrInvalidRequest)
		return
	}

	if err := s.gateways.DeleteGateway(c.Request.Context(), tenantID, gatewayID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
