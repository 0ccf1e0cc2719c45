package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	gatewaydomain "github.com/steeplehq/giving/internal/gateway/domain"
	gatewayservice "github.com/steeplehq/giving/internal/gateway/service"
)

type chargeRequest struct {
	GatewayID string                      `json:"gateway_id"`
	Provider  string                      `json:"provider"`
	Charge    gatewaydomain.ChargeRequest `json:"charge"`
}

func (s *Server) HandleCharge(c *gin.Context) {
	tenantID, ok := s.requireTenant(c)
	if !ok {
		return
	}

	var req chargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.gateways.ProcessCharge(c.Request.Context(), gatewayservice.ChargeInput{
		TenantID:  tenantID,
		GatewayID: parseID(req.GatewayID),
		Provider:  req.Provider,
		Request:   req.Charge,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type feeRequest struct {
	GatewayID string `json:"gateway_id"`
	Provider  string `json:"provider"`
	Amount    int64  `json:"amount"`
	Method    string `json:"method"`
}

func (s *Server) HandleFeeQuote(c *gin.Context) {
	tenantID, ok := s.requireTenant(c)
	if !ok {
		return
	}

	var req feeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	quote, err := s.gateways.CalculateFees(
		c.Request.Context(),
		tenantID,
		parseID(req.GatewayID),
		req.Provider,
		req.Amount,
		gatewaydomain.PaymentMethod(req.Method),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, quote)
}

func (s *Server) HandleClientToken(c *gin.Context) {
	tenantID, ok := s.requireTenant(c)
	if !ok {
		return
	}

	token, err := s.gateways.GenerateClientToken(c.Request.Context(), tenantID, 0, c.Query("provider"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"client_token": token})
}

type orderRequest struct {
	GatewayID string `json:"gateway_id"`
	Provider  string `json:"provider"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

func (s *Server) HandleCreateOrder(c *gin.Context) {
	tenantID, ok := s.requireTenant(c)
	if !ok {
		return
	}

	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	orderID, err := s.gateways.CreateOrder(c.Request.Context(), tenantID, parseID(req.GatewayID), req.Provider, req.Amount, req.Currency)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order_id": orderID})
}

func (s *Server) HandleCaptureOrder(c *gin.Context) {
	tenantID, ok := s.requireTenant(c)
	if !ok {
		return
	}

	result, err := s.gateways.CaptureOrder(c.Request.Context(), tenantID, 0, c.Query("provider"), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type subscribeRequest struct {
	GatewayID    string                            `json:"gateway_id"`
	Provider     string                            `json:"provider"`
	Subscription gatewaydomain.SubscriptionRequest `json:"subscription"`
}

func (s *Server) HandleSubscribe(c *gin.Context) {
	tenantID, ok := s.requireTenant(c)
	if !ok {
		return
	}

	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.gateways.CreateSubscription(c.Request.Context(), gatewayservice.SubscribeInput{
		TenantID:  tenantID,
		GatewayID: parseID(req.GatewayID),
		Provider:  req.Provider,
		Request:   req.Subscription,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type subscriptionUpdateRequest struct {
	Amount          int64                          `json:"amount"`
	PaymentMethodID string                         `json:"payment_method_id"`
	Interval        string                         `json:"interval"`
	IntervalCount   int                            `json:"interval_count"`
	Funds           []gatewaydomain.FundAllocation `json:"funds"`
}

func (s *Server) HandleUpdateSubscription(c *gin.Context) {
	tenantID, ok := s.requireTenant(c)
	if !ok {
		return
	}

	var req subscriptionUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err := s.gateways.UpdateSubscription(c.Request.Context(), tenantID, gatewaydomain.SubscriptionUpdate{
		ProviderSubscriptionID: c.Param("id"),
		Amount:                 req.Amount,
		PaymentMethodID:        req.PaymentMethodID,
		Interval:               req.Interval,
		IntervalCount:          req.IntervalCount,
	}, req.Funds)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) HandleCancelSubscription(c *gin.Context) {
	tenantID, ok := s.requireTenant(c)
	if !ok {
		return
	}

	if err := s.gateways.CancelSubscription(c.Request.Context(), tenantID, c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func parseID(raw string) snowflake.ID {
	if raw == "" {
		return 0
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0
	}
	return id
}
