// Package webhook processes provider callbacks exactly once. The event log
// insert is the gate: it happens before any side effect, so a redelivered
// event short-circuits no matter how the previous attempt ended.
package webhook

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	gatewaydomain "github.com/steeplehq/giving/internal/gateway/domain"
	gatewayservice "github.com/steeplehq/giving/internal/gateway/service"
	ledgerservice "github.com/steeplehq/giving/internal/ledger/service"
	"github.com/steeplehq/giving/internal/metrics"
	subscriptiondomain "github.com/steeplehq/giving/internal/subscription/domain"
)

// Outcome statuses reported to the HTTP layer. Everything except "failed"
// acknowledges with 200.
const (
	OutcomeRecorded  = "recorded"
	OutcomeCancelled = "cancelled"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeLogged    = "logged"
)

type Outcome struct {
	Status  string `json:"status"`
	EventID string `json:"event_id,omitempty"`
}

type Service struct {
	db       *gorm.DB
	gateways *gatewayservice.Service
	events   gatewaydomain.Repository
	ledger   *ledgerservice.Service
	subs     subscriptiondomain.Repository
	node     *snowflake.Node
	log      *zap.Logger
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Gateways *gatewayservice.Service
	Events   gatewaydomain.Repository
	Ledger   *ledgerservice.Service
	Subs     subscriptiondomain.Repository
	Node     *snowflake.Node
	Logger   *zap.Logger
}

func New(p Params) *Service {
	return &Service{
		db:       p.DB,
		gateways: p.Gateways,
		events:   p.Events,
		ledger:   p.Ledger,
		subs:     p.Subs,
		node:     p.Node,
		log:      p.Logger.Named("webhook"),
	}
}

// Process verifies and applies one provider callback.
func (s *Service) Process(ctx context.Context, tenantID snowflake.ID, provider string, headers http.Header, body []byte) (*Outcome, error) {
	gateway, err := s.gateways.ResolveGateway(ctx, tenantID, 0, provider)
	if err != nil {
		return nil, err
	}
	adapter, err := s.gateways.AdapterForGateway(gateway)
	if err != nil {
		return nil, err
	}

	result, err := adapter.VerifyWebhook(ctx, headers, body)
	if err != nil {
		metrics.Giving().IncWebhookEvent(gateway.Provider, "rejected")
		return nil, err
	}

	if !result.ShouldProcess {
		metrics.Giving().IncWebhookEvent(gateway.Provider, "ignored")
		return &Outcome{Status: OutcomeIgnored, EventID: result.EventID}, nil
	}

	// Cheap pre-check; the insert below is the authoritative gate.
	existing, err := s.events.FindEvent(ctx, s.db, tenantID, result.EventID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		metrics.Giving().IncWebhookEvent(gateway.Provider, "duplicate")
		return &Outcome{Status: OutcomeDuplicate, EventID: result.EventID}, nil
	}

	event := &gatewaydomain.EventLog{
		ID:              s.node.Generate(),
		TenantID:        tenantID,
		Provider:        gateway.Provider,
		ProviderEventID: result.EventID,
		EventType:       result.EventType,
		Status:          gatewaydomain.EventStatusLogged,
		ReceivedAt:      time.Now().UTC(),
	}
	inserted, err := s.events.InsertEvent(ctx, s.db, event)
	if err != nil {
		return nil, err
	}
	if !inserted {
		metrics.Giving().IncWebhookEvent(gateway.Provider, "duplicate")
		return &Outcome{Status: OutcomeDuplicate, EventID: result.EventID}, nil
	}

	// The event is committed. From here, failures are recorded against it
	// and surfaced as retryable server errors; context cancellation must not
	// abandon the work silently.
	applyCtx := context.WithoutCancel(ctx)
	outcome, err := s.apply(applyCtx, tenantID, gateway.Provider, event, result)
	if err != nil {
		s.log.Error("webhook processing failed after event log",
			zap.String("tenant_id", tenantID.String()),
			zap.String("provider", gateway.Provider),
			zap.String("event_id", result.EventID),
			zap.String("event_type", result.EventType),
			zap.Error(err),
		)
		metrics.Giving().IncWebhookFailure(gateway.Provider)
		if updateErr := s.events.UpdateEventStatus(applyCtx, s.db, event.ID, gatewaydomain.EventStatusFailed, err.Error()); updateErr != nil {
			s.log.Error("failed to mark event failed", zap.Error(updateErr))
		}
		// The event is marked failed; the cause must not map to a 4xx or the
		// provider would never redeliver it.
		return nil, fmt.Errorf("%w: %v", gatewaydomain.ErrEventProcessingFailed, err)
	}

	metrics.Giving().IncWebhookEvent(gateway.Provider, outcome.Status)
	return outcome, nil
}

func (s *Service) apply(ctx context.Context, tenantID snowflake.ID, provider string, event *gatewaydomain.EventLog, result *gatewaydomain.WebhookResult) (*Outcome, error) {
	switch result.Kind {
	case gatewaydomain.WebhookKindDonation:
		if result.Donation == nil {
			return nil, gatewaydomain.ErrInvalidEvent
		}
		if err := s.recordDonation(ctx, tenantID, provider, result); err != nil {
			return nil, err
		}
		if err := s.events.UpdateEventStatus(ctx, s.db, event.ID, gatewaydomain.EventStatusDonationRecorded, ""); err != nil {
			return nil, err
		}
		return &Outcome{Status: OutcomeRecorded, EventID: result.EventID}, nil

	case gatewaydomain.WebhookKindCancellation:
		if result.ProviderSubscriptionID == "" {
			return nil, gatewaydomain.ErrInvalidEvent
		}
		if err := s.subs.Delete(ctx, s.db, tenantID, result.ProviderSubscriptionID); err != nil {
			return nil, err
		}
		if err := s.events.UpdateEventStatus(ctx, s.db, event.ID, gatewaydomain.EventStatusSubscriptionCancelled, ""); err != nil {
			return nil, err
		}
		return &Outcome{Status: OutcomeCancelled, EventID: result.EventID}, nil

	default:
		return &Outcome{Status: OutcomeLogged, EventID: result.EventID}, nil
	}
}

// recordDonation writes the gift to the ledger. Renewal events carry no fund
// metadata of their own; the fan-out comes from the local subscription
// mirror when one exists.
func (s *Service) recordDonation(ctx context.Context, tenantID snowflake.ID, provider string, result *gatewaydomain.WebhookResult) error {
	donation := result.Donation

	personID := donation.PersonID
	allocations := make([]ledgerservice.Allocation, 0, len(donation.Funds))
	for _, alloc := range donation.Funds {
		allocations = append(allocations, ledgerservice.Allocation{FundID: alloc.FundID, Amount: alloc.Amount})
	}

	if len(allocations) == 0 && result.ProviderSubscriptionID != "" {
		mirror, err := s.subs.FindByProviderSubscriptionID(ctx, s.db, tenantID, result.ProviderSubscriptionID)
		if err != nil {
			return err
		}
		if mirror != nil {
			if personID == nil {
				personID = mirror.PersonID
			}
			funds, err := s.subs.FindFunds(ctx, s.db, mirror.ID)
			if err != nil {
				return err
			}
			for _, fund := range funds {
				allocations = append(allocations, ledgerservice.Allocation{FundID: fund.FundID, Amount: fund.Amount})
			}
			// The mirror's fan-out can drift from the billed amount after a
			// provider-side change; scale-free fallback is the general fund.
			var total int64
			for _, alloc := range allocations {
				total += alloc.Amount
			}
			if total != donation.Amount {
				allocations = nil
			}
		}
	}

	_, created, err := s.ledger.LogDonation(ctx, ledgerservice.LogDonationInput{
		TenantID:      tenantID,
		Provider:      provider,
		TransactionID: donation.TransactionID,
		PersonID:      personID,
		Amount:        donation.Amount,
		Method:        string(donation.Method),
		MethodDetails: donation.MethodDetails,
		DonatedAt:     donation.OccurredAt,
		Allocations:   allocations,
	})
	if err != nil {
		return err
	}
	if created {
		metrics.Giving().IncDonationRecorded(provider, donation.Amount)
	}
	return nil
}
