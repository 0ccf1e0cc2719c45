package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/steeplehq/giving/internal/config"
	gatewaydomain "github.com/steeplehq/giving/internal/gateway/domain"
	ledgerdomain "github.com/steeplehq/giving/internal/ledger/domain"
	"github.com/steeplehq/giving/internal/settings"
	subscriptiondomain "github.com/steeplehq/giving/internal/subscription/domain"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// Non-postgres targets (sqlite for local dev, mysql) get the schema
		// from the models directly.
		return conn.AutoMigrate(
			&gatewaydomain.Gateway{},
			&gatewaydomain.EventLog{},
			&ledgerdomain.Fund{},
			&ledgerdomain.DonationBatch{},
			&ledgerdomain.Donation{},
			&ledgerdomain.FundDonation{},
			&subscriptiondomain.Subscription{},
			&subscriptiondomain.SubscriptionFund{},
			&settings.TenantSetting{},
		)
	}),
)
