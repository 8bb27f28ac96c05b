// Package migration creates the engine's tables on startup so a fresh
// database is usable out of the box for local and self-hosted setups.
package migration

import (
	"errors"

	balancedomain "github.com/quentel/ratecore/internal/balance/domain"
	pricegroupdomain "github.com/quentel/ratecore/internal/pricegroup/domain"
	ratemapdomain "github.com/quentel/ratecore/internal/ratemap/domain"
	recorddomain "github.com/quentel/ratecore/internal/record/domain"
	timemodeldomain "github.com/quentel/ratecore/internal/timemodel/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func Run(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	return conn.AutoMigrate(
		&ratemapdomain.RateMapEntry{},
		&pricegroupdomain.PriceGroupMap{},
		&timemodeldomain.TimeModelInterval{},
		&balancedomain.Counter{},
		&recorddomain.BalanceImpact{},
		&recorddomain.RatedEvent{},
	)
}

var Module = fx.Module("migrations",
	fx.Invoke(Run),
)
