package balance

import (
	"github.com/quentel/ratecore/internal/balance/service"
	"go.uber.org/fx"
)

var Module = fx.Module("balance",
	fx.Provide(service.NewEngine),
)
