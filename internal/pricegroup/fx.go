package pricegroup

import (
	pricegroupdomain "github.com/quentel/ratecore/internal/pricegroup/domain"
	"github.com/quentel/ratecore/internal/pricegroup/repository"
	"github.com/quentel/ratecore/internal/pricegroup/service"
	"go.uber.org/fx"
)

var Module = fx.Module("pricegroup",
	fx.Provide(service.NewExpander),
	fx.Provide(repository.NewMapRepository),
	fx.Provide(func(r *repository.MapRepository) pricegroupdomain.MapStore { return r }),
)
