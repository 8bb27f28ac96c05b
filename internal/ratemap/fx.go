package ratemap

import (
	ratemapdomain "github.com/quentel/ratecore/internal/ratemap/domain"
	"github.com/quentel/ratecore/internal/ratemap/repository"
	"github.com/quentel/ratecore/internal/ratemap/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ratemap",
	fx.Provide(service.NewEvaluator),
	fx.Provide(repository.NewPlanRepository),
	fx.Provide(func(r *repository.PlanRepository) ratemapdomain.PlanStore { return r }),
)
