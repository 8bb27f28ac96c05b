package timemodel

import (
	timemodeldomain "github.com/quentel/ratecore/internal/timemodel/domain"
	"github.com/quentel/ratecore/internal/timemodel/repository"
	"github.com/quentel/ratecore/internal/timemodel/service"
	"go.uber.org/fx"
)

var Module = fx.Module("timemodel",
	fx.Provide(service.NewSplitter),
	fx.Provide(repository.NewModelRepository),
	fx.Provide(func(r *repository.ModelRepository) timemodeldomain.ModelStore { return r }),
)
