package rating

import (
	pricegroupservice "github.com/quentel/ratecore/internal/pricegroup/service"
	ratingdomain "github.com/quentel/ratecore/internal/rating/domain"
	"github.com/quentel/ratecore/internal/rating/service"
	timemodelservice "github.com/quentel/ratecore/internal/timemodel/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rating",
	fx.Provide(service.NewDriver),
	fx.Provide(func(e *pricegroupservice.Expander) ratingdomain.Expander { return e }),
	fx.Provide(func(s *timemodelservice.Splitter) ratingdomain.Splitter { return s }),
)
