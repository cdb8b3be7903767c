package zone

import (
	"github.com/smallbiznis/washline/internal/zone/service"
	"go.uber.org/fx"
)

var Module = fx.Module("zone.resolver",
	fx.Provide(service.NewResolver),
)
