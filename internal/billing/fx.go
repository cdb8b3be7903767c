package billing

import (
	"github.com/smallbiznis/washline/internal/billing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.service",
	fx.Provide(service.NewPayments),
	fx.Provide(service.NewFines),
)
