// Package gateway abstracts the checkout provider. The offline provider
// settles in-band through the pay endpoint; a hosted provider would
// redirect and call back with a signed reference.
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	billingdomain "github.com/smallbiznis/washline/internal/billing/domain"
	"github.com/smallbiznis/washline/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrInvalidSignature means a posted-back checkout reference failed
// verification.
var ErrInvalidSignature = errors.New("invalid_signature")

// Checkout is what the client needs to complete a payment.
type Checkout struct {
	Provider    string  `json:"provider"`
	Reference   string  `json:"reference"`
	Amount      float64 `json:"amount"`
	RedirectURL string  `json:"redirect_url"`
	Signature   string  `json:"signature"`
}

type Gateway interface {
	CreateCheckout(ctx context.Context, payment billingdomain.Payment) (Checkout, error)
	VerifySignature(reference, signature string) bool
}

type offlineGateway struct {
	log    *zap.Logger
	secret []byte
}

func NewOffline(cfg *config.Config, log *zap.Logger) Gateway {
	return &offlineGateway{
		log:    log.Named("gateway.offline"),
		secret: []byte(cfg.AppName + "/" + cfg.Environment),
	}
}

// CreateCheckout implements Gateway. The total includes any standing
// fine; settling through the returned URL clears both.
func (g *offlineGateway) CreateCheckout(ctx context.Context, payment billingdomain.Payment) (Checkout, error) {
	reference := fmt.Sprintf("WL-%d", payment.ID.Int64())
	return Checkout{
		Provider:    "offline",
		Reference:   reference,
		Amount:      payment.TotalDue(),
		RedirectURL: fmt.Sprintf("/api/v1/payments/%d/pay", payment.ID.Int64()),
		Signature:   g.sign(reference),
	}, nil
}

// VerifySignature implements Gateway.
func (g *offlineGateway) VerifySignature(reference, signature string) bool {
	return hmac.Equal([]byte(g.sign(reference)), []byte(signature))
}

func (g *offlineGateway) sign(reference string) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(reference))
	return hex.EncodeToString(mac.Sum(nil))
}

var Module = fx.Module("gateway",
	fx.Provide(NewOffline),
)
