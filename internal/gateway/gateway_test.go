package gateway

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallbiznis/washline/internal/billing/domain"
	"github.com/smallbiznis/washline/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestGateway(t *testing.T) Gateway {
	t.Helper()
	return NewOffline(&config.Config{AppName: "washline", Environment: "test"}, zap.NewNop())
}

func TestCreateCheckout(t *testing.T) {
	g := newTestGateway(t)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	payment := billingdomain.Payment{
		ID:     node.Generate(),
		Amount: 499,
		Fine:   &billingdomain.PaymentFine{Amount: 30, DaysOverdue: 3},
	}

	checkout, err := g.CreateCheckout(context.Background(), payment)
	require.NoError(t, err)
	assert.Equal(t, "offline", checkout.Provider)
	assert.Equal(t, fmt.Sprintf("WL-%d", payment.ID.Int64()), checkout.Reference)
	assert.InDelta(t, 529, checkout.Amount, 0.001)
	assert.Equal(t, fmt.Sprintf("/api/v1/payments/%d/pay", payment.ID.Int64()), checkout.RedirectURL)
	assert.True(t, g.VerifySignature(checkout.Reference, checkout.Signature))
}

func TestVerifySignatureRejectsTampering(t *testing.T) {
	g := newTestGateway(t)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	checkout, err := g.CreateCheckout(context.Background(), billingdomain.Payment{ID: node.Generate(), Amount: 100})
	require.NoError(t, err)

	assert.False(t, g.VerifySignature("WL-0", checkout.Signature))
	assert.False(t, g.VerifySignature(checkout.Reference, "deadbeef"))

	// A gateway keyed differently must not accept the signature.
	other := NewOffline(&config.Config{AppName: "washline", Environment: "prod"}, zap.NewNop())
	assert.False(t, other.VerifySignature(checkout.Reference, checkout.Signature))
}
