package transport

import (
	"context"

	"github.com/parishops/mailqueue/internal/account"
	"github.com/parishops/mailqueue/internal/domain"
)

// DeliveryResult is the outcome of one send attempt.
type DeliveryResult struct {
	ProviderMsgID string
}

// Transport abstracts the actual network submission of an email using the
// selected account's credentials. The retry engine only distinguishes
// success from failure; transport-level and provider-level errors both
// surface as a non-nil error.
//
// Mocking this interface in tests gives full control over delivery
// behaviour without touching the network.
type Transport interface {
	Send(ctx context.Context, m *domain.QueuedMessage, acct *account.SendingAccount) (*DeliveryResult, error)
}
