package transport

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/parishops/mailqueue/internal/account"
	"github.com/parishops/mailqueue/internal/domain"
)

// SimulatedTransport records send intent without a network call and returns
// a synthetic success id. Selected via TRANSPORT_MODE=simulated so the full
// queue pipeline can run in non-production environments.
type SimulatedTransport struct {
	mu     sync.Mutex
	seq    int
	sends  []SimulatedSend
	logger *zap.Logger
}

// SimulatedSend captures what would have gone over the wire.
type SimulatedSend struct {
	MessageID string
	To        string
	Account   string
}

func NewSimulatedTransport(logger *zap.Logger) *SimulatedTransport {
	return &SimulatedTransport{logger: logger}
}

func (t *SimulatedTransport) Send(_ context.Context, m *domain.QueuedMessage, acct *account.SendingAccount) (*DeliveryResult, error) {
	t.mu.Lock()
	t.seq++
	id := fmt.Sprintf("simulated-%06d", t.seq)
	t.sends = append(t.sends, SimulatedSend{MessageID: m.ID, To: m.To, Account: acct.Address})
	t.mu.Unlock()

	t.logger.Info("simulated delivery",
		zap.String("message_id", m.ID),
		zap.String("to", m.To),
		zap.String("account", acct.Address),
	)
	return &DeliveryResult{ProviderMsgID: id}, nil
}

// Sends returns everything delivered so far. Test helper.
func (t *SimulatedTransport) Sends() []SimulatedSend {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SimulatedSend, len(t.sends))
	copy(out, t.sends)
	return out
}

// compile-time check that SimulatedTransport implements Transport
var _ Transport = (*SimulatedTransport)(nil)
