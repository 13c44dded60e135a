package transport_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/parishops/mailqueue/internal/account"
	"github.com/parishops/mailqueue/internal/domain"
	"github.com/parishops/mailqueue/internal/transport"
)

func TestSimulatedTransport_RecordsIntent(t *testing.T) {
	trans := transport.NewSimulatedTransport(zap.NewNop())
	pool := account.NewPool([]account.Config{
		{Address: "no-reply@church.org", Category: domain.CategoryAll, Priority: 1},
	}, account.PoolOptions{WindowCeiling: 10, WindowLength: time.Hour}, zap.NewNop())

	acct, err := pool.Select(domain.CategorySystem)
	if err != nil {
		t.Fatal(err)
	}

	msg := &domain.QueuedMessage{ID: "m1", To: "member@example.org"}
	res, err := trans.Send(context.Background(), msg, acct)
	if err != nil {
		t.Fatal(err)
	}
	if res.ProviderMsgID == "" {
		t.Fatal("expected synthetic provider id")
	}

	res2, err := trans.Send(context.Background(), msg, acct)
	if err != nil {
		t.Fatal(err)
	}
	if res2.ProviderMsgID == res.ProviderMsgID {
		t.Fatal("expected distinct synthetic ids per send")
	}

	sends := trans.Sends()
	if len(sends) != 2 {
		t.Fatalf("expected 2 recorded sends, got %d", len(sends))
	}
	if sends[0].Account != "no-reply@church.org" || sends[0].To != "member@example.org" {
		t.Fatalf("unexpected recorded send: %+v", sends[0])
	}
}
