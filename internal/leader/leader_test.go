package leader

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"k8s.io/client-go/kubernetes"

	"github.com/jensholdgaard/ipl-auction/internal/config"
)

func TestIdentity_FromPodName(t *testing.T) {
	t.Setenv("POD_NAME", "auctiond-abc123")
	if got := identity(); got != "auctiond-abc123" {
		t.Errorf("identity() = %q, want %q", got, "auctiond-abc123")
	}
}

func TestIdentity_Hostname(t *testing.T) {
	t.Setenv("POD_NAME", "")
	host, err := os.Hostname()
	if err != nil {
		t.Skip("cannot get hostname")
	}
	if got := identity(); got != host {
		t.Errorf("identity() = %q, want %q", got, host)
	}
}

func TestElector_CheckBeforeLeading(t *testing.T) {
	var e Elector
	if e.IsLeader() {
		t.Fatal("new Elector should not lead")
	}
	if err := e.Check(context.Background()); !errors.Is(err, ErrNotLeader) {
		t.Errorf("Check() = %v, want ErrNotLeader", err)
	}
	e.leading.Store(true)
	if err := e.Check(context.Background()); err != nil {
		t.Errorf("Check() = %v, want nil", err)
	}
}

func TestRun_ClientError(t *testing.T) {
	orig := ClientFactory
	ClientFactory = func() (kubernetes.Interface, error) { return nil, errors.New("no cluster") }
	t.Cleanup(func() { ClientFactory = orig })

	var e Elector
	err := e.Run(context.Background(), config.Default().LeaderElection, slog.Default(),
		func(context.Context) { t.Error("should not lead") }, func() {})
	if err == nil {
		t.Fatal("expected error")
	}
}
