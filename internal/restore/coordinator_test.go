package restore

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/HerbHall/uproot/pkg/models"
)

// scriptedRestorer returns a fixed outcome and records the order in
// which devices were attempted via the shared trace slice.
type scriptedRestorer struct {
	success bool
	trace   *[]string
}

func (s *scriptedRestorer) Restore(_ context.Context, device models.Device) models.RestoreOutcome {
	*s.trace = append(*s.trace, device.Label)
	o := models.RestoreOutcome{Label: device.Label, Success: s.success}
	if !s.success {
		o.Reason = "scripted failure"
	}
	return o
}

type memJournal struct {
	outcomes []models.RestoreOutcome
	err      error
}

func (j *memJournal) RecordRestore(_ context.Context, o models.RestoreOutcome) error {
	j.outcomes = append(j.outcomes, o)
	return j.err
}

func device(label string) models.Device {
	return models.Device{Label: label, Host: "192.0.2.10"}
}

func newTestCoordinator(trace *[]string, journal Journal) *Coordinator {
	ok := &scriptedRestorer{success: true, trace: trace}
	c := NewCoordinator("ens4", journal, zap.NewNop())
	c.Firewalls = []Target{
		{Device: device("branch-fw"), Restorer: ok},
		{Device: device("app-fw"), Restorer: ok},
	}
	c.Switch = &Target{Device: device("switch1"), Restorer: ok}
	c.Routers = []Target{
		{Device: device("sp-router1"), Restorer: ok},
		{Device: device("sp-router2"), Restorer: ok},
	}
	c.waitGateway = func(context.Context) (string, error) { return "172.16.0.1", nil }
	c.waitTelnet = func(context.Context, string) bool { return true }
	return c
}

func TestRollbackAllOrder(t *testing.T) {
	var trace []string
	journal := &memJournal{}
	c := newTestCoordinator(&trace, journal)

	outcomes := c.RollbackAll(context.Background())
	if len(outcomes) != 5 {
		t.Fatalf("outcomes = %d, want 5", len(outcomes))
	}
	want := []string{"branch-fw", "app-fw", "switch1", "sp-router1", "sp-router2"}
	for i, label := range want {
		if trace[i] != label {
			t.Errorf("attempt[%d] = %s, want %s", i, trace[i], label)
		}
	}
	if len(journal.outcomes) != 5 {
		t.Errorf("journaled = %d, want 5", len(journal.outcomes))
	}
}

func TestRollbackAllFirewallFailureDoesNotAbortSiblings(t *testing.T) {
	var trace []string
	c := newTestCoordinator(&trace, nil)
	c.Firewalls[0].Restorer = &scriptedRestorer{success: false, trace: &trace}

	outcomes := c.RollbackAll(context.Background())
	if len(outcomes) != 5 {
		t.Fatalf("outcomes = %d, want 5 even after a firewall failure", len(outcomes))
	}
	if outcomes[0].Success {
		t.Error("first firewall should have failed")
	}
	if !outcomes[1].Success || !outcomes[2].Success {
		t.Error("remaining devices must still be attempted")
	}
}

func TestRollbackAllGatewayTimeoutBlocksRouters(t *testing.T) {
	var trace []string
	c := newTestCoordinator(&trace, nil)
	c.waitGateway = func(context.Context) (string, error) {
		return "", errors.New("gateway on ens4 unreachable after 5m0s")
	}

	outcomes := c.RollbackAll(context.Background())
	if len(outcomes) != 5 {
		t.Fatalf("outcomes = %d, want 5", len(outcomes))
	}
	for _, label := range trace {
		if label == "sp-router1" || label == "sp-router2" {
			t.Errorf("router %s attempted despite dead gateway", label)
		}
	}
	for _, o := range outcomes[3:] {
		if o.Success || o.Reason == "" {
			t.Errorf("router outcome %+v should be a blocked failure", o)
		}
	}
}

func TestRollbackAllTelnetWaitFailureSkipsOneRouter(t *testing.T) {
	var trace []string
	c := newTestCoordinator(&trace, nil)
	c.waitTelnet = func(_ context.Context, host string) bool {
		// Only the first router's telnet comes back.
		return len(trace) < 4
	}

	outcomes := c.RollbackAll(context.Background())
	if !outcomes[3].Success {
		t.Errorf("first router should restore: %s", outcomes[3].Reason)
	}
	if outcomes[4].Success {
		t.Error("second router should be skipped when telnet never returns")
	}
}

func TestRollbackAllJournalErrorIsNonFatal(t *testing.T) {
	var trace []string
	journal := &memJournal{err: errors.New("database is locked")}
	c := newTestCoordinator(&trace, journal)

	outcomes := c.RollbackAll(context.Background())
	if len(outcomes) != 5 {
		t.Fatalf("outcomes = %d, want 5 despite journal errors", len(outcomes))
	}
	for _, o := range outcomes {
		if !o.Success {
			t.Errorf("outcome %s failed: %s", o.Label, o.Reason)
		}
	}
}
