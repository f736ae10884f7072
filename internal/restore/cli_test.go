package restore

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/HerbHall/uproot/pkg/models"
)

type fakeCLIConn struct {
	commands []string
	runErr   error
	saved    int
	saveErr  error
	closed   int
}

func (f *fakeCLIConn) Run(_ context.Context, command string) (string, error) {
	f.commands = append(f.commands, command)
	if f.runErr != nil {
		return "", f.runErr
	}
	return "Total number of passes: 1\nRollback Done", nil
}

func (f *fakeCLIConn) Save(context.Context) error {
	f.saved++
	return f.saveErr
}

func (f *fakeCLIConn) Close() error {
	f.closed++
	return nil
}

var routerDevice = models.Device{
	Label: "sp-router1",
	Role:  models.RoleRouter,
	Host:  "10.0.12.2",
	Credentials: models.Credentials{
		Username: "admin",
		Password: "lab",
	},
}

func newCLIFixture(writeMemory bool) (*CLIRestore, *fakeCLIConn) {
	conn := &fakeCLIConn{}
	r := NewCLIRestore(writeMemory, zap.NewNop())
	r.open = func(context.Context, models.Device) (cliConn, error) {
		return conn, nil
	}
	return r, conn
}

func TestCLIRestoreReplacesAndSaves(t *testing.T) {
	r, conn := newCLIFixture(true)

	outcome := r.Restore(context.Background(), routerDevice)
	if !outcome.Success {
		t.Fatalf("Restore() failed: %s", outcome.Reason)
	}
	if len(conn.commands) != 1 || conn.commands[0] != replaceCommand {
		t.Errorf("commands = %v, want [%s]", conn.commands, replaceCommand)
	}
	if conn.saved != 1 {
		t.Errorf("saved = %d, want 1", conn.saved)
	}
	if conn.closed != 1 {
		t.Errorf("closed = %d, want 1", conn.closed)
	}
}

func TestCLIRestoreSkipsSaveWhenDisabled(t *testing.T) {
	r, conn := newCLIFixture(false)

	outcome := r.Restore(context.Background(), routerDevice)
	if !outcome.Success {
		t.Fatalf("Restore() failed: %s", outcome.Reason)
	}
	if conn.saved != 0 {
		t.Errorf("saved = %d, want 0 with write memory disabled", conn.saved)
	}
}

func TestCLIRestoreConnectFailure(t *testing.T) {
	r, _ := newCLIFixture(true)
	r.open = func(context.Context, models.Device) (cliConn, error) {
		return nil, errors.New("dial tcp: connection refused")
	}

	outcome := r.Restore(context.Background(), routerDevice)
	if outcome.Success {
		t.Fatal("expected failure when connect fails")
	}
	if outcome.Reason == "" {
		t.Error("failed outcome must carry a reason")
	}
}

func TestCLIRestoreReplaceRejected(t *testing.T) {
	r, conn := newCLIFixture(true)
	conn.runErr = errors.New("%Rollback failed")

	outcome := r.Restore(context.Background(), routerDevice)
	if outcome.Success {
		t.Fatal("expected failure when config replace is rejected")
	}
	if conn.saved != 0 {
		t.Error("must not write memory after a failed replace")
	}
	if conn.closed != 1 {
		t.Error("session must still be closed on failure")
	}
}
