package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/HerbHall/uproot/pkg/models"
)

// FaultEvent records one injected (or dry-run) fault.
type FaultEvent struct {
	Device  string
	Fault   string
	Target  string
	Applied bool
}

// Journal binds journal writes to a single run.
type Journal struct {
	store *Store
	runID string
}

// NewRun registers a new run and returns a journal scoped to it.
// command names the subcommand that started the run.
func (s *Store) NewRun(ctx context.Context, command string) (*Journal, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, command) VALUES (?, ?)",
		id, command,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return &Journal{store: s, runID: id}, nil
}

// RunID returns the run's identifier.
func (j *Journal) RunID() string {
	return j.runID
}

// RecordFault persists one fault event.
func (j *Journal) RecordFault(ctx context.Context, e FaultEvent) error {
	_, err := j.store.db.ExecContext(ctx, `
		INSERT INTO fault_events (run_id, device_label, fault_name, target_if, applied)
		VALUES (?, ?, ?, ?, ?)`,
		j.runID, e.Device, e.Fault, e.Target, boolToInt(e.Applied),
	)
	if err != nil {
		return fmt.Errorf("insert fault event: %w", err)
	}
	return nil
}

// RecordRestore persists one restore outcome.
func (j *Journal) RecordRestore(ctx context.Context, o models.RestoreOutcome) error {
	_, err := j.store.db.ExecContext(ctx, `
		INSERT INTO restore_outcomes
			(run_id, device_label, success, reason, boot_id_before, boot_id_after, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.runID, o.Label, boolToInt(o.Success), o.Reason,
		o.BootIDBefore, o.BootIDAfter, o.StartedAt, o.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert restore outcome: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
