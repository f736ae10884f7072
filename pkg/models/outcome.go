package models

import "time"

// BootIDUnknown marks a boot identity the device could not report
// (older firmware, command unavailable).
const BootIDUnknown = ""

// RestoreOutcome is the terminal record of one device's restore
// attempt. It is produced once and never mutated afterwards.
type RestoreOutcome struct {
	Label        string    `json:"label"`
	Success      bool      `json:"success"`
	Reason       string    `json:"reason,omitempty"` // failure reason, empty on success
	BootIDBefore string    `json:"boot_id_before,omitempty"`
	BootIDAfter  string    `json:"boot_id_after,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Rebooted reports whether the boot identity is known to have changed.
// An unknown before-token is treated as "cannot disprove a reboot".
func (o RestoreOutcome) Rebooted() bool {
	if o.BootIDBefore == BootIDUnknown || o.BootIDAfter == BootIDUnknown {
		return true
	}
	return o.BootIDBefore != o.BootIDAfter
}
