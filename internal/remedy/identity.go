package remedy

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/vigil/internal/provider"
)

// ErrSelfTarget is returned when a restart names the monitor's own process.
var ErrSelfTarget = errors.New("remedy: refusing to restart the monitor's own process")

// ResolveSelf determines the name this monitor runs under in the managed
// fleet, so bulk operations never restart the monitor itself. An explicit
// override wins; otherwise the executable name of our own PID is used.
// When neither is available the returned name is empty and nothing is
// excluded, which the caller must treat as a loud warning condition.
func ResolveSelf(override string, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}
	if override != "" {
		return override
	}
	p, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		if name, nerr := p.Name(); nerr == nil && name != "" {
			return name
		}
	}
	logger.Warn("WARNING: could not determine own process name; " +
		"self-exclusion is disabled and bulk restarts may hit the monitor itself")
	return ""
}

// RestartExcludingSelf restarts a target with self-exclusion applied to
// both targeted and bulk requests. The bulk target never reaches the
// manager as-is: it expands to the current fleet minus the monitor's own
// process, restarted one by one. With an empty self name nothing is
// excluded and the expansion still applies.
func RestartExcludingSelf(ctx context.Context, prov provider.Provider, name, self string) error {
	if self != "" && name == self {
		return ErrSelfTarget
	}
	if name != provider.All {
		return prov.Restart(ctx, name)
	}
	snaps, err := prov.List(ctx)
	if err != nil {
		return err
	}
	var firstErr error
	for _, snap := range ExcludeSelf(snaps, self) {
		if err := prov.Restart(ctx, snap.Name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ExcludeSelf filters the monitor's own entry out of a fleet snapshot.
// With an empty self name the slice is returned unchanged.
func ExcludeSelf(snaps []provider.ProcessSnapshot, self string) []provider.ProcessSnapshot {
	if self == "" {
		return snaps
	}
	out := snaps[:0:0]
	for _, s := range snaps {
		if s.Name == self {
			continue
		}
		out = append(out, s)
	}
	return out
}
