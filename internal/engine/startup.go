package engine

import (
	"context"
	"fmt"
	"io"
)

// EnsureReady verifies the inference backend is reachable and that every
// required model is present locally. It prints progress to w and returns an
// actionable error when something is missing — serve refuses to start with a
// backend that cannot classify or embed.
func EnsureReady(ctx context.Context, e Engine, w io.Writer, models ...string) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("%w: backend not reachable — is ollama running?", ErrUnavailable)
	}
	fmt.Fprintln(w, "inference backend is running")

	for _, m := range models {
		if m == "" {
			continue
		}
		if !e.HasModel(ctx, m) {
			return fmt.Errorf("required model %q not found locally; run: ollama pull %s", m, m)
		}
		fmt.Fprintf(w, "model %s available\n", m)
	}
	return nil
}
