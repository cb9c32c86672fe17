package context

import (
	"context"
	"time"
)

// defaultOracleTimeout bounds how long Assemble waits on an optional
// code-intelligence oracle before proceeding without it.
const defaultOracleTimeout = 750 * time.Millisecond

// callOracleNonBlocking runs oracle in its own goroutine with a bounded
// deadline and returns its answer only if it completes in time. This is the
// "never blocks on the optional code-intelligence oracle" requirement:
// assembly always returns, with or without the hint.
func callOracleNonBlocking(ctx context.Context, oracle Oracle, sources []Source) string {
	octx, cancel := context.WithTimeout(ctx, defaultOracleTimeout)
	defer cancel()

	result := make(chan string, 1)
	go func() {
		hint, err := oracle(octx, sources)
		if err != nil {
			result <- ""
			return
		}
		select {
		case result <- hint:
		default:
		}
	}()

	select {
	case hint := <-result:
		return hint
	case <-octx.Done():
		return ""
	}
}
