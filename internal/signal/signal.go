// Package signal wires interrupt handling for streaming commands.
package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// NotifyContext returns a context cancelled on SIGINT or SIGTERM. The
// first signal cancels gracefully so the partial transcript survives; a
// second signal terminates through the default handler.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
