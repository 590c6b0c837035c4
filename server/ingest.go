// Package server runs the ingestion loops that feed the routing table from
// the mesh status link and the beacon ranging link.
package server

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/alienlienn/iot-smartbin/transport"
)

// DefaultPollInterval bounds how long an idle ingestor waits for a line
// before checking for cancellation again.
const DefaultPollInterval = 50 * time.Millisecond

// runLines feeds every line of src to handle until ctx is done or the
// transport fails.
func runLines(ctx context.Context, name string, src transport.Source, poll time.Duration, handle func(context.Context, string)) error {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, ok := src.Next(ctx, poll)
		if !ok {
			if err := src.Err(); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.Wrapf(err, "%s transport", name)
			}
			continue
		}
		handle(ctx, strings.TrimSpace(line))
	}
}
