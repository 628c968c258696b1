package cfddns

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RunOnce runs a single pass.
// The error is non-nil if the pass could not run or any record failed.
func RunOnce(ctx context.Context, c DDNSClient) (Summary, error) {
	sum, err := c.RunDDNS(ctx)
	if err != nil {
		return sum, err
	}
	if sum.Failed > 0 {
		return sum, fmt.Errorf("%d of %d records failed: %w", sum.Failed, sum.Total(), sum.Err())
	}
	return sum, nil
}

// Daemon runs passes every Interval until its context is cancelled.
type Daemon struct {
	Interval time.Duration
	Logger   zerolog.Logger

	// PassTimeout bounds a single pass. Zero means Interval.
	PassTimeout time.Duration

	// Reload delivers a replacement client, which is used from the next pass on.
	// It may be nil.
	Reload <-chan DDNSClient
}

// Run starts a pass immediately and then one every Interval.
//
// A pass that has started is allowed to finish even if ctx is cancelled meanwhile,
// so no record is left half updated. Cancellation is observed while waiting.
// A pass still running after PassTimeout is abandoned and the next one runs on schedule.
// Pass errors are logged and never stop the loop; Run returns nil once ctx is done.
func (d *Daemon) Run(ctx context.Context, c DDNSClient) error {
	if c == nil {
		return errors.New("cfddns.Daemon: client cannot be nil")
	}
	if d.Interval < MinInterval || d.Interval > MaxInterval {
		return &ConfigError{Field: "interval", Msg: d.Interval.String(), Err: ErrInvalidInterval}
	}
	return d.loop(ctx, c)
}

func (d *Daemon) loop(ctx context.Context, c DDNSClient) error {
	reload := d.Reload
	for {
		passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.passTimeout())
		sum, err := c.RunDDNS(passCtx)
		cancel()
		switch {
		case err != nil:
			d.Logger.Error().Err(err).Msg("pass failed")
		case sum.Failed > 0:
			d.Logger.Warn().Err(sum.Err()).Stringer("summary", sum).Msg("pass finished with failures")
		}

		d.Logger.Debug().Time("next", time.Now().Add(d.Interval)).Msg("sleeping")
		timer := time.NewTimer(d.Interval)
	wait:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				d.Logger.Info().Msg("stopping")
				return nil
			case nc, ok := <-reload:
				if !ok {
					reload = nil
					continue
				}
				if nc != nil {
					c = nc
					d.Logger.Info().Msg("configuration reloaded, applying on next pass")
				}
			case <-timer.C:
				break wait
			}
		}
	}
}

func (d *Daemon) passTimeout() time.Duration {
	if d.PassTimeout > 0 {
		return d.PassTimeout
	}
	return d.Interval
}
