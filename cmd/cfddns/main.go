// Command cfddns keeps Cloudflare DNS records pointed at this host's public IP address.
//
// Usage:
//
//	cfddns [flags] config.yaml
//
// Without --interval it runs a single pass and exits.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Travis-Britz/cfddns"
	"github.com/cloudflare/cloudflare-go"
	"github.com/gofrs/flock"
	"github.com/judwhite/go-svc"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

const (
	exitFailure = 1
	exitConfig  = 2
)

var version = "dev"

// cloudflareOptions are passed to every Cloudflare API client the command creates.
var cloudflareOptions []cloudflare.Option

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "cfddns",
		Usage:     "keep Cloudflare DNS records pointed at this host's public IP",
		UsageText: "cfddns [global options] <config>\n   cfddns [global options] command <args>",
		Version:   version,
		Flags:     flags(),
		Action:    run,
		Commands:  commands(),
		// main picks the exit code
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "interval",
			Aliases: []string{"i"},
			Usage:   "seconds between passes (30-3600); omit to run a single pass",
			EnvVars: []string{"CFDDNS_INTERVAL"},
		},
		&cli.BoolFlag{
			Name:  "watch",
			Usage: "reload the config file when it changes (requires --interval)",
		},
		&cli.StringFlag{
			Name:  "ip",
			Usage: "use this address instead of resolving the public IP",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Usage:   "trace, debug, info, warn or error",
			EnvVars: []string{"CFDDNS_LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "console or json (default: console on a terminal, json otherwise)",
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "write logs to a rotated file instead of stderr",
		},
		&cli.StringFlag{
			Name:  "lock-file",
			Usage: "path of the single instance lock (default: $TMPDIR/cfddns-<zone_id>.lock)",
		},
	}
}

func run(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected exactly one argument: the path of the config file", exitConfig)
	}
	path := c.Args().First()

	logger, closeLog, err := newLogger(c)
	if err != nil {
		return cli.Exit(err, exitConfig)
	}
	defer closeLog()

	cfg, err := cfddns.Load(path)
	if err != nil {
		logger.Error().Err(err).Str("config", path).Msg("unable to load config")
		return cli.Exit(err, exitConfig)
	}

	repeat := c.IsSet("interval")
	var interval time.Duration
	if repeat {
		if interval, err = cfddns.ValidateInterval(c.Int("interval")); err != nil {
			return cli.Exit(err, exitConfig)
		}
	} else if c.Bool("watch") {
		return cli.Exit(&cfddns.ConfigError{Field: "watch", Msg: "requires --interval"}, exitConfig)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	client, err := buildClient(ctx, cfg, c.String("ip"), logger)
	stop()
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		return cli.Exit(err, exitConfig)
	}

	if !repeat {
		sum, err := cfddns.RunOnce(c.Context, client)
		if err != nil {
			return cli.Exit(err, exitFailure)
		}
		logger.Info().Stringer("summary", sum).Msg("done")
		return nil
	}

	lockPath := c.String("lock-file")
	if lockPath == "" {
		lockPath = filepath.Join(os.TempDir(), "cfddns-"+cfg.ZoneID+".lock")
	}
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return cli.Exit(fmt.Errorf("unable to lock %s: %w", lockPath, err), exitConfig)
	}
	if !locked {
		return cli.Exit(fmt.Sprintf("another cfddns instance holds %s", lockPath), exitConfig)
	}
	defer lock.Unlock()

	p := &program{
		parent: c.Context,
		client: client,
		daemon: &cfddns.Daemon{Interval: interval, Logger: logger},
		logger: logger,
	}
	if c.Bool("watch") {
		ip := c.String("ip")
		p.watch = func(ctx context.Context) (<-chan cfddns.DDNSClient, error) {
			return watchClients(ctx, path, ip, logger)
		}
	}
	logger.Info().Dur("interval", interval).Str("lock", lockPath).Msg("starting")
	if err := svc.Run(p); err != nil {
		return cli.Exit(err, exitFailure)
	}
	return nil
}

// buildClient constructs the client for cfg and checks the credentials and zone.
func buildClient(ctx context.Context, cfg *cfddns.Config, ip string, logger zerolog.Logger) (*cfddns.Client, error) {
	opts := []cfddns.Option{
		cfddns.UsingCloudflare(cfg.Auth, cloudflareOptions...),
		cfddns.WithLogger(logger),
	}
	if ip != "" {
		r, err := cfddns.FromString(ip)
		if err != nil {
			return nil, &cfddns.ConfigError{Field: "ip", Msg: "invalid address", Err: err}
		}
		opts = append(opts, cfddns.UsingResolver(r))
	}
	client, err := cfddns.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := client.Verify(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// watchClients turns each valid config change into a verified client.
func watchClients(ctx context.Context, path, ip string, logger zerolog.Logger) (<-chan cfddns.DDNSClient, error) {
	configs, err := cfddns.WatchConfig(ctx, path, logger)
	if err != nil {
		return nil, err
	}
	out := make(chan cfddns.DDNSClient)
	go func() {
		defer close(out)
		for cfg := range configs {
			client, err := buildClient(ctx, cfg, ip, logger)
			if err != nil {
				logger.Warn().Err(err).Msg("reloaded config rejected, keeping the current one")
				continue
			}
			select {
			case out <- client:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// exitCode maps an error from the app to the process exit status.
// Errors that are not cli.ExitCoder come from flag parsing.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return exitConfig
}
