package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Travis-Britz/cfddns"
	"github.com/cloudflare/cloudflare-go"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

func commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:      "verify",
			Usage:     "validate a config file and check its credentials and zone",
			ArgsUsage: "<config>",
			Action:    verifyCommand,
		},
		{
			Name:      "token",
			Usage:     "prompt for an API token, verify it and save it for use as auth.api_token_file",
			ArgsUsage: "<file>",
			Action:    tokenCommand,
		},
		{
			Name:      "config",
			Usage:     "print the effective config with secrets redacted",
			ArgsUsage: "<config>",
			Action:    configCommand,
		},
	}
}

func verifyCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected exactly one argument: the path of the config file", exitConfig)
	}
	logger, closeLog, err := newLogger(c)
	if err != nil {
		return cli.Exit(err, exitConfig)
	}
	defer closeLog()

	cfg, err := cfddns.Load(c.Args().First())
	if err != nil {
		return cli.Exit(err, exitConfig)
	}
	client, err := buildClient(c.Context, cfg, c.String("ip"), logger)
	if err != nil {
		return cli.Exit(err, exitConfig)
	}
	for _, name := range client.Names() {
		fmt.Fprintln(c.App.Writer, name)
	}
	return nil
}

func tokenCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected exactly one argument: the path of the token file", exitConfig)
	}
	path := c.Args().First()
	if _, err := os.Stat(path); err == nil {
		return cli.Exit(fmt.Sprintf("%s already exists", path), exitConfig)
	}

	fmt.Fprint(c.App.ErrWriter, "Enter Cloudflare API token: ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(c.App.ErrWriter)
	if err != nil {
		return cli.Exit(fmt.Errorf("error reading from stdin: %w", err), exitFailure)
	}
	token := string(b)

	api, err := cloudflare.NewWithAPIToken(token, cloudflareOptions...)
	if err != nil {
		return cli.Exit(fmt.Errorf("error creating api client: %w", err), exitConfig)
	}
	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()
	result, err := api.VerifyAPIToken(ctx)
	if err != nil {
		return cli.Exit(fmt.Errorf("unable to verify api token: %w", err), exitConfig)
	}
	if result.Status != "active" {
		return cli.Exit(fmt.Sprintf("expected api token status to be \"active\"; got \"%s\"", result.Status), exitConfig)
	}

	if err := cfddns.WriteTokenFile(path, token); err != nil {
		return cli.Exit(err, exitFailure)
	}
	fmt.Fprintf(c.App.ErrWriter, "token written to %q\n", path)
	return nil
}

func configCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected exactly one argument: the path of the config file", exitConfig)
	}
	cfg, err := cfddns.Load(c.Args().First())
	if err != nil {
		return cli.Exit(err, exitConfig)
	}
	enc := yaml.NewEncoder(c.App.Writer)
	enc.SetIndent(2)
	if err := enc.Encode(cfg.Redacted()); err != nil {
		return cli.Exit(err, exitFailure)
	}
	return enc.Close()
}
