package main

import (
	"context"
	"sync"

	"github.com/Travis-Britz/cfddns"
	"github.com/judwhite/go-svc"
	"github.com/rs/zerolog"
)

// program runs the daemon under go-svc, which stops it on SIGINT or SIGTERM
// or when parent is done.
type program struct {
	parent context.Context
	client cfddns.DDNSClient
	daemon *cfddns.Daemon
	logger zerolog.Logger
	watch  func(context.Context) (<-chan cfddns.DDNSClient, error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (p *program) Init(env svc.Environment) error {
	if p.parent == nil {
		p.parent = context.Background()
	}
	p.ctx, p.cancel = context.WithCancel(p.parent)
	if env.IsWindowsService() {
		p.logger.Info().Msg("running as a windows service")
	}
	return nil
}

func (p *program) Context() context.Context { return p.parent }

func (p *program) Start() error {
	if p.watch != nil {
		reload, err := p.watch(p.ctx)
		if err != nil {
			p.cancel()
			return err
		}
		p.daemon.Reload = reload
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.daemon.Run(p.ctx, p.client); err != nil {
			p.logger.Error().Err(err).Msg("daemon stopped")
		}
	}()
	return nil
}

// Stop waits for an in-flight pass to finish.
func (p *program) Stop() error {
	p.cancel()
	p.wg.Wait()
	p.logger.Info().Msg("stopped")
	return nil
}
