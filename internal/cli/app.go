package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/gophvault/internal/config"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/services"
	"golang.org/x/sync/errgroup"
)

// App is the interactive front end of one vault.
type App struct {
	cfg   *config.Config
	log   logging.Logger
	vault *services.Vault
	in    *bufio.Reader
	out   io.Writer
	cmds  map[string]command
}

// NewApp builds the services for cfg and binds them to the given streams.
func NewApp(cfg *config.Config, log logging.Logger, in io.Reader, out io.Writer) *App {
	a := &App{
		cfg:   cfg,
		log:   log,
		vault: services.NewVault(cfg, log),
		in:    bufio.NewReader(in),
		out:   out,
	}
	a.cmds = a.commands()
	return a
}

// Run starts the periodic backup loop next to the REPL and returns once the
// REPL ends. The vault is flushed and locked on the way out.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	replCtx, stop := context.WithCancel(gctx)
	defer stop()

	g.Go(func() error {
		return a.vault.Backups.RunPeriodic(replCtx)
	})
	g.Go(func() error {
		defer stop()
		runREPL(replCtx, a, a.status, a.in, a.out)
		return nil
	})

	runErr := g.Wait()
	closeErr := a.vault.Close(context.WithoutCancel(ctx))
	return errors.Join(runErr, closeErr)
}

func (a *App) status() string {
	return fmt.Sprintf("(%s)", a.vault.Auth.State())
}

// OpenLogger creates the logger configured in cfg. A relative log file is
// placed next to the store, "-" logs to stderr. The returned close func is
// never nil.
func OpenLogger(cfg *config.Config) (logging.Logger, func() error, error) {
	noop := func() error { return nil }

	if cfg.LogFile == "-" {
		l, err := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
		if err != nil {
			return nil, noop, err
		}
		return l, noop, nil
	}

	path := cfg.LogFile
	if path == "" {
		return logging.Nop(), noop, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(cfg.StorePath), path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, noop, fmt.Errorf("open log file: %w", err)
	}
	l, err := logging.New(f, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		_ = f.Close()
		return nil, noop, err
	}
	return l, f.Close, nil
}
