package cli

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/diarystore/internal/config"
	"github.com/roach88/diarystore/internal/engine"
	"github.com/roach88/diarystore/internal/record"
	"github.com/roach88/diarystore/internal/schema"
	"github.com/roach88/diarystore/internal/store"
)

// session is an open store and engine plus the formatter for one command.
type session struct {
	cfg    config.Config
	store  *store.Store
	engine *engine.Engine
	log    *slog.Logger
	out    *OutputFormatter
}

// resolve loads the config file and environment, then applies flag
// overrides.
func (o *RootOptions) resolve() (config.Config, error) {
	cfg, err := config.Load(o.ConfigFile)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Database != "" {
		cfg.Store.DSN = o.Database
	}
	if o.Driver != "" {
		cfg.Store.Driver = o.Driver
	}
	if o.ActorID != "" {
		cfg.Actor.ID = o.ActorID
	}
	if o.Role != "" {
		cfg.Actor.Role = o.Role
	}
	if o.Sites != nil {
		cfg.Actor.Sites = o.Sites
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// formatter builds the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// newLogger builds the slog logger described by cfg. Verbose forces debug.
func newLogger(cfg config.LogConfig, verbose bool, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	}
	return slog.New(slog.NewTextHandler(w, hopts)), nil
}

// open resolves configuration and opens the store and engine.
func (o *RootOptions) open(cmd *cobra.Command) (*session, error) {
	cfg, err := o.resolve()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Log, o.Verbose, cmd.ErrOrStderr())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid log level", err)
	}

	rules, err := schema.Load(cfg.Rules.File)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load payload rules", err)
	}

	driver, err := store.ParseDriver(cfg.Store.Driver)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid driver", err)
	}
	st, err := store.Open(driver, cfg.Store.DSN)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	logger.Debug("store opened", "driver", driver, "dsn", cfg.Store.DSN)

	return &session{
		cfg:   cfg,
		store: st,
		engine: engine.New(st,
			engine.WithRules(rules),
			engine.WithLogger(logger),
		),
		log: logger,
		out: o.formatter(cmd),
	}, nil
}

// Close releases the store.
func (s *session) Close() error {
	return s.store.Close()
}

// actor returns the configured acting identity.
func (s *session) actor() (record.ActorContext, error) {
	a := s.cfg.Actor
	if a.ID == "" {
		return record.ActorContext{}, NewExitError(ExitCommandError, "an acting identity is required (--actor or actor.id)")
	}
	role, err := record.ParseRole(a.Role)
	if err != nil {
		return record.ActorContext{}, WrapExitError(ExitCommandError, "invalid role", err)
	}
	return record.ActorContext{ActorID: a.ID, Role: role, Sites: a.Sites}, nil
}

// withSession opens a session and an actor, runs fn and closes the store.
// Engine errors from fn are reported through the formatter.
func (o *RootOptions) withSession(cmd *cobra.Command, fn func(s *session, actor record.ActorContext) error) error {
	s, err := o.open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	actor, err := s.actor()
	if err != nil {
		return err
	}
	if err := fn(s, actor); err != nil {
		return s.out.Fail(err)
	}
	return nil
}
