package main

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fcinq/genchat/internal/display"
	"github.com/fcinq/genchat/internal/image"
	"github.com/fcinq/genchat/internal/logger"
	"github.com/fcinq/genchat/internal/orchestrator"
	"github.com/fcinq/genchat/internal/progress"
	"github.com/fcinq/genchat/internal/provider"
	"github.com/fcinq/genchat/internal/resolver"
	"github.com/fcinq/genchat/internal/session"
)

// env carries the wired components for one command invocation.
type env struct {
	log      *logrus.Logger
	store    session.Store
	session  *session.Manager
	orch     *orchestrator.Orchestrator
	composer *orchestrator.Composer
	renderer *display.Renderer
	saver    *image.Saver
	endpoint string
}

type setupOptions struct {
	render   bool
	progress bool
}

func (a *App) setup(ctx context.Context, opts setupOptions) (*env, error) {
	cfg := a.cfg
	log := logger.New(cfg.Log.Level, cfg.Log.Format, a.Err)

	e := &env{
		log:      log,
		saver:    a.NewSaver(),
		endpoint: cfg.WebhookURL,
	}

	store, err := a.OpenStore(ctx, session.Options{
		Driver:    cfg.Store.Driver,
		Path:      cfg.Store.Path,
		RedisAddr: cfg.Store.RedisAddr,
	})
	if err != nil {
		log.WithError(err).Warn("session store unavailable, session id and costs will not persist")
		e.session = session.NewManager(nil, logger.Component(log, "session"))
	} else {
		e.store = store
		e.session = session.NewManager(store, logger.Component(log, "session"))
	}

	var dispatcher provider.Dispatcher
	if cfg.WebhookConfigured() {
		dispatcher, err = a.NewDispatcher(&provider.Config{
			Endpoint:  cfg.WebhookURL,
			UserAgent: "genchat/" + version,
		}, logger.Component(log, "webhook"))
		if err != nil {
			e.Close()
			return nil, err
		}
	}

	orchOpts := orchestrator.Options{
		Resolver:   resolver.New(nil),
		Session:    e.session,
		Dispatcher: dispatcher,
		Ledger:     e.session,
		Observer:   orchestrator.LogObserver{Log: logger.Component(log, "orchestrator")},
		Log:        logger.Component(log, "orchestrator"),
	}
	if opts.render {
		inline := cfg.Display.Inline && progress.IsTerminal(a.Out) && display.SupportsInline(a.GetEnv)
		e.renderer = display.New(a.Out, e.saver, inline, logger.Component(log, "display"))
		orchOpts.Renderer = e.renderer
	}
	if opts.progress {
		if cfg.Progress.Enabled {
			orchOpts.Progress = progress.ForTerminal(a.Out)
		} else {
			orchOpts.Progress = progress.New(a.Out, false)
		}
	}

	e.orch = orchestrator.New(orchOpts)
	e.composer = orchestrator.NewComposer(e.orch.Resolver(), e.orch.Context())
	return e, nil
}

func (e *env) Close() {
	if e.store == nil {
		return
	}
	if err := e.store.Close(); err != nil {
		e.log.WithError(err).Warn("failed to close session store")
	}
}

func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}
