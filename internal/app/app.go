// Package app wires the relay together: config, logging, storage, queue,
// transports, renderer, enrichment, dispatcher, batch pipeline, gateway.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hookrelay/internal/config"
	"hookrelay/internal/dispatch"
	"hookrelay/internal/enrich"
	"hookrelay/internal/gateway"
	"hookrelay/internal/metrics"
	"hookrelay/internal/pipeline"
	"hookrelay/internal/queue"
	"hookrelay/internal/render"
	"hookrelay/internal/runtime/supervisor"
	"hookrelay/internal/storage"
	"hookrelay/internal/transport"
	"hookrelay/internal/transport/onebot"
	"hookrelay/internal/transport/telegram"
	logx "hookrelay/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store    storage.Store
	queue    *queue.Queue
	metrics  *metrics.Metrics
	registry *transport.Registry
	renders  *render.Manager

	dispatcher *dispatch.Dispatcher
	pipe       *pipeline.Pipeline
	gw         *gateway.Server
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	if _, err := cfgm.Load(); err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return &App{cfgPath: cfgPath, cfgm: cfgm}, nil
}

// Done closes when the app's run context is cancelled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()

	a.logs, a.log = logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)

	// Storage (optional).
	store, err := openStorage(cfg.Storage, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	a.store = store

	a.queue = queue.New(ctx, a.store, a.log.With(logx.String("comp", "queue")))
	a.metrics = metrics.New()
	a.metrics.QueueDepth.Set(float64(a.queue.Len()))

	// Transports. A failed adapter construction is logged, not fatal:
	// dispatch falls back to whatever is available.
	a.registry = transport.NewRegistry(a.log.With(logx.String("comp", "transport")))
	if tc := cfg.Transports.OneBot; tc != nil {
		ad, err := onebot.New(onebot.Config{
			Endpoint:    tc.Endpoint,
			AccessToken: tc.AccessToken,
		}, a.log.With(logx.String("comp", "onebot")))
		if err != nil {
			a.log.Warn("onebot adapter unavailable", logx.Err(err))
		} else {
			a.registry.Register(ad)
		}
	}
	if tc := cfg.Transports.Telegram; tc != nil {
		pollTimeout, err := config.ParseDurationOrDefault("transports.telegram.poll_timeout", tc.PollTimeout, 10*time.Second)
		if err != nil {
			return err
		}
		ad, err := telegram.New(telegram.Config{
			Token:       tc.Token,
			PollTimeout: pollTimeout,
		}, a.log.With(logx.String("comp", "telegram")))
		if err != nil {
			a.log.Warn("telegram adapter unavailable", logx.Err(err))
		} else {
			a.registry.Register(ad)
		}
	}

	// Renderer: lazily initialized on first dispatch, torn down once at stop.
	renderCfg := cfg.Render
	renderLog := a.log.With(logx.String("comp", "render"))
	a.renders = render.NewManager(func() (render.Engine, error) {
		return render.NewHTTPEngine(render.Options{
			ServiceURL: renderCfg.ServiceURL,
			Timeout:    renderCfg.EffectiveTimeout(),
			Scale:      renderCfg.Scale,
		}, renderLog)
	}, renderLog)

	// Enrichment providers.
	enrichLog := a.log.With(logx.String("comp", "enrich"))
	common := enrich.NewCommon(enrichLog)
	enricher := enrich.NewDispatch(enrichLog,
		enrich.NewMedia(cfg.Enrich.EffectiveCacheTTL(), nil, enrichLog),
		enrich.NewGame(nil, cfg.Enrich.GameAIAnalyze, enrichLog),
		common,
	)

	a.dispatcher = dispatch.New(a.registry, a.renders, a.store, a.metrics,
		a.log.With(logx.String("comp", "dispatch")))
	a.dispatcher.Apply(deliverySettings(cfg))

	a.pipe = pipeline.New(a.queue, enricher, a.dispatcher, a.metrics,
		a.log.With(logx.String("comp", "pipeline")))
	a.pipe.Apply(pipelineSettings(cfg))
	if err := a.pipe.Start(cfg.Batch.EffectiveInterval()); err != nil {
		return err
	}

	// Gateway. Port and routes are restart-bound; token and group are read
	// through the manager so hot reloads apply to in-flight traffic.
	a.gw = gateway.New(gateway.Options{
		Port:      cfg.Webhook.EffectivePort(),
		Routes:    routesFor(cfg),
		Templates: templatesFor(cfg),
		BodyLimit: cfg.Webhook.EffectiveBodyLimit(),
		Token:     func() string { return a.cfgm.Get().Webhook.Token },
		Group:     func() string { return strings.TrimSpace(a.cfgm.Get().Delivery.GroupID) },
	}, a.queue, common, a.store, a.metrics, a.log.With(logx.String("comp", "gateway")))
	if err := a.gw.Start(a.sup.Context()); err != nil {
		return err
	}

	a.startReloadLoop(cfg)

	// Watch self-heals its fsnotify watcher internally and returns only when
	// the watcher cannot be recreated at all; restart it with backoff so a
	// transient failure never permanently kills config reload.
	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	}, supervisor.WithRestartBackoff(time.Second, 30*time.Second))

	a.log.Info("hookrelay started",
		logx.Int("port", cfg.Webhook.EffectivePort()),
		logx.Int("pending", a.queue.Len()),
		logx.Any("transports", a.registry.Names()),
	)
	return nil
}

// startReloadLoop applies hot-reloadable config sections as they arrive.
func (a *App) startReloadLoop(initial *config.Config) {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := initial
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: only the latest config matters.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
				if len(sections) == 0 {
					a.log.Debug("config reload received, but no effective changes detected")
					continue
				}
				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config change summary", fields...)

				a.applyReload(lastApplied, newCfg, sections)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyReload(oldCfg, newCfg *config.Config, sections []string) {
	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: newCfg.Logging.File.Enabled,
					Path:    newCfg.Logging.File.Path,
				},
			})
		case "delivery":
			a.dispatcher.Apply(deliverySettings(newCfg))
			a.pipe.Apply(pipelineSettings(newCfg))
		case "batch":
			a.pipe.Apply(pipelineSettings(newCfg))
			if oldCfg.Batch.EffectiveInterval() != newCfg.Batch.EffectiveInterval() {
				if err := a.pipe.Reschedule(newCfg.Batch.EffectiveInterval()); err != nil {
					a.log.Warn("batch interval reschedule failed", logx.Err(err))
				}
			}
		case "webhook":
			// Token changes apply live (read through the manager). Port and
			// route changes need a new listener.
			if oldCfg.Webhook.EffectivePort() != newCfg.Webhook.EffectivePort() ||
				!equalRoutes(routesFor(oldCfg), routesFor(newCfg)) {
				a.log.Warn("webhook port/routes changed; restart required for changes to take effect")
			}
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "transports":
			a.log.Warn("transport config changed; restart required for changes to take effect")
		case "render", "enrich":
			a.log.Warn("render/enrich config changed; restart required for changes to take effect")
		}
	}
}

// Stop shuts components down in dependency order, each step bounded so one
// stuck component can't stall the whole stop.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("gateway", 3*time.Second, func(c context.Context) error {
		if a.gw != nil {
			return a.gw.Stop(c)
		}
		return nil
	})
	step("pipeline", 5*time.Second, func(c context.Context) error {
		if a.pipe != nil {
			return a.pipe.Stop(c)
		}
		return nil
	})
	step("render", 2*time.Second, func(context.Context) error {
		if a.renders != nil {
			return a.renders.Close()
		}
		return nil
	})
	step("storage", 1*time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	if snap := a.sup.Snapshot(); snap.Active > 0 {
		a.log.Warn("goroutines still active after stop",
			logx.Int64("active", snap.Active),
			logx.Uint64("started", snap.Started),
		)
	}

	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func openStorage(sc *config.StorageConfig, log logx.Logger) (storage.Store, error) {
	if sc == nil {
		return nil, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return storage.Open(storage.Config{
		Driver:      sc.Driver,
		Path:        sc.Path,
		BusyTimeout: busy,
	}, log)
}

func deliverySettings(cfg *config.Config) dispatch.Settings {
	return dispatch.Settings{
		Platform:   cfg.Delivery.EffectivePlatform(),
		GroupID:    strings.TrimSpace(cfg.Delivery.GroupID),
		SenderID:   cfg.Delivery.EffectiveSenderID(),
		SenderName: cfg.Delivery.EffectiveSenderName(),
		Spacing:    cfg.Delivery.EffectiveSendSpacing(),
	}
}

func pipelineSettings(cfg *config.Config) pipeline.Settings {
	return pipeline.Settings{
		MinSize:          cfg.Batch.EffectiveMinSize(),
		TargetConfigured: strings.TrimSpace(cfg.Delivery.GroupID) != "",
	}
}

func routesFor(cfg *config.Config) map[string][]string {
	return map[string][]string{
		config.CategoryMedia:  cfg.Webhook.RoutesFor(config.CategoryMedia),
		config.CategoryGame:   cfg.Webhook.RoutesFor(config.CategoryGame),
		config.CategoryCommon: cfg.Webhook.RoutesFor(config.CategoryCommon),
	}
}

func templatesFor(cfg *config.Config) map[string]string {
	return map[string]string{
		config.CategoryMedia:  cfg.Webhook.TemplateFor(config.CategoryMedia),
		config.CategoryGame:   cfg.Webhook.TemplateFor(config.CategoryGame),
		config.CategoryCommon: cfg.Webhook.TemplateFor(config.CategoryCommon),
	}
}

func equalRoutes(a, b map[string][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
	}
	return true
}
