package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"custodyledger/internal/adapters/exports"
	"custodyledger/internal/adapters/httpapi"
	"custodyledger/internal/blob"
	"custodyledger/internal/config"
	"custodyledger/internal/core"
	"custodyledger/internal/notify"
	"custodyledger/internal/platform/httpserver"
	"custodyledger/internal/platform/metrics"
	"custodyledger/pkg/domain"
)

// app owns every long-lived component of the daemon.
type app struct {
	logger  *slog.Logger
	store   domain.PersistentStore
	fanout  *notify.Fanout
	broker  *notify.Broker
	audit   *notify.AuditLog
	svc     *core.Service
	proc    *core.Processor
	exports *exports.Worker
	server  *http.Server
}

// newApp opens storage, sinks and workers from cfg. On error everything
// opened so far is closed again.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, retErr error) {
	a := &app{logger: logger}
	defer func() {
		if retErr != nil {
			retErr = errors.Join(retErr, a.closeResources())
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, err := core.OpenPersistentStore(ctx, core.StorageOptions{
		Driver:      core.StorageDriver(cfg.Storage.Driver),
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	sinks, err := a.openSinks(ctx, cfg.Notify)
	if err != nil {
		return nil, err
	}
	a.fanout = notify.NewFanout(sinks,
		notify.WithTimeout(cfg.Notify.Timeout),
		notify.WithLogger(logger),
		notify.WithObserver(m),
	)

	a.svc = core.NewService(store,
		core.WithNotifier(a.fanout),
		core.WithLogger(logger),
		core.WithMetrics(m),
	)
	if cfg.Ledger.Owner != "" {
		roles, err := a.svc.BootstrapOwner(ctx, domain.NormalizeIdentity(cfg.Ledger.Owner))
		if err != nil {
			return nil, fmt.Errorf("bootstrap owner: %w", err)
		}
		logger.InfoContext(ctx, "ledger owner", "owner", roles.Owner)
	}

	a.proc = core.NewProcessor(a.svc, cfg.Processor.QueueSize,
		core.WithProcessorLogger(logger),
		core.WithQueueObserver(m),
	)

	objects, err := blob.Open(ctx, blob.Options{
		Driver:          blob.Driver(cfg.Blob.Driver),
		Root:            cfg.Blob.Root,
		Bucket:          cfg.Blob.Bucket,
		Region:          cfg.Blob.Region,
		Endpoint:        cfg.Blob.Endpoint,
		UsePathStyle:    cfg.Blob.UsePathStyle,
		AccessKeyID:     cfg.Blob.AccessKeyID,
		SecretAccessKey: cfg.Blob.SecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	a.exports = exports.NewWorker(a.svc, objects,
		exports.WithQueueSize(cfg.Export.QueueSize),
		exports.WithPrefix(cfg.Export.Prefix),
		exports.WithLogger(logger),
		exports.WithObserver(m),
	)

	h := httpapi.New(a.svc, a.proc,
		httpapi.WithLogger(logger),
		httpapi.WithExports(a.exports),
		httpapi.WithRequestObserver(m),
		httpapi.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
	)
	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	a.server = httpserver.New(addr, h.Routes(), httpserver.Timeouts{
		Read:  cfg.Server.ReadTimeout,
		Write: cfg.Server.WriteTimeout,
		Idle:  cfg.Server.IdleTimeout,
	})
	return a, nil
}

// openSinks always includes the in-process broker; Kafka and Redis join when
// configured.
func (a *app) openSinks(ctx context.Context, cfg config.NotifyConfig) ([]notify.Sink, error) {
	a.broker = notify.NewBroker(cfg.BrokerBuffer)
	sinks := []notify.Sink{a.broker}
	if len(cfg.KafkaBrokers) > 0 {
		k, err := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("kafka sink: %w", err), a.broker.Close())
		}
		sinks = append(sinks, k)
	}
	if cfg.RedisURL != "" {
		r, err := notify.NewRedisSink(ctx, cfg.RedisURL, cfg.RedisChannel)
		if err != nil {
			closeErr := notify.NewFanout(sinks).Close()
			return nil, errors.Join(fmt.Errorf("redis sink: %w", err), closeErr)
		}
		sinks = append(sinks, r)
	}
	return sinks, nil
}

// start launches the background workers and the event audit log.
func (a *app) start(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	a.audit = notify.StartAuditLog(ctx, a.broker, a.logger)
	a.proc.Start(ctx)
	a.exports.Start()
}

// shutdown stops intake first, then drains the writer, then releases storage.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if a.proc != nil {
		if err := a.proc.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("processor drain: %w", err))
		}
	}
	if a.exports != nil {
		if err := a.exports.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("export worker: %w", err))
		}
	}
	if a.audit != nil {
		a.audit.Stop()
		a.audit = nil
	}
	errs = append(errs, a.closeResources())
	return errors.Join(errs...)
}

func (a *app) closeResources() error {
	var errs []error
	if a.fanout != nil {
		errs = append(errs, a.fanout.Close())
		a.fanout = nil
	} else if a.broker != nil {
		errs = append(errs, a.broker.Close())
	}
	a.broker = nil
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	return errors.Join(errs...)
}
