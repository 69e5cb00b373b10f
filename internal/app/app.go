// Package app assembles the synchronizer from settings: metrics, journal,
// event bus with its sinks, environment resolver and the sync service.
package app

import (
	"context"
	"time"

	"github.com/wilfranr/control-id-miid/internal/api"
	"github.com/wilfranr/control-id-miid/internal/conf"
	"github.com/wilfranr/control-id-miid/internal/datastore"
	"github.com/wilfranr/control-id-miid/internal/environment"
	"github.com/wilfranr/control-id-miid/internal/errors"
	"github.com/wilfranr/control-id-miid/internal/events"
	"github.com/wilfranr/control-id-miid/internal/logger"
	"github.com/wilfranr/control-id-miid/internal/mqtt"
	"github.com/wilfranr/control-id-miid/internal/notification"
	"github.com/wilfranr/control-id-miid/internal/observability"
	"github.com/wilfranr/control-id-miid/internal/syncer"
)

const busShutdownTimeout = 10 * time.Second

// App holds the wired components. Journal is nil when journaling is disabled.
type App struct {
	Settings *conf.Settings
	Metrics  *observability.Metrics
	Journal  *datastore.Journal
	Bus      *events.Bus
	Resolver *environment.Resolver
	Service  *syncer.Service

	mqttClient mqtt.Client
	log        logger.Logger
}

// New wires every component enabled in settings. Sink failures are logged
// and the sink is left out; a journal that cannot be opened is an error.
func New(settings *conf.Settings) (*App, error) {
	a := &App{
		Settings: settings,
		log:      GetLogger(),
	}

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("operation", "init_metrics").
			Build()
	}
	a.Metrics = m

	if settings.Journal.Enabled {
		journal, err := datastore.Open(settings.Journal, nil)
		if err != nil {
			return nil, err
		}
		a.Journal = journal
	}

	a.Bus = events.New(settings.Events, nil, events.WithDropHook(m.Sync.IncrementEventsDropped))
	a.registerSinks()

	a.Resolver = environment.New(settings, nil)

	opts := []syncer.Option{
		syncer.WithPublisher(a.Bus),
		syncer.WithMetrics(m.Sync),
	}
	if a.Journal != nil {
		opts = append(opts, syncer.WithRecorder(a.Journal))
	}
	a.Service = syncer.New(settings, a.Resolver, syncer.NewBackendFactory(settings, m.Sync), opts...)

	return a, nil
}

func (a *App) registerSinks() {
	if a.Settings.MQTT.Enabled {
		cfg := mqtt.ConfigFromSettings(a.Settings.MQTT)
		a.mqttClient = mqtt.NewClient(cfg, nil)
		if err := a.Bus.Register(mqtt.NewPublisher(a.mqttClient, cfg)); err != nil {
			a.log.Warn("MQTT publisher not registered", logger.Error(err))
		}
	}

	if a.Settings.Notification.Enabled {
		notifier, err := notification.New(a.Settings.Notification, nil)
		if err != nil {
			a.log.Warn("notifications disabled", logger.Error(err))
			return
		}
		if err := a.Bus.Register(notifier); err != nil {
			a.log.Warn("notifier not registered", logger.Error(err))
		}
	}
}

// Run starts the poll loop, the control API and the metrics endpoint and
// blocks until ctx is done. Components are stopped in reverse order.
func (a *App) Run(ctx context.Context) error {
	var server *api.Server
	if a.Settings.API.Enabled {
		opts := []api.ServerOption{api.WithMetrics(a.Metrics)}
		if a.Journal != nil {
			opts = append(opts, api.WithJournal(a.Journal))
		}
		s, err := api.New(a.Settings, a.Service, opts...)
		if err != nil {
			return err
		}
		server = s
		server.Start()
	}

	var endpoint *observability.Endpoint
	if a.Settings.Metrics.Enabled && a.Settings.Metrics.Listen != "" {
		e, err := observability.NewEndpoint(a.Settings, a.Metrics)
		if err != nil {
			a.shutdownServer(server)
			return err
		}
		endpoint = e
		endpoint.Start(ctx)
	}

	err := a.Service.Run(ctx)

	a.shutdownServer(server)
	if endpoint != nil {
		endpoint.Wait()
	}
	return err
}

func (a *App) shutdownServer(server *api.Server) {
	if server == nil {
		return
	}
	// the run context is already cancelled here
	if err := server.Shutdown(context.Background()); err != nil {
		a.log.Warn("control API shutdown failed", logger.Error(err))
	}
}

// Close stops the service, drains the event bus and closes the journal and
// the broker connection. It is safe to call once after New succeeded.
func (a *App) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	keep(a.Service.Close())
	if err := a.Bus.Shutdown(busShutdownTimeout); err != nil {
		a.log.Warn("event bus did not drain", logger.Error(err))
	}
	if a.mqttClient != nil {
		a.mqttClient.Disconnect()
	}
	if a.Journal != nil {
		keep(a.Journal.Close())
	}
	return first
}
