package syncer

import (
	"context"

	"github.com/wilfranr/control-id-miid/internal/conf"
	"github.com/wilfranr/control-id-miid/internal/device"
	"github.com/wilfranr/control-id-miid/internal/enrollment"
	"github.com/wilfranr/control-id-miid/internal/httpclient"
	"github.com/wilfranr/control-id-miid/internal/logger"
	"github.com/wilfranr/control-id-miid/internal/photo"
	"github.com/wilfranr/control-id-miid/internal/reconcile"
)

// EnrollmentSource yields qualifying enrollments
type EnrollmentSource interface {
	Latest(ctx context.Context) (*enrollment.Record, error)
	ByDocument(ctx context.Context, document string) (*enrollment.Record, error)
	Ping(ctx context.Context) error
}

// PhotoSource fetches enrollment photos
type PhotoSource interface {
	reconcile.Photos
	Ping(ctx context.Context) error
}

// DeviceDirectory is the device client as used by the service
type DeviceDirectory interface {
	reconcile.Directory
	Ping(ctx context.Context) error
	Invalidate()
}

// Backends are the per-environment collaborators. They are rebuilt on
// every environment switch.
type Backends struct {
	Environment string
	Enrollment  EnrollmentSource
	Photos      PhotoSource
	Device      DeviceDirectory

	closers []func()
}

// Close releases idle connections of the backends' HTTP clients
func (b *Backends) Close() {
	for _, fn := range b.closers {
		fn()
	}
}

// BackendFactory builds the collaborators of one resolved environment
type BackendFactory func(env *conf.Environment) (*Backends, error)

// NewBackendFactory returns the factory used in production. HTTP settings
// are shared by the device client and the photo downloader.
func NewBackendFactory(settings *conf.Settings, observer device.Observer) BackendFactory {
	return func(env *conf.Environment) (*Backends, error) {
		global := logger.Global()

		deviceHTTP := httpclient.New(&httpclient.Config{
			DefaultTimeout: settings.HTTP.Timeout,
			UserAgent:      settings.HTTP.UserAgent,
		})
		photoHTTP := httpclient.New(&httpclient.Config{
			DefaultTimeout: photo.DownloadTimeout,
			UserAgent:      settings.HTTP.UserAgent,
		})

		deviceOpts := []device.Option{device.WithHTTPClient(deviceHTTP)}
		if observer != nil {
			deviceOpts = append(deviceOpts, device.WithObserver(observer))
		}

		envField := logger.String("environment", env.Name)
		photos := photo.NewSource(env.PhotoDB, env.Storage, global.Module("photo").With(envField),
			photo.WithHTTPClient(photoHTTP))

		return &Backends{
			Environment: env.Name,
			Enrollment:  enrollment.NewSource(env.SourceDB, global.Module("enrollment").With(envField)),
			Photos:      photos,
			Device:      device.NewClient(env.Device, global.Module("device").With(envField), deviceOpts...),
			closers:     []func(){deviceHTTP.Close, photoHTTP.Close},
		}, nil
	}
}
