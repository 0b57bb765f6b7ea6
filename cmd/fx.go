package cmd

import (
	"log/slog"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/webitel/im-forum-delivery/config"
	grpcsrv "github.com/webitel/im-forum-delivery/infra/server/grpc"
	httpsrv "github.com/webitel/im-forum-delivery/infra/server/http"
	storedi "github.com/webitel/im-forum-delivery/infra/store/di"
	"github.com/webitel/im-forum-delivery/infra/telemetry"
	pubsubadapter "github.com/webitel/im-forum-delivery/internal/adapter/pubsub"
	"github.com/webitel/im-forum-delivery/internal/domain/presence"
	"github.com/webitel/im-forum-delivery/internal/domain/registry"
	amqpdi "github.com/webitel/im-forum-delivery/internal/handler/amqp"
	httpapi "github.com/webitel/im-forum-delivery/internal/handler/http"
	"github.com/webitel/im-forum-delivery/internal/service"
)

// NewApp assembles the delivery process. Extra options are appended after
// the modules.
func NewApp(cfg *config.Config, extra ...fx.Option) *fx.App {
	opts := []fx.Option{
		fx.Provide(
			func() *config.Config { return cfg },
			func() telemetry.Build {
				return telemetry.Build{Service: ServiceName, Namespace: ServiceNamespace, Version: version}
			},
			ProvideLogger,
			ProvideWatermillLogger,
		),
		fx.WithLogger(func(l *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: l.With("component", "fx")}
		}),
		telemetry.Module,
		storedi.Module,
		pubsubadapter.Module,
		registry.Module,
		presence.Module,
		service.Module,
		amqpdi.Module,
		httpapi.Module,
		httpsrv.Module,
		grpcsrv.Module,
	}
	return fx.New(append(opts, extra...)...)
}
