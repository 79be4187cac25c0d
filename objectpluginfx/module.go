// Package objectpluginfx wires object servers and clients into fx apps.
package objectpluginfx

import (
	"context"

	objectplugin "github.com/masegraye/object-plugin-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// RegistrationGroup is the value group ServerModule reads registrations from.
const RegistrationGroup = "objectplugin_registrations"

type serverParams struct {
	fx.In

	Lifecycle     fx.Lifecycle
	Registrations []objectplugin.Registration `group:"objectplugin_registrations"`
	Logger        *zap.Logger                `optional:"true"`
}

// ServerModule creates an fx module that provides an object server.
// Registrations from cfg come first, then those supplied with Register.
// The server listens on fx.OnStart and shuts down on fx.OnStop.
func ServerModule(cfg objectplugin.ServeConfig) fx.Option {
	return fx.Module("objectplugin-server",
		fx.Provide(func(p serverParams) (*objectplugin.Server, error) {
			cfg := cfg
			cfg.Registrations = append(append([]objectplugin.Registration(nil), cfg.Registrations...), p.Registrations...)
			if cfg.Logger == nil {
				cfg.Logger = p.Logger
			}

			server, err := objectplugin.NewServer(cfg)
			if err != nil {
				return nil, err
			}

			p.Lifecycle.Append(fx.Hook{
				OnStart: server.Start,
				OnStop:  server.Stop,
			})
			return server, nil
		}),
		fx.Provide(func(s *objectplugin.Server) *objectplugin.Scope {
			return s.Scope()
		}),
	)
}

// Register adds reg to the server's registrations.
func Register(reg objectplugin.Registration) fx.Option {
	return fx.Provide(fx.Annotate(
		func() objectplugin.Registration { return reg },
		fx.ResultTags(`group:"objectplugin_registrations"`),
	))
}

// Publish makes obj available to clients under name once the server is built.
//
//	fx.New(
//	    objectpluginfx.ServerModule(cfg),
//	    objectpluginfx.Register(dashboard.Registration()),
//	    objectpluginfx.Publish("sales", salesTable),
//	)
func Publish(name string, obj any) fx.Option {
	return fx.Invoke(func(scope *objectplugin.Scope) error {
		return scope.Publish(name, obj)
	})
}

// ClientModule creates an fx module that provides an object client.
// The session starts on fx.OnStart and closes on fx.OnStop.
func ClientModule(cfg objectplugin.ClientConfig) fx.Option {
	return fx.Module("objectplugin-client",
		fx.Provide(func(lc fx.Lifecycle) (*objectplugin.Client, error) {
			client, err := objectplugin.NewClient(cfg)
			if err != nil {
				return nil, err
			}

			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					_, err := client.Session(ctx)
					return err
				},
				OnStop: client.Close,
			})

			return client, nil
		}),
	)
}
