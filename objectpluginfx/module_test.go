package objectpluginfx

import (
	"context"
	"testing"

	objectplugin "github.com/masegraye/object-plugin-go"
	"github.com/masegraye/object-plugin-go/internal/objecttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap/zaptest"
)

func TestServerModule(t *testing.T) {
	var server *objectplugin.Server

	app := fxtest.New(t,
		fx.Supply(zaptest.NewLogger(t)),
		ServerModule(objectplugin.ServeConfig{Addr: "127.0.0.1:0"}),
		Register(objecttest.Registration()),
		Publish("greeting", &objecttest.Text{Value: "hello"}),
		fx.Populate(&server),
	)

	app.RequireStart()
	defer app.RequireStop()

	require.NotNil(t, server)
	assert.NotEmpty(t, server.Addr())
	assert.Equal(t, []string{"greeting"}, server.Scope().Names())
	assert.Len(t, server.Registry().ObjectTypes(), 2)
}

func TestServerModuleRequiresRegistrations(t *testing.T) {
	app := fx.New(
		fx.NopLogger,
		ServerModule(objectplugin.ServeConfig{Addr: "127.0.0.1:0"}),
		fx.Invoke(func(*objectplugin.Server) {}),
	)
	require.Error(t, app.Err())
}

func TestClientModule(t *testing.T) {
	scope := objectplugin.NewScope()
	require.NoError(t, scope.Publish("greeting", &objecttest.Text{Value: "hello"}))

	server, err := objectplugin.NewServer(objectplugin.ServeConfig{
		Addr:          "127.0.0.1:0",
		Registrations: []objectplugin.Registration{objecttest.Registration()},
		Scope:         scope,
	})
	require.NoError(t, err)
	require.NoError(t, server.Start(context.Background()))
	defer server.Stop(context.Background())

	var client *objectplugin.Client
	app := fxtest.New(t,
		ClientModule(objectplugin.ClientConfig{Endpoint: "http://" + server.Addr()}),
		fx.Populate(&client),
	)

	app.RequireStart()
	assert.Equal(t, 1, server.SessionCount())

	resp, err := client.Fetch(context.Background(), "greeting")
	require.NoError(t, err)
	assert.Equal(t, objecttest.TextTypeName, resp.Type)
	assert.Equal(t, "hello", string(resp.Payload))

	app.RequireStop()
	assert.Equal(t, 0, server.SessionCount())
}
