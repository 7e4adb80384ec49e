package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/matst80/ws2s/internal/bridge"
	"github.com/matst80/ws2s/internal/config"
	"github.com/matst80/ws2s/internal/obs"
)

// CLI is the top-level Kong struct.
type CLI struct {
	Config           kong.ConfigFlag `short:"c" help:"TOML config file." placeholder:"FILE"`
	Bridge           string          `short:"b" default:"ws://localhost:3613" env:"WS2S_BRIDGE" help:"Bridge URL (ws, wss, http or https)."`
	Debug            bool            `env:"WS2S_DEBUG" help:"Enable debug logs."`
	HandshakeTimeout time.Duration   `default:"10s" help:"Time allowed for the bridge to open the tunnel."`

	Session SessionCmd `cmd:"" help:"Open a tunnel, send stdin lines and print what comes back."`
	Get     GetCmd     `cmd:"" help:"Send an HTTP/1.0 GET through the bridge and print the status line."`
	Echo    EchoCmd    `cmd:"" help:"Check that a message comes back from an echo server."`
}

func main() {
	var cli CLI
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	k := kong.Parse(&cli,
		kong.Name("ws2s"),
		kong.Description("Talk to TCP servers through a ws2s WebSocket bridge."),
		kong.UsageOnError(),
		kong.Configuration(config.TOML, "~/.config/ws2s/ws2s.toml"),
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.BindTo(os.Stdout, (*io.Writer)(nil)),
	)
	if cli.Debug {
		obs.EnableDebug(true)
	}
	err := k.Run(&cli)
	obs.Sync()
	k.FatalIfErrorf(err)
}

func (g *CLI) newClient() *bridge.Client {
	return bridge.NewClient(bridge.Options{HandshakeTimeout: g.HandshakeTimeout})
}

// dial opens a tunnel and waits for the bridge to confirm it.
func (g *CLI) dial(ctx context.Context, cl *bridge.Client, host, port string) (bridge.Handle, error) {
	return cl.ConnectWait(ctx, bridge.Config{
		BridgeURL: g.Bridge,
		Host:      host,
		Port:      port,
		OnConnect: func() { obs.Debug("cli.connected", obs.Fields{"host": host, "port": port}) },
	})
}

func shutdown(cl *bridge.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = cl.Shutdown(ctx)
}
