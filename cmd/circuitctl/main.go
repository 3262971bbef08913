package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/simcircuit/internal/client"
	"github.com/danmuck/simcircuit/internal/config"
	"github.com/danmuck/simcircuit/internal/debugapi"
	"github.com/danmuck/simcircuit/internal/dispatch"
	logs "github.com/danmuck/simcircuit/internal/logging"
	"github.com/danmuck/simcircuit/internal/observability"
	"github.com/danmuck/simcircuit/internal/protocol/codec"
	"github.com/danmuck/simcircuit/internal/protocol/template"
	"github.com/rs/zerolog"
)

const logoutTimeout = 5 * time.Second

type options struct {
	configPath   string
	overridePath string
	chat         string
	channel      int
	debug        bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "cmd/circuitctl/config.toml", "client config path")
	flag.StringVar(&opts.overridePath, "overrides", "", "optional TOML file overriding config keys")
	flag.StringVar(&opts.chat, "chat", "", "chat line to send once the circuit is open")
	flag.IntVar(&opts.channel, "channel", 0, "chat channel")
	flag.BoolVar(&opts.debug, "debug-api", true, "serve the debug HTTP API")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "circuitctl: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := loadClientConfig(opts.configPath, opts.overridePath)
	if err != nil {
		return err
	}
	logger := observability.InitLogger("circuitctl")
	applyLogLevel(cfg.LogLevel)

	reg, err := config.Registry(cfg)
	if err != nil {
		return err
	}
	session, err := config.ClientSession(cfg)
	if err != nil {
		return err
	}
	clientCfg, err := config.ClientOptions(cfg)
	if err != nil {
		return err
	}
	c, err := client.New(reg, clientCfg, session)
	if err != nil {
		return err
	}
	defer c.Close()

	loggedOut := make(chan struct{}, 1)
	if err := registerListeners(c, observability.Component(logger, "chat", cfg.Name), loggedOut); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.Open(ctx); err != nil {
		return err
	}
	if _, err := c.SendAgentThrottle(ctx, 0); err != nil {
		return err
	}
	if opts.chat != "" {
		if _, err := c.SendChat(ctx, opts.chat, int32(opts.channel)); err != nil {
			return err
		}
	}

	apiErr := make(chan error, 1)
	if opts.debug {
		srv := debugapi.New(config.DebugOptions(cfg), c)
		go func() {
			apiErr <- srv.Serve(ctx)
		}()
	}

	select {
	case <-ctx.Done():
		return logout(c, loggedOut)
	case <-loggedOut:
		logs.Infof("circuitctl.run logged out by simulator")
		return nil
	case <-c.Done():
		if _, err := c.Disconnected(); err != nil {
			return err
		}
		return errors.New("circuit closed")
	case err := <-apiErr:
		return err
	}
}

// registerListeners logs chat and watches for the logout reply.
func registerListeners(c *client.Client, chatLog zerolog.Logger, loggedOut chan<- struct{}) error {
	d := c.Dispatcher()
	chatRoute, err := dispatch.ByName(c.Registry(), template.MsgChatFromSimulator)
	if err != nil {
		return err
	}
	d.Register(chatRoute, 0, dispatch.ListenerFunc(func(msg *codec.InMessage) bool {
		from, err := msg.ReadString()
		if err != nil {
			return false
		}
		if err := msg.SkipToFirstVariableByName("Message"); err != nil {
			return false
		}
		text, err := msg.ReadString()
		if err != nil {
			return false
		}
		chatLog.Info().Str("from", from).Uint32("seq", msg.Sequence()).Msg(text)
		return true
	}))

	logoutRoute, err := dispatch.ByName(c.Registry(), template.MsgLogoutReply)
	if err != nil {
		return err
	}
	d.Register(logoutRoute, 0, dispatch.ListenerFunc(func(*codec.InMessage) bool {
		select {
		case loggedOut <- struct{}{}:
		default:
		}
		return true
	}))
	return nil
}

func logout(c *client.Client, loggedOut <-chan struct{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
	defer cancel()
	if _, err := c.SendLogoutRequest(ctx); err != nil {
		return err
	}
	select {
	case <-loggedOut:
		logs.Infof("circuitctl.logout reply received")
	case <-ctx.Done():
		logs.Warnf("circuitctl.logout no reply within %s", logoutTimeout)
	}
	return nil
}

// applyLogLevel sets the configured level; the environment wins.
func applyLogLevel(level string) {
	if lvl, ok := logs.ParseLevel(level); ok {
		zerolog.SetGlobalLevel(lvl)
	}
	if lvl, ok := logs.ParseLevel(os.Getenv(logs.EnvLogLevel)); ok {
		zerolog.SetGlobalLevel(lvl)
	}
}
