// Command greeter-client opens a channel to a greeter server, says hello and
// shuts the channel down.
//
//	greeter-client -addr grpc://localhost:5001 -name GreeterClient -max-send 2MiB -max-recv 5MiB
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"unirpc/channel"
	"unirpc/config"
	"unirpc/greeter"
)

func main() {
	def := config.DefaultClient()
	fs := flag.NewFlagSet("greeter-client", flag.ExitOnError)
	addr := fs.String("addr", def.Address, "server address, scheme urp:// or grpc://")
	name := fs.String("name", "GreeterClient", "name to greet")
	configPath := fs.String("config", "", "YAML config file; flags given explicitly override it")
	logLevel := fs.String("log-level", def.LogLevel, "log level")
	timeout := fs.Duration("timeout", 10*time.Second, "call timeout")
	maxSend, maxRecv := def.MaxSendBytes, def.MaxReceiveBytes
	fs.Var(&maxSend, "max-send", "largest request sent, 0 for unlimited")
	fs.Var(&maxRecv, "max-recv", "largest response accepted, 0 for unlimited")
	_ = fs.Parse(os.Args[1:])

	cfg := &def
	if *configPath != "" {
		loaded, err := config.LoadClient(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		cfg = loaded
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Address = *addr
		case "max-send":
			cfg.MaxSendBytes = maxSend
		case "max-recv":
			cfg.MaxReceiveBytes = maxRecv
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, *name, *timeout, logger); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Client, name string, timeout time.Duration, logger *zap.Logger) (err error) {
	ch, err := channel.Open(ctx, cfg.Address, cfg.Channel(), channel.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, ch.Shutdown())
	}()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply, err := greeter.NewGreeterClient(ch).SayHello(ctx, &greeter.HelloRequest{Name: name})
	if err != nil {
		return err
	}
	fmt.Println("Greeting: " + reply.Message)
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = lvl
	return cfg.Build()
}
