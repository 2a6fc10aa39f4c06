// Command greeter-server serves the Greeter service over urp or gRPC.
//
//	greeter-server -transport grpc -listen :5001
//
// gRPC is the default, matching greeter-client's default address.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"unirpc/config"
	"unirpc/greeter"
	"unirpc/middleware"
	"unirpc/server"
)

const shutdownTimeout = 5 * time.Second

func main() {
	def := config.DefaultServer()
	fs := flag.NewFlagSet("greeter-server", flag.ExitOnError)
	transport := fs.String("transport", def.Transport, "transport to serve: grpc or urp")
	listen := fs.String("listen", def.Listen, "listen address")
	configPath := fs.String("config", "", "YAML config file; flags given explicitly override it")
	logLevel := fs.String("log-level", def.LogLevel, "log level")
	_ = fs.Parse(os.Args[1:])

	cfg := &def
	if *configPath != "" {
		loaded, err := config.LoadServer(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		cfg = loaded
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "transport":
			cfg.Transport = *transport
		case "listen":
			cfg.Listen = *listen
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if cfg.Listen == "" {
		cfg.Listen = config.DefaultListen
	}

	lvl, err := zap.ParseAtomicLevel(orDefault(cfg.LogLevel, "info"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	logger, err := zcfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Sync()

	lis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		logger.Fatal("listen failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch orDefault(cfg.Transport, config.DefaultTransport) {
	case "urp":
		err = serveFrames(ctx, lis, cfg, logger)
	default:
		err = serveGRPC(ctx, lis, cfg, logger)
	}
	if err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func serveFrames(ctx context.Context, lis net.Listener, cfg *config.Server, logger *zap.Logger) error {
	opts := []server.Option{
		server.WithLogger(logger),
		server.WithMaxRecvMsgSize(int(cfg.MaxReceiveBytes)),
		server.WithMaxSendMsgSize(int(cfg.MaxSendBytes)),
	}
	if cfg.Workers > 0 {
		opts = append(opts, server.WithWorkers(cfg.Workers))
	}
	svr := server.NewServer(opts...)
	svr.Use(middleware.LoggingMiddleware(logger))
	if cfg.RateLimit.Rate > 0 {
		svr.Use(middleware.RateLimitMiddleware(cfg.RateLimit.Rate, cfg.RateLimit.Burst))
	}
	if cfg.Timeout > 0 {
		svr.Use(middleware.TimeOutMiddleware(cfg.Timeout))
	}
	if err := svr.Register(&greeter.Greeter{}); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		if err := svr.Shutdown(shutdownTimeout); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()
	return svr.ServeListener(lis)
}

func serveGRPC(ctx context.Context, lis net.Listener, cfg *config.Server, logger *zap.Logger) error {
	var opts []grpc.ServerOption
	if cfg.MaxReceiveBytes > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(int(cfg.MaxReceiveBytes)))
	}
	if cfg.MaxSendBytes > 0 {
		opts = append(opts, grpc.MaxSendMsgSize(int(cfg.MaxSendBytes)))
	}
	opts = append(opts, grpc.ChainUnaryInterceptor(logInterceptor(logger)))

	s := grpc.NewServer(opts...)
	greeter.RegisterGreeterServer(s, &greeter.Greeter{})

	go func() {
		<-ctx.Done()
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(shutdownTimeout):
			s.Stop()
		}
	}()

	logger.Info("server listening", zap.Stringer("addr", lis.Addr()), zap.String("transport", "grpc"))
	return s.Serve(lis)
}

func logInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			logger.Warn("rpc failed", append(fields, zap.Stringer("code", status.Code(err)), zap.Error(err))...)
		} else {
			logger.Info("rpc", fields...)
		}
		return resp, err
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
