package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/config"
	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/diag"
	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/mesh"
	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/observability"
	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/protocol"
	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/radio"
	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/routing"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}
	if opts.Addr != 0 {
		if opts.Addr >= 0xFF {
			_, _ = os.Stderr.WriteString("invalid -addr: must be 1..254\n")
			return 1
		}
		cfg.Node.Addr = int(opts.Addr)
	}

	logger, err := observability.SetupLogger(cfg.Log, cfg.Node)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("loramesh-node starting", zap.String("radio", cfg.Radio.Kind))
	zap.L().Debug("effective configuration", zap.Any("config", cfg))

	tr, closeRadio, err := openRadio(cfg.Radio, cfg.Node)
	if err != nil {
		zap.L().Error("failed to open radio", zap.Error(err))
		return 1
	}
	defer closeRadio()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	drv, err := mesh.New(meshOptions(cfg), tr, newStdioAdapter(os.Stdout))
	if err != nil {
		zap.L().Error("failed to build driver", zap.Error(err))
		return 1
	}
	if err := drv.Start(ctx); err != nil {
		zap.L().Error("failed to start driver", zap.Error(err))
		return 1
	}
	defer drv.Close()

	go readCommands(ctx, os.Stdin, drv)
	if cfg.Diag.RoutesFile != "" {
		go snapshotLoop(ctx, cfg, drv)
	}

	zap.L().Info("node is running; type '<dst> <text>' to send, Ctrl+C to exit")
	<-ctx.Done()
	zap.L().Info("shutting down", zap.Any("stats", drv.Stats()))
	return 0
}

func meshOptions(cfg *config.Config) mesh.Options {
	r := cfg.Radio
	return mesh.Options{
		Self:            protocol.NodeAddr(cfg.Node.Addr),
		MaxTTL:          uint8(cfg.Mesh.MaxTTL),
		HelloInterval:   cfg.Mesh.HelloInterval(),
		AdvertiseRoutes: cfg.Mesh.HelloAdvertiseRoutes,
		Routing: routing.Options{
			MaxRoutes:    cfg.Mesh.MaxRoutes,
			RouteTimeout: cfg.Mesh.RouteTimeout(),
			StaleAfter:   cfg.Mesh.RouteStale(),
		},
		DedupSlots:  cfg.Mesh.DedupSlots,
		DedupWindow: cfg.Mesh.DedupWindow(),
		RxQueue:     cfg.Mesh.RxQueue,
		CmdQueue:    cfg.Mesh.CommandQueue,
		Radio: radio.Options{
			QueueCapacity:        r.TxQueue,
			EventBuffer:          r.EventBuffer,
			TxnTimeout:           r.TxTimeout(),
			DutyCycleBytesPerSec: r.DutyCycleBytesPerSec,
		},
		Params: &radio.Params{
			FrequencyHz:     r.FrequencyHz,
			SyncWord:        r.SyncWord,
			SpreadingFactor: r.SpreadingFactor,
			BandwidthCode:   r.BandwidthCode,
			CodingRate:      r.CodingRate,
			TxPower:         r.TxPower,
		},
	}
}

func snapshotLoop(ctx context.Context, cfg *config.Config, drv *mesh.Driver) {
	t := time.NewTicker(time.Duration(cfg.Diag.SnapshotMS) * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		routes, err := drv.Routes(ctx)
		if err != nil {
			zap.L().Debug("route snapshot skipped", zap.Error(err))
			continue
		}
		s := diag.Build(cfg.Node.Name, uint8(cfg.Node.Addr), routes, drv.Stats(), time.Now())
		if err := diag.Write(cfg.Diag.RoutesFile, cfg.Diag.Format, s); err != nil {
			zap.L().Warn("route snapshot failed", zap.String("file", cfg.Diag.RoutesFile), zap.Error(err))
		}
	}
}
