package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/frobware/go-ipsecmgr/audit"
	"github.com/frobware/go-ipsecmgr/backend/xfrm"
	"github.com/frobware/go-ipsecmgr/encap"
	"github.com/frobware/go-ipsecmgr/liveness"
	"github.com/frobware/go-ipsecmgr/manager"
	"github.com/frobware/go-ipsecmgr/registry"
	"github.com/frobware/go-ipsecmgr/server"
)

// ServeCmd starts the daemon.
type ServeCmd struct {
	HealthAddress string `name:"health-address" help:"TCP address for the gRPC health endpoint (overrides config)."`
	PprofAddress  string `name:"pprof-address" help:"TCP address for the pprof endpoint (overrides config)."`
}

// Run executes the serve command.
func (c *ServeCmd) Run(cli *CLI) error {
	logger, err := cli.LoggerFromConfig()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	cfg, err := cli.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	opts := []manager.Option{
		manager.WithQuotas(registry.Quotas{
			Spis:         cfg.Quotas.Spis,
			Transforms:   cfg.Quotas.Transforms,
			EncapSockets: cfg.Quotas.EncapSockets,
		}),
	}
	if cfg.Audit.Path != "" {
		journal, err := audit.Open(cfg.Audit.Path, logger)
		if err != nil {
			return fmt.Errorf("failed to open audit journal: %w", err)
		}
		defer journal.Close()
		opts = append(opts, manager.WithAuditor(journal))
	}

	mgr := manager.New(
		xfrm.New(xfrm.WithLogger(logger)),
		encap.NewFactory(logger),
		liveness.NewMonitor(logger),
		logger,
		opts...,
	)

	socketPath, err := cli.SocketPath()
	if err != nil {
		return err
	}
	srvCfg := server.Config{
		SocketPath:    socketPath,
		HealthAddress: cfg.Server.HealthAddress,
		PprofAddress:  cfg.Server.PprofAddress,
	}
	if c.HealthAddress != "" {
		srvCfg.HealthAddress = c.HealthAddress
	}
	if c.PprofAddress != "" {
		srvCfg.PprofAddress = c.PprofAddress
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return server.New(srvCfg, mgr, logger).Run(ctx)
}
