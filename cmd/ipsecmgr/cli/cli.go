// Package cli implements the ipsecmgr command line.
package cli

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/frobware/go-ipsecmgr/client"
	"github.com/frobware/go-ipsecmgr/config"
	"github.com/frobware/go-ipsecmgr/logging"
	"github.com/frobware/go-ipsecmgr/server"
)

// CLI is the root command structure for ipsecmgr.
type CLI struct {
	Config string `name:"config" help:"Config file path (empty uses built-in defaults)."`
	Log    string `name:"log" help:"Log spec (e.g., 'info,manager=debug')." env:"IPSECMGR_LOG"`
	Socket string `name:"socket" help:"Daemon socket path (overrides config)."`

	Serve           ServeCmd           `cmd:"" help:"Start the daemon."`
	Check           CheckCmd           `cmd:"" help:"Check that the daemon is reachable."`
	ReserveSpi      ReserveSpiCmd      `cmd:"" name:"reserve-spi" help:"Reserve a security parameter index."`
	ReleaseSpi      ReleaseSpiCmd      `cmd:"" name:"release-spi" help:"Release a reserved SPI."`
	OpenEncap       OpenEncapCmd       `cmd:"" name:"open-encap" help:"Open a UDP encapsulation socket."`
	CloseEncap      CloseEncapCmd      `cmd:"" name:"close-encap" help:"Close a UDP encapsulation socket."`
	CreateTransform CreateTransformCmd `cmd:"" name:"create-transform" help:"Create a transform from reserved SPIs."`
	DeleteTransform DeleteTransformCmd `cmd:"" name:"delete-transform" help:"Delete a transform."`
	List            ListCmd            `cmd:"" help:"List a principal's resources."`
}

// KongOptions returns the Kong configuration options for the CLI.
func KongOptions() []kong.Option {
	return []kong.Option{
		kong.Name("ipsecmgr"),
		kong.Description("IPsec security-association resource manager."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"default_socket_path": server.DefaultSocketPath,
		},
	}
}

// LoadConfig loads the configuration from the config file path.
func (c *CLI) LoadConfig() (config.Config, error) {
	return config.Load(c.Config)
}

// SocketPath resolves the daemon socket: flag, then config, then the
// built-in default.
func (c *CLI) SocketPath() (string, error) {
	if c.Socket != "" {
		return c.Socket, nil
	}
	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}
	if cfg.Server.SocketPath != "" {
		return cfg.Server.SocketPath, nil
	}
	return server.DefaultSocketPath, nil
}

// Dial connects to the daemon.
func (c *CLI) Dial() (*client.Client, error) {
	path, err := c.SocketPath()
	if err != nil {
		return nil, err
	}
	return client.Dial(path)
}

// Logger creates a logger for CLI commands. Commands default to warn
// for quieter output; use LoggerFromConfig for the daemon.
func (c *CLI) Logger() (*slog.Logger, error) {
	cfg, err := c.LoadConfig()
	if err != nil {
		return nil, err
	}

	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	spec := c.Log
	if spec == "" {
		spec = "warn"
	}

	return logging.New(logging.Options{
		CLISpec:    spec,
		ConfigSpec: cfg.Logging.ToSpec(),
		Format:     format,
		Output:     os.Stderr,
	})
}

// LoggerFromConfig creates a logger using config file settings. Used by
// serve, where info level is appropriate and output goes to stdout for
// daemon log collection.
func (c *CLI) LoggerFromConfig() (*slog.Logger, error) {
	cfg, err := c.LoadConfig()
	if err != nil {
		return nil, err
	}

	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	return logging.New(logging.Options{
		CLISpec:    c.Log,
		EnvSpec:    os.Getenv(logging.EnvVar),
		ConfigSpec: cfg.Logging.ToSpec(),
		Format:     format,
		Output:     os.Stdout,
	})
}
