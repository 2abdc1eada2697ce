package commands

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/teillan/taskwire/internal/config"
	"github.com/teillan/taskwire/internal/server"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the coordinating server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "Path to the sqlite database",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	setupLogging(cmd)
	cfg := resolveConfig(cmd)

	if cmd.IsSet("host") {
		cfg.Server.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Server.Port = cmd.Int("port")
	}
	if cmd.IsSet("db") {
		cfg.Storage.DatabasePath = cmd.String("db")
	}

	if err := os.MkdirAll(config.TaskwirePath(), 0o755); err != nil {
		return err
	}

	store, err := server.NewStore(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	srv := server.NewServer(store, cfg.Server.Host, cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down")
		return srv.Shutdown(context.Background())
	}
}

// setupLogging switches the default handler to debug level when asked.
func setupLogging(cmd *cli.Command) {
	if cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
}

// resolveConfig loads the configured file, falling back to defaults
// when it does not exist.
func resolveConfig(cmd *cli.Command) *config.Config {
	path := cmd.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", path, "error", err)
		return config.Default()
	}
	return cfg
}
