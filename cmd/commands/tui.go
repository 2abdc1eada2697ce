package commands

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/teillan/taskwire/clients/tui"
	"github.com/teillan/taskwire/internal/config"
	"github.com/teillan/taskwire/internal/realtime"
)

// NewTUICommand returns the tui subcommand.
func NewTUICommand() *cli.Command {
	return &cli.Command{
		Name:  "tui",
		Usage: "Launch the interactive terminal client",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "endpoint",
				Usage: "Server WebSocket URL",
			},
			&cli.StringFlag{
				Name:  "list",
				Usage: "Task list id to join on startup",
			},
		},
		Action: runTUI,
	}
}

func runTUI(ctx context.Context, cmd *cli.Command) error {
	setupLogging(cmd)
	cfg := resolveConfig(cmd)

	endpoint := cfg.Client.Endpoint
	if cmd.IsSet("endpoint") {
		endpoint = cmd.String("endpoint")
	}

	client, err := realtime.NewClient(realtime.Options{
		Endpoint: endpoint,
		DataDir:  config.TaskwirePath(),
		Conn: realtime.ConnOptions{
			MaxAttempts:  cfg.Client.Reconnect.MaxAttempts,
			InitialDelay: cfg.Client.Reconnect.InitialDelay.Duration(),
			MaxDelay:     cfg.Client.Reconnect.MaxDelay.Duration(),
		},
	})
	if err != nil {
		return err
	}
	defer client.Disconnect()

	client.Connect(ctx)
	if id := cmd.String("list"); id != "" {
		client.Store().GetTaskList(id)
	}

	app := tui.NewApp(client)
	p := tea.NewProgram(app, tea.WithContext(ctx), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
