package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/teillan/taskwire/internal/tasklist"
)

// NewStatusCommand returns the status subcommand: a quick health and
// list overview against a running server.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show server health and known task lists",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "Server base URL",
				Value: "http://127.0.0.1:8420",
			},
		},
		Action: runStatus,
	}
}

func runStatus(ctx context.Context, cmd *cli.Command) error {
	base := cmd.String("url")
	httpClient := &http.Client{Timeout: 5 * time.Second}

	resp, err := httpClient.Get(base + "/api/health")
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	resp.Body.Close()
	fmt.Println("server: ok")

	resp, err = httpClient.Get(base + "/api/lists")
	if err != nil {
		return fmt.Errorf("fetch lists: %w", err)
	}
	defer resp.Body.Close()

	var lists []tasklist.TaskList
	if err := json.NewDecoder(resp.Body).Decode(&lists); err != nil {
		return fmt.Errorf("decode lists: %w", err)
	}

	if len(lists) == 0 {
		fmt.Println("no task lists")
		return nil
	}
	for _, l := range lists {
		locked := ""
		if l.IsLocked {
			locked = " [locked]"
		}
		fmt.Printf("%s  %q by %s%s\n", l.ID, l.Title, l.OwnerName, locked)
	}
	return nil
}
