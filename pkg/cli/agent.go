package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lifeops/lifeops/pkg/agent"
	"github.com/lifeops/lifeops/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func agentCommand() *cli.Command {
	return &cli.Command{
		Name:    "agent",
		Aliases: []string{"a"},
		Usage:   "Inspect and run registered agents",
		Commands: []*cli.Command{
			agentListCommand(),
			agentRunCommand(),
		},
	}
}

func agentListCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "list",
		Usage: "List enabled agents by priority",
		Flags: withFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			var cleanup closers
			defer cleanup.Close()
			comp, err := cfg.build(ctx, &cleanup)
			if err != nil {
				return err
			}

			agents, err := comp.runtime.List(ctx)
			if err != nil {
				return err
			}

			w := c.Root().Writer
			for _, a := range agents {
				caps := make([]string, 0, len(a.Capabilities))
				for _, capability := range a.Capabilities {
					caps = append(caps, capability.Name)
				}
				bound := ""
				if !comp.runtime.Bound(a.Slug) {
					bound = " (no implementation)"
				}
				fmt.Fprintf(w, "%-20s %3d  %s v%s%s\n", a.Slug, a.Config.Priority, a.Name, a.Version, bound)
				if len(caps) > 0 {
					fmt.Fprintf(w, "%20s      %s\n", "", strings.Join(caps, ", "))
				}
			}
			return nil
		},
	}
}

func agentRunCommand() *cli.Command {
	var (
		cfg       config
		owner     string
		decision  string
		values    []string
		inputJSON string
	)

	return &cli.Command{
		Name:      "run",
		Usage:     "Execute one agent command",
		ArgsUsage: "<slug> <command>",
		Flags: withFlags(&cfg,
			ownerFlag(&owner),
			&cli.StringFlag{
				Name:        "decision-id",
				Usage:       "Record the execution on this decision's consultation log",
				Destination: &decision,
			},
			&cli.StringSliceFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       "Input entry as key=value",
				Destination: &values,
			},
			&cli.StringFlag{
				Name:        "input-json",
				Usage:       "Input as a JSON object, merged under --input entries",
				Destination: &inputJSON,
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			slug, err := argument(c, 0, "slug")
			if err != nil {
				return err
			}
			command, err := argument(c, 1, "command")
			if err != nil {
				return err
			}

			input := map[string]any{}
			if inputJSON != "" {
				if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
					return goerr.Wrap(err, "failed to parse input JSON")
				}
			}
			kv, err := parseKeyValues(values)
			if err != nil {
				return err
			}
			for k, v := range kv {
				input[k] = v
			}

			var cleanup closers
			defer cleanup.Close()
			comp, err := cfg.build(ctx, &cleanup)
			if err != nil {
				return err
			}

			record, err := comp.runtime.Resolve(ctx, slug)
			if err != nil {
				return goerr.Wrap(err, "failed to resolve agent")
			}

			res := comp.runtime.Execute(ctx, record, agent.Context{
				OwnerID:    owner,
				DecisionID: model.DecisionID(decision),
				Command:    command,
				Input:      input,
			})

			if decision != "" {
				if _, err := comp.decisions.RecordAgentExecution(ctx, model.DecisionID(decision), record.ID, record.Name,
					map[string]any{"command": command, "input": input},
					map[string]any{"success": res.Success, "data": res.Data, "error": res.Error},
				); err != nil {
					return err
				}
			}

			if err := printJSON(c.Root().Writer, res); err != nil {
				return err
			}
			if !res.Success {
				return goerr.New("agent execution failed", goerr.V("slug", slug), goerr.V("error", res.Error))
			}
			return nil
		},
	}
}
