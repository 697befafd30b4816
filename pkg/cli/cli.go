package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/lifeops/lifeops/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	var logLevel, logFormat string

	cmd := &cli.Command{
		Name:  "lifeops",
		Usage: "Decision synthesis engine backed by semantic memory and agents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Aliases:     []string{"l"},
				Usage:       "Log level (debug, info, warn, error)",
				Value:       "info",
				Sources:     cli.EnvVars("LIFEOPS_LOG_LEVEL"),
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "Log format (console, json)",
				Value:       logging.FormatConsole,
				Sources:     cli.EnvVars("LIFEOPS_LOG_FORMAT"),
				Destination: &logFormat,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			logger, err := newLogger(logLevel, logFormat, c.Root().ErrWriter)
			if err != nil {
				return ctx, err
			}
			logging.SetDefault(logger)
			return logging.With(ctx, logger), nil
		},
		Commands: []*cli.Command{
			decideCommand(),
			decisionCommand(),
			memoryCommand(),
			agentCommand(),
			chatCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

// ownerFlag is shared by commands acting on behalf of an owner
func ownerFlag(dst *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "owner",
		Aliases:     []string{"o"},
		Usage:       "Owner ID (empty for global)",
		Sources:     cli.EnvVars("LIFEOPS_OWNER"),
		Destination: dst,
	}
}

// withFlags appends the flag groups to the command specific flags
func withFlags(cfg *config, flags ...cli.Flag) []cli.Flag {
	flags = append(flags, globalFlags(cfg)...)
	flags = append(flags, llmFlags(cfg)...)
	flags = append(flags, agentFlags(cfg)...)
	return flags
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal output")
	}
	fmt.Fprintf(w, "%s\n", string(data))
	return nil
}

// argument returns the n-th positional argument or an error naming it
func argument(c *cli.Command, n int, name string) (string, error) {
	if c.Args().Len() <= n {
		return "", goerr.New("missing argument", goerr.V("name", name))
	}
	return c.Args().Get(n), nil
}
