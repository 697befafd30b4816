package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lifeops/lifeops/pkg/model"
	"github.com/lifeops/lifeops/pkg/usecase/memory"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func memoryCommand() *cli.Command {
	return &cli.Command{
		Name:    "memory",
		Aliases: []string{"m"},
		Usage:   "Manage the semantic memory store",
		Commands: []*cli.Command{
			memoryAddCommand(),
			memorySearchCommand(),
			memoryRecentCommand(),
			memoryDeleteCommand(),
			memoryPurgeCommand(),
		},
	}
}

func memoryAddCommand() *cli.Command {
	var (
		cfg        config
		owner      string
		memType    string
		category   string
		tags       []string
		expiresIn  time.Duration
		metaValues []string
	)

	return &cli.Command{
		Name:      "add",
		Usage:     "Store a memory",
		ArgsUsage: "<content>",
		Flags: withFlags(&cfg,
			ownerFlag(&owner),
			&cli.StringFlag{
				Name:        "type",
				Usage:       "Memory type (short_term, long_term)",
				Value:       string(model.MemoryTypeLongTerm),
				Destination: &memType,
			},
			&cli.StringFlag{
				Name:        "category",
				Aliases:     []string{"c"},
				Usage:       "Memory category (interaction, decision, event, pattern, preference)",
				Value:       string(model.MemoryCategoryInteraction),
				Destination: &category,
			},
			&cli.StringSliceFlag{
				Name:        "tag",
				Aliases:     []string{"t"},
				Usage:       "Tag attached to the memory",
				Destination: &tags,
			},
			&cli.DurationFlag{
				Name:        "expires-in",
				Usage:       "Expire the memory after this duration",
				Destination: &expiresIn,
			},
			&cli.StringSliceFlag{
				Name:        "meta",
				Usage:       "Metadata entry as key=value",
				Destination: &metaValues,
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			content := strings.Join(c.Args().Slice(), " ")

			metadata, err := parseKeyValues(metaValues)
			if err != nil {
				return err
			}

			var cleanup closers
			defer cleanup.Close()
			comp, err := cfg.build(ctx, &cleanup)
			if err != nil {
				return err
			}

			input := memory.CreateInput{
				OwnerID:  owner,
				Content:  content,
				Type:     model.MemoryType(memType),
				Category: model.MemoryCategory(category),
				Tags:     tags,
				Metadata: metadata,
			}
			if expiresIn > 0 {
				at := time.Now().Add(expiresIn)
				input.ExpiresAt = &at
			}

			m, err := comp.memories.Create(ctx, input)
			if err != nil {
				return goerr.Wrap(err, "failed to create memory")
			}
			fmt.Fprintf(c.Root().Writer, "Memory created: %s\n", m.ID)
			return nil
		},
	}
}

func memorySearchCommand() *cli.Command {
	var (
		cfg       config
		owner     string
		category  string
		tags      []string
		limit     int64
		threshold float64
	)

	return &cli.Command{
		Name:      "search",
		Usage:     "Find memories similar to a query",
		ArgsUsage: "<query>",
		Flags: withFlags(&cfg,
			ownerFlag(&owner),
			&cli.StringFlag{
				Name:        "category",
				Aliases:     []string{"c"},
				Usage:       "Only memories of this category",
				Destination: &category,
			},
			&cli.StringSliceFlag{
				Name:        "tag",
				Aliases:     []string{"t"},
				Usage:       "Only memories carrying all these tags",
				Destination: &tags,
			},
			&cli.IntFlag{
				Name:        "limit",
				Aliases:     []string{"n"},
				Value:       memory.DefaultSearchLimit,
				Destination: &limit,
			},
			&cli.FloatFlag{
				Name:        "threshold",
				Usage:       "Minimum similarity",
				Value:       memory.DefaultSearchThreshold,
				Destination: &threshold,
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			var cleanup closers
			defer cleanup.Close()
			comp, err := cfg.build(ctx, &cleanup)
			if err != nil {
				return err
			}

			results, err := comp.memories.Search(ctx, memory.SearchInput{
				Query:     strings.Join(c.Args().Slice(), " "),
				OwnerID:   owner,
				Category:  model.MemoryCategory(category),
				Tags:      tags,
				Limit:     int(limit),
				Threshold: &threshold,
			})
			if err != nil {
				return goerr.Wrap(err, "failed to search memories")
			}

			w := c.Root().Writer
			if len(results) == 0 {
				fmt.Fprintf(w, "No similar memories found\n")
				return nil
			}
			for _, r := range results {
				fmt.Fprintf(w, "[%.3f] ", r.Similarity)
				printMemory(w, r.Memory)
			}
			return nil
		},
	}
}

func memoryRecentCommand() *cli.Command {
	var (
		cfg   config
		owner string
		limit int64
	)

	return &cli.Command{
		Name:  "recent",
		Usage: "List the newest memories",
		Flags: withFlags(&cfg,
			ownerFlag(&owner),
			&cli.IntFlag{
				Name:        "limit",
				Aliases:     []string{"n"},
				Value:       memory.DefaultRecentLimit,
				Destination: &limit,
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			var cleanup closers
			defer cleanup.Close()
			comp, err := cfg.build(ctx, &cleanup)
			if err != nil {
				return err
			}

			memories, err := comp.memories.Recent(ctx, owner, int(limit))
			if err != nil {
				return err
			}
			for _, m := range memories {
				printMemory(c.Root().Writer, m)
			}
			return nil
		},
	}
}

func memoryDeleteCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "delete",
		Usage:     "Soft-delete a memory",
		ArgsUsage: "<memory-id>",
		Flags:     withFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			id, err := argument(c, 0, "memory-id")
			if err != nil {
				return err
			}

			var cleanup closers
			defer cleanup.Close()
			comp, err := cfg.build(ctx, &cleanup)
			if err != nil {
				return err
			}

			if err := comp.memories.Delete(ctx, model.MemoryID(id)); err != nil {
				return goerr.Wrap(err, "failed to delete memory")
			}
			fmt.Fprintf(c.Root().Writer, "Memory deleted: %s\n", id)
			return nil
		},
	}
}

func memoryPurgeCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "purge",
		Usage: "Soft-delete memories past their expiry",
		Flags: withFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			var cleanup closers
			defer cleanup.Close()
			comp, err := cfg.build(ctx, &cleanup)
			if err != nil {
				return err
			}

			n, err := comp.memories.PurgeExpired(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.Root().Writer, "Purged %d expired memories\n", n)
			return nil
		},
	}
}

func printMemory(w io.Writer, m *model.Memory) {
	fmt.Fprintf(w, "%s  %s/%s  %s", m.ID, m.Type, m.Category, m.Content)
	if tags := m.Tags.List(); len(tags) > 0 {
		fmt.Fprintf(w, "  #%s", strings.Join(tags, " #"))
	}
	fmt.Fprintf(w, "\n")
}

// parseKeyValues converts key=value entries to a map
func parseKeyValues(values []string) (map[string]any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(values))
	for _, v := range values {
		key, value, ok := strings.Cut(v, "=")
		if !ok || key == "" {
			return nil, goerr.New("entry must be key=value", goerr.V("entry", v))
		}
		out[key] = value
	}
	return out, nil
}
