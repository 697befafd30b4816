package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/lifeops/lifeops/pkg/agent"
	"github.com/lifeops/lifeops/pkg/agent/system"
	"github.com/lifeops/lifeops/pkg/model"
	"github.com/lifeops/lifeops/pkg/usecase/memory"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func chatCommand() *cli.Command {
	var (
		cfg         config
		owner       string
		historyFile string
	)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive chat with the system agent",
		Flags: withFlags(&cfg,
			ownerFlag(&owner),
			&cli.StringFlag{
				Name:        "history-file",
				Usage:       "File keeping the input history",
				Sources:     cli.EnvVars("LIFEOPS_HISTORY_FILE"),
				Destination: &historyFile,
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			var cleanup closers
			defer cleanup.Close()
			comp, err := cfg.build(ctx, &cleanup)
			if err != nil {
				return err
			}

			record, err := comp.runtime.Resolve(ctx, system.Slug)
			if err != nil {
				return goerr.Wrap(err, "failed to resolve system agent")
			}

			w := c.Root().Writer
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "> ",
				HistoryFile:     historyFile,
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
				Stdout:          w,
			})
			if err != nil {
				return goerr.Wrap(err, "failed to start readline")
			}
			defer rl.Close()

			session := &chatSession{comp: comp, owner: owner, w: w}
			fmt.Fprintf(w, "Chat session started. /remember <text> stores a memory, /recall <query> searches memories, exit quits.\n")

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						break
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				if line == "exit" || line == "quit" {
					break
				}

				if err := session.handle(ctx, record, line); err != nil {
					fmt.Fprintf(w, "error: %v\n", err)
				}
			}

			fmt.Fprintf(w, "Chat session completed\n")
			return nil
		},
	}
}

type chatSession struct {
	comp  *components
	owner string
	w     io.Writer
}

func (s *chatSession) handle(ctx context.Context, record *model.Agent, line string) error {
	if text, ok := strings.CutPrefix(line, "/remember "); ok {
		m, err := s.comp.memories.Create(ctx, memory.CreateInput{
			OwnerID: s.owner,
			Content: text,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(s.w, "remembered %s\n", m.ID)
		return nil
	}

	if query, ok := strings.CutPrefix(line, "/recall "); ok {
		results, err := s.comp.memories.Search(ctx, memory.SearchInput{Query: query, OwnerID: s.owner})
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Fprintf(s.w, "nothing similar remembered\n")
		}
		for _, r := range results {
			fmt.Fprintf(s.w, "[%.2f] %s\n", r.Similarity, r.Memory.Content)
		}
		return nil
	}

	res := s.comp.runtime.Execute(ctx, record, agent.Context{
		OwnerID: s.owner,
		Command: system.CommandChat,
		Input:   map[string]any{"message": line},
	})
	if !res.Success {
		return goerr.New(res.Error)
	}
	fmt.Fprintf(s.w, "%v\n", res.Data["message"])
	return nil
}
