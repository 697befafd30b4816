package cli

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/lifeops/lifeops/pkg/model"
	"github.com/lifeops/lifeops/pkg/policy"
	"github.com/lifeops/lifeops/pkg/usecase/decision"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func decideCommand() *cli.Command {
	var (
		cfg          config
		owner        string
		contextLimit int64
		threshold    float64
		steps        []string
		asJSON       bool
		export       bool
	)

	flags := withFlags(&cfg,
		ownerFlag(&owner),
		&cli.IntFlag{
			Name:        "context-limit",
			Usage:       "Maximum number of memories attached as context",
			Value:       decision.DefaultContextLimit,
			Destination: &contextLimit,
		},
		&cli.FloatFlag{
			Name:        "threshold",
			Usage:       "Minimum similarity of context memories (0 keeps the default)",
			Destination: &threshold,
		},
		&cli.StringSliceFlag{
			Name:        "step",
			Aliases:     []string{"s"},
			Usage:       "Agent consultation as slug:command, replaces the planned steps",
			Destination: &steps,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print the decision as JSON",
			Destination: &asJSON,
		},
		&cli.BoolFlag{
			Name:        "export",
			Usage:       "Export the decision to the archive bucket",
			Destination: &export,
		},
	)

	return &cli.Command{
		Name:      "decide",
		Usage:     "Create a decision, consult agents and synthesize a recommendation",
		ArgsUsage: "<question>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			question := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(question) == "" {
				return goerr.New("question is required")
			}

			parsed, err := parseSteps(steps, question)
			if err != nil {
				return err
			}

			var cleanup closers
			defer cleanup.Close()
			comp, err := cfg.build(ctx, &cleanup)
			if err != nil {
				return err
			}

			input := decision.DecideInput{
				OwnerID:      owner,
				Question:     question,
				ContextLimit: int(contextLimit),
				Steps:        parsed,
			}
			if threshold > 0 {
				input.Threshold = &threshold
			}

			s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(c.Root().ErrWriter))
			s.Suffix = " thinking..."
			s.Start()
			result, err := comp.decisions.Decide(ctx, input)
			s.Stop()
			if err != nil {
				if result != nil && result.Decision != nil {
					printAborted(c.Root().ErrWriter, result.Decision)
				}
				return goerr.Wrap(err, "failed to decide")
			}

			w := c.Root().Writer
			if asJSON {
				if err := printJSON(w, decision.NewDocument(result.Decision)); err != nil {
					return err
				}
			} else {
				printDecideResult(w, result)
			}

			if export {
				key, err := comp.decisions.Export(ctx, result.Decision.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "Exported to %s\n", key)
			}
			return nil
		},
	}
}

// printAborted tells where an interrupted pipeline left the decision
func printAborted(w io.Writer, d *model.Decision) {
	fmt.Fprintf(w, "Decision %s was kept as %s\n", d.ID, d.Status)
	if d.Status.CanSynthesize() {
		fmt.Fprintf(w, "Retry the synthesis with: lifeops decision synthesize %s\n", d.ID)
	}
}

// parseSteps converts slug:command flags into consultation steps passing the question as
// the message
func parseSteps(values []string, question string) ([]policy.Step, error) {
	var steps []policy.Step
	for _, v := range values {
		slug, command, ok := strings.Cut(v, ":")
		if !ok || slug == "" || command == "" {
			return nil, goerr.New("step must be slug:command", goerr.V("step", v))
		}
		steps = append(steps, policy.Step{
			Agent:   slug,
			Command: command,
			Input:   map[string]any{"message": question},
		})
	}
	return steps, nil
}

func printDecideResult(w io.Writer, result *decision.DecideResult) {
	d := result.Decision
	fmt.Fprintf(w, "Decision: %s (%s)\n", d.ID, d.Status)
	fmt.Fprintf(w, "Question: %s\n", d.Question)

	if len(result.Memories) > 0 {
		fmt.Fprintf(w, "\nContext:\n")
		for _, m := range result.Memories {
			fmt.Fprintf(w, "  [%.2f] %s\n", m.Similarity, m.Memory.Content)
		}
	}

	if len(result.Consultations) > 0 {
		fmt.Fprintf(w, "\nConsultations:\n")
		for _, c := range result.Consultations {
			state := "ok"
			if !c.Result.Success {
				state = "failed: " + c.Result.Error
			}
			fmt.Fprintf(w, "  %s %s: %s\n", c.Step.Agent, c.Step.Command, state)
		}
	}

	printSynthesis(w, d.Synthesis)

	if len(result.Warnings) > 0 {
		fmt.Fprintf(w, "\nWarnings:\n")
		for _, warning := range result.Warnings {
			fmt.Fprintf(w, "  - %s\n", warning)
		}
	}
}

func printSynthesis(w io.Writer, s *model.Synthesis) {
	if s == nil {
		return
	}
	fmt.Fprintf(w, "\nRecommendation: %s\n", s.Recommendation)
	fmt.Fprintf(w, "Confidence: %.0f%%\n", s.Confidence)
	if s.Reasoning != "" {
		fmt.Fprintf(w, "Reasoning: %s\n", s.Reasoning)
	}
	for _, r := range s.RiskFactors {
		fmt.Fprintf(w, "  risk: %s\n", r)
	}
	for _, a := range s.Alternatives {
		fmt.Fprintf(w, "  alternative: %s\n", a)
	}
}

func decisionCommand() *cli.Command {
	return &cli.Command{
		Name:    "decision",
		Aliases: []string{"d"},
		Usage:   "Inspect and update recorded decisions",
		Commands: []*cli.Command{
			decisionShowCommand(),
			decisionListCommand(),
			decisionSynthesizeCommand(),
			decisionOutcomeCommand(),
			decisionExportCommand(),
		},
	}
}

func decisionShowCommand() *cli.Command {
	var (
		cfg      config
		archived bool
		owner    string
	)

	return &cli.Command{
		Name:      "show",
		Usage:     "Show a decision as JSON",
		ArgsUsage: "<decision-id>",
		Flags: withFlags(&cfg,
			ownerFlag(&owner),
			&cli.BoolFlag{
				Name:        "archived",
				Usage:       "Read the exported copy from the archive bucket instead of the repository",
				Destination: &archived,
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			id, err := argument(c, 0, "decision-id")
			if err != nil {
				return err
			}

			var cleanup closers
			defer cleanup.Close()
			comp, err := cfg.build(ctx, &cleanup)
			if err != nil {
				return err
			}

			if archived {
				doc, err := comp.decisions.LoadArchived(ctx, owner, model.DecisionID(id))
				if err != nil {
					return goerr.Wrap(err, "failed to load archived decision")
				}
				return printJSON(c.Root().Writer, doc)
			}

			d, err := comp.decisions.Get(ctx, model.DecisionID(id))
			if err != nil {
				return goerr.Wrap(err, "failed to get decision")
			}
			return printJSON(c.Root().Writer, decision.NewDocument(d))
		},
	}
}

func decisionListCommand() *cli.Command {
	var (
		cfg   config
		owner string
		limit int64
	)

	return &cli.Command{
		Name:  "list",
		Usage: "List recent decisions of an owner",
		Flags: withFlags(&cfg,
			ownerFlag(&owner),
			&cli.IntFlag{
				Name:        "limit",
				Aliases:     []string{"n"},
				Value:       decision.DefaultListLimit,
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

			decisions, err := comp.decisions.List(ctx, owner, int(limit))
			if err != nil {
				return goerr.Wrap(err, "failed to list decisions")
			}

			w := c.Root().Writer
			if len(decisions) == 0 {
				fmt.Fprintf(w, "No decisions found\n")
				return nil
			}
			for _, d := range decisions {
				fmt.Fprintf(w, "%s  %-16s  %s  %s\n", d.ID, d.Status, d.CreatedAt.Format(time.DateTime), d.Question)
			}
			return nil
		},
	}
}

func decisionSynthesizeCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "synthesize",
		Usage:     "Synthesize (or re-synthesize) a recommendation for a decision",
		ArgsUsage: "<decision-id>",
		Flags:     withFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			id, err := argument(c, 0, "decision-id")
			if err != nil {
				return err
			}

			var cleanup closers
			defer cleanup.Close()
			comp, err := cfg.build(ctx, &cleanup)
			if err != nil {
				return err
			}

			d, err := comp.decisions.Synthesize(ctx, model.DecisionID(id))
			if err != nil {
				return goerr.Wrap(err, "failed to synthesize decision")
			}
			printSynthesis(c.Root().Writer, d.Synthesis)
			return nil
		},
	}
}

func decisionOutcomeCommand() *cli.Command {
	var (
		cfg    config
		status string
		result string
	)

	return &cli.Command{
		Name:      "outcome",
		Usage:     "Record what happened with a synthesized decision",
		ArgsUsage: "<decision-id>",
		Flags: withFlags(&cfg,
			&cli.StringFlag{
				Name:        "status",
				Usage:       "Outcome status (pending, implemented, rejected, deferred)",
				Value:       string(model.OutcomeStatusImplemented),
				Destination: &status,
			},
			&cli.StringFlag{
				Name:        "result",
				Aliases:     []string{"r"},
				Usage:       "Free text describing the result",
				Destination: &result,
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			id, err := argument(c, 0, "decision-id")
			if err != nil {
				return err
			}

			var cleanup closers
			defer cleanup.Close()
			comp, err := cfg.build(ctx, &cleanup)
			if err != nil {
				return err
			}

			outcome, err := comp.decisions.RecordOutcome(ctx, model.DecisionID(id), model.OutcomeStatus(status), result)
			if err != nil {
				return goerr.Wrap(err, "failed to record outcome")
			}
			fmt.Fprintf(c.Root().Writer, "Outcome recorded: %s at %s\n", outcome.Status, outcome.RecordedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func decisionExportCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "export",
		Usage:     "Export a decision as JSON to the archive bucket",
		ArgsUsage: "<decision-id>",
		Flags:     withFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			id, err := argument(c, 0, "decision-id")
			if err != nil {
				return err
			}

			var cleanup closers
			defer cleanup.Close()
			comp, err := cfg.build(ctx, &cleanup)
			if err != nil {
				return err
			}

			key, err := comp.decisions.Export(ctx, model.DecisionID(id))
			if err != nil {
				return goerr.Wrap(err, "failed to export decision")
			}
			fmt.Fprintf(c.Root().Writer, "Exported to gs://%s\n", path.Join(cfg.archiveBucket, cfg.archivePrefix, key))
			return nil
		},
	}
}
