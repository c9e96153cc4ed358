package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liamcoop/annotations/annotations"
	"github.com/liamcoop/annotations/engine"
)

// MatchOptions holds flags for the match command.
type MatchOptions struct {
	AnnotationsPath string
	EventPath       string
}

// localOwner owns the annotations loaded by match.
var localOwner = engine.Owner{Kind: engine.OwnerOrganisation, ID: "local"}

// NewMatchCommand creates the match command.
func NewMatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MatchOptions{}

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Evaluate annotations against an event",
		Long: `Load the annotations in --annotations as if they belonged to one
organisation and report which tags apply to the event in --event and
whether any inhibition suppresses it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatch(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.AnnotationsPath, "annotations", "a", "", "annotation file (JSON or YAML)")
	cmd.Flags().StringVarP(&opts.EventPath, "event", "e", "", "event file (JSON or YAML)")
	_ = cmd.MarkFlagRequired("annotations")
	_ = cmd.MarkFlagRequired("event")

	return cmd
}

func runMatch(cmd *cobra.Command, rootOpts *RootOptions, opts *MatchOptions) error {
	out := newFormatter(rootOpts, cmd)
	ctx := cmd.Context()

	defs, err := loadDefinitions(opts.AnnotationsPath)
	if err != nil {
		out.Error(ErrCodeRead, err.Error(), nil)
		return err
	}
	event, err := loadEvent(opts.EventPath)
	if err != nil {
		out.Error(ErrCodeRead, err.Error(), nil)
		return err
	}

	store := engine.NewInMemoryStore()
	en, err := engine.NewEngine(ctx, localOwner, store)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create engine", err)
	}

	parser := annotations.NewParser(nil)
	for i, def := range defs {
		a, err := parser.Parse(def)
		if err != nil {
			msg := fmt.Sprintf("annotation [%d] is invalid: %v", i, err)
			out.Error(string(annotations.KindOf(err)), msg, nil)
			return NewExitError(ExitFailure, msg)
		}

		definition, err := json.Marshal(a)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to encode annotation [%d]", i), err)
		}
		record := &engine.Record{
			ID:         fmt.Sprintf("annotation-%04d", i),
			Definition: definition,
			Active:     true,
		}
		if err := en.AddRecord(ctx, record); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to load annotation [%d]", i), err)
		}
	}
	out.VerboseLog("Evaluating %d annotation(s)", len(defs))

	decision, err := en.EvaluateAll(ctx, event)
	if err != nil {
		return WrapExitError(ExitCommandError, "evaluation failed", err)
	}

	var failed []*engine.EvaluationResult
	for _, result := range decision.Results {
		if result.Error != nil {
			failed = append(failed, result)
		}
	}

	if len(failed) > 0 {
		msg := fmt.Sprintf("%d annotation(s) failed to evaluate", len(failed))
		if out.Format == "json" {
			out.Error(ErrCodeEvaluate, msg, decision)
		} else {
			fmt.Fprintln(out.Writer, formatDecision(decision, true))
			out.Error(ErrCodeEvaluate, msg, nil)
		}
		return NewExitError(ExitFailure, msg)
	}

	return out.Success(formatDecision(decision, rootOpts.Verbose), decision)
}

func formatDecision(d *engine.Decision, detailed bool) string {
	var b strings.Builder

	if len(d.Tags) == 0 {
		b.WriteString("tags: (none)\n")
	} else {
		fmt.Fprintf(&b, "tags: %s\n", strings.Join(d.Tags, ", "))
	}

	if d.Inhibited {
		fmt.Fprintf(&b, "inhibited: yes (%s)", strings.Join(d.InhibitedBy, ", "))
	} else {
		b.WriteString("inhibited: no")
	}

	if detailed {
		for _, r := range d.Results {
			switch {
			case r.Error != nil:
				fmt.Fprintf(&b, "\n  %s %s: error: %v", r.RecordID, r.Type, r.Error)
			case r.Type == annotations.TypeTag:
				fmt.Fprintf(&b, "\n  %s tag %q", r.RecordID, r.Tag)
			default:
				fmt.Fprintf(&b, "\n  %s inhibition matched=%t", r.RecordID, r.Matched)
			}
		}
	}

	return b.String()
}
