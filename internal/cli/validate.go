package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liamcoop/annotations/annotations"
)

// ValidationResult reports the outcome of parsing one annotation.
type ValidationResult struct {
	Index    int                   `json:"index"`
	Valid    bool                  `json:"valid"`
	Type     string                `json:"type,omitempty"`
	Error    string                `json:"error,omitempty"`
	Kind     annotations.ErrorKind `json:"kind,omitempty"`
	Field    string                `json:"field,omitempty"`
	Function string                `json:"function,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate annotation definitions",
		Long: `Parse every annotation in a JSON or YAML file and report the
first problem found in each. Exits non-zero if any annotation is invalid.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, rootOpts, args[0])
		},
	}

	return cmd
}

func runValidate(cmd *cobra.Command, rootOpts *RootOptions, path string) error {
	out := newFormatter(rootOpts, cmd)

	defs, err := loadDefinitions(path)
	if err != nil {
		out.Error(ErrCodeRead, err.Error(), nil)
		return err
	}
	out.VerboseLog("Loaded %d annotation(s) from %s", len(defs), path)

	parser := annotations.NewParser(nil)
	results := make([]ValidationResult, 0, len(defs))
	invalid := 0
	for i, def := range defs {
		result := validateOne(parser, i, def)
		if !result.Valid {
			invalid++
		}
		results = append(results, result)
	}

	if invalid > 0 {
		msg := fmt.Sprintf("%d of %d annotation(s) invalid", invalid, len(defs))
		if out.Format == "json" {
			out.Error(ErrCodeInvalid, msg, results)
		} else {
			fmt.Fprintln(out.Writer, formatValidation(results))
			out.Error(ErrCodeInvalid, msg, nil)
		}
		return NewExitError(ExitFailure, msg)
	}

	text := formatValidation(results) + fmt.Sprintf("\n%d annotation(s) valid", len(defs))
	return out.Success(text, results)
}

func validateOne(parser *annotations.Parser, index int, def any) ValidationResult {
	result := ValidationResult{Index: index}

	a, err := parser.Parse(def)
	if err != nil {
		result.Error = err.Error()
		var ae *annotations.AnnotationError
		if errors.As(err, &ae) {
			result.Kind = ae.Kind
			result.Field = ae.Field
			result.Function = ae.Function
		}
		return result
	}

	result.Valid = true
	result.Type = a.Type()
	return result
}

func formatValidation(results []ValidationResult) string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		if r.Valid {
			lines = append(lines, fmt.Sprintf("✓ [%d] %s", r.Index, r.Type))
		} else {
			lines = append(lines, fmt.Sprintf("✗ [%d] %s", r.Index, r.Error))
		}
	}
	return strings.Join(lines, "\n")
}
