package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liamcoop/annotations/annotations"
)

// FunctionInfo describes one registered condition function.
type FunctionInfo struct {
	Name  string `json:"name"`
	Arity int    `json:"arity"`
}

// NewFunctionsCommand creates the functions command.
func NewFunctionsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "functions",
		Short: "List the functions available in conditions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)

			fns := annotations.DefaultRegistry().Functions()
			infos := make([]FunctionInfo, 0, len(fns))
			lines := make([]string, 0, len(fns))
			for _, fn := range fns {
				infos = append(infos, FunctionInfo{Name: fn.Name, Arity: fn.Arity})
				lines = append(lines, fmt.Sprintf("%s/%d", fn.Name, fn.Arity))
			}

			return out.Success(strings.Join(lines, "\n"), infos)
		},
	}
}
