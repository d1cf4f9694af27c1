package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/runsystem/internal/profiler"
)

// AdapterInfo describes a registered profiler adapter.
type AdapterInfo struct {
	Name  string   `json:"name"`
	Tools []string `json:"tools,omitempty"`
}

// NewAdaptersCommand creates the adapters command.
func NewAdaptersCommand(rootOpts *RootOptions) *cobra.Command {
	var adapterDir string

	cmd := &cobra.Command{
		Use:   "adapters",
		Short: "List profiler adapters",
		Long: `List the built-in profiler adapters, plus those described by the YAML
files in --adapter-dir, with the external tools each one runs.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := profiler.NewRegistry()
			if adapterDir != "" {
				if _, err := reg.LoadDir(adapterDir); err != nil {
					return WrapExitError(ExitCommandError, "failed to load adapters", err)
				}
			}
			var infos []AdapterInfo
			for _, name := range reg.Names() {
				factory, err := reg.Get(name)
				if err != nil {
					return WrapExitError(ExitFailure, "registry error", err)
				}
				info := AdapterInfo{Name: name}
				if tu, ok := factory(nil).(profiler.ToolUser); ok {
					info.Tools = tu.Tools()
				}
				infos = append(infos, info)
			}
			return newFormatter(rootOpts, cmd).Render(infos, func(w io.Writer) {
				for _, a := range infos {
					fmt.Fprintf(w, "%-20s %v\n", a.Name, a.Tools)
				}
			})
		},
	}

	cmd.Flags().StringVar(&adapterDir, "adapter-dir", "", "directory of adapter descriptors")

	return cmd
}
