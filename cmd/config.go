// File: cmd/config.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// newConfigCmd creates the `config` command group.
func newConfigCmd(a *app) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration as YAML (secrets omitted)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := yaml.Marshal(a.cfg)
			if err != nil {
				return fmt.Errorf("failed to render config: %w", err)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "# passwords and API keys are never printed")
			fmt.Fprintf(w, "# credentials: %s\n", presence(a.cfg.Portal().Username != "" && a.cfg.Portal().Password != ""))
			fmt.Fprintf(w, "# recognition api key: %s\n", presence(a.cfg.Recognition().APIKey != "" || a.cfg.Recognition().Gemini.APIKey != ""))
			_, err = w.Write(out)
			return err
		},
	})
	return configCmd
}

func presence(ok bool) string {
	if ok {
		return "set"
	}
	return "missing"
}
