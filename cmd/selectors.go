// File: cmd/selectors.go
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSelectorsCmd() *cobra.Command {
	var listForms bool

	selectorsCmd := &cobra.Command{
		Use:   "selectors",
		Short: "Print the effective selector registry",
		Long: `Prints the built-in selector registry merged with the override file given by
--selectors (or selectors.path) as YAML. The output is a valid override file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			reg, err := loadRegistry(cfg.Selectors.Path)
			if err != nil {
				return err
			}
			if listForms {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), strings.Join(reg.FormNames(), "\n"))
				return err
			}
			out, err := reg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	selectorsCmd.Flags().BoolVar(&listForms, "forms", false, "list form names only")
	selectorsCmd.Flags().String("selectors", "", "selector override file (yaml, json or json5)")
	annotate(selectorsCmd.Flags(), "selectors", "selectors.path")
	return selectorsCmd
}
