package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(modelsCmd)
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models the client knows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		current := a.store.CurrentModel()
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "\tID\tNAME\tIMAGES\tTHINKING\tEFFORT")
		for _, m := range a.models.List() {
			mark := ""
			if m.ID == current {
				mark = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", mark, m.ID, m.Name,
				yesNo(m.SupportsImageInput), yesNo(m.SupportsDeepThinking), yesNo(m.SupportsThinkingEffort))
		}
		return tw.Flush()
	},
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}
