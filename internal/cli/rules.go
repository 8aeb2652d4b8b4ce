package cli

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"kinguard/internal/policy"
	"kinguard/internal/policy/loader"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and validate rule files",
	}
	cmd.AddCommand(newRulesValidateCmd(), newRulesDefaultCmd())
	return cmd
}

func newRulesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Parse a rule file and report every rule with its warnings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			rules, err := loader.Parse(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			sort.SliceStable(rules, func(i, j int) bool {
				if rules[i].Priority != rules[j].Priority {
					return rules[i].Priority < rules[j].Priority
				}
				return rules[i].ID < rules[j].ID
			})

			warnings := make(map[string][]policy.Warning, len(rules))
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tPRIORITY\tSTATUS\tWARNINGS")
			for i := range rules {
				r := &rules[i]
				ws, _ := r.Validate()
				warnings[r.ID] = ws
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\n", r.ID, r.Type, r.Priority, r.Status, len(ws))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			for _, r := range rules {
				for _, w := range warnings[r.ID] {
					fmt.Fprintf(cmd.OutOrStdout(), "warning: %s: %s\n", r.ID, w)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d rules OK\n", len(rules))
			return nil
		},
	}
}

func newRulesDefaultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "default",
		Short: "Print the built-in seed rules as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := loader.DefaultRulesYAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
