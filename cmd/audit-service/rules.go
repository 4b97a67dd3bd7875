package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"github.com/upb/sso-audit/config"
	"gopkg.in/yaml.v3"
)

func newRulesCmd() *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect workflow rule tables",
	}
	rulesCmd.AddCommand(newRulesValidateCmd())
	rulesCmd.AddCommand(newRulesShowCmd())
	return rulesCmd
}

func newRulesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a workflow rule file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := config.LoadRules(args[0])
			if err != nil {
				return fmt.Errorf("rule file is invalid: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d workflow rules\n", args[0], len(rules))
			for _, r := range rules {
				maxDuration := "default"
				if r.MaxDuration > 0 {
					maxDuration = r.MaxDuration.String()
				}
				fmt.Fprintf(out, "  %-24s start=%d continue=%d end=%d max_duration=%s\n",
					r.Type, len(r.Start), len(r.Continue), len(r.End), maxDuration)
			}
			return nil
		},
	}
}

func newRulesShowCmd() *cobra.Command {
	var (
		rulesFile  string
		tablesFile string
		withTables bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective rule table as YAML",
		Long: `Print the workflow rules the service would load. Without --file the
AUDIT_RULES_FILE environment variable is used, and the built-in rules when
that is unset.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := config.LoadRules(rulesFile)
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()

			if err := enc.Encode(config.RuleFile{Workflows: rules}); err != nil {
				return fmt.Errorf("failed to encode rules: %w", err)
			}
			if !withTables {
				return nil
			}

			tables, err := config.LoadEnrichmentTables(tablesFile)
			if err != nil {
				return err
			}
			return enc.Encode(sortedTables(tables))
		},
	}

	cmd.Flags().StringVar(&rulesFile, "file", os.Getenv("AUDIT_RULES_FILE"), "workflow rule file")
	cmd.Flags().StringVar(&tablesFile, "tables-file", os.Getenv("AUDIT_ENRICHMENT_FILE"), "enrichment table file")
	cmd.Flags().BoolVar(&withTables, "tables", false, "also print the enrichment tables")
	return cmd
}

// sortedTables renders the enrichment maps with stable key order
func sortedTables(t *config.EnrichmentTables) *yaml.Node {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, section := range []struct {
		name   string
		values map[string]string
	}{
		{"tool_categories", t.ToolCategories},
		{"severities", t.Severities},
	} {
		keys := make([]string, 0, len(section.values))
		for k := range section.values {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		m := &yaml.Node{Kind: yaml.MappingNode}
		for _, k := range keys {
			m.Content = append(m.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: k},
				&yaml.Node{Kind: yaml.ScalarNode, Value: section.values[k]})
		}
		root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: section.name}, m)
	}
	return root
}
