package main

import (
	"fmt"

	"github.com/codayhq/coday/internal/providers/bedrock"
	"github.com/spf13/cobra"
)

// buildProvidersCmd groups provider-inspection subcommands.
func buildProvidersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Inspect configured AI providers",
	}
	cmd.AddCommand(buildBedrockModelsCmd())
	return cmd
}

// buildBedrockModelsCmd lists the foundation models a Bedrock provider entry
// can resolve bigModel/smallModel against, so a misspelled model id in a
// CODAY/PROJECT/USER config layer surfaces before a thread tries to run.
func buildBedrockModelsCmd() *cobra.Command {
	var region string
	var providerFilter []string

	cmd := &cobra.Command{
		Use:   "bedrock-models",
		Short: "List AWS Bedrock foundation models available for provider config",
		RunE: func(cmd *cobra.Command, args []string) error {
			models, err := bedrock.DiscoverModels(cmd.Context(), &bedrock.DiscoveryConfig{
				Region:         region,
				ProviderFilter: providerFilter,
			})
			if err != nil {
				return fmt.Errorf("bedrock discovery failed: %w", err)
			}
			out := cmd.OutOrStdout()
			for _, m := range models {
				fmt.Fprintf(out, "%-45s  %-12s  ctx=%-8d  reasoning=%v\n", m.ID, m.Provider, m.ContextWindow, m.Reasoning)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&region, "region", "us-east-1", "AWS region to query")
	cmd.Flags().StringSliceVar(&providerFilter, "provider", nil, "restrict to these Bedrock providers (e.g. anthropic, meta)")
	return cmd
}
