package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/efebarandurmaz/skillmatch/internal/llm"
	"github.com/spf13/cobra"
)

func main() {
	var opts runOptions

	rootCmd := &cobra.Command{
		Use:          "skillmatch",
		Short:        "Match registry packages to taxonomy skills with embeddings and an LLM judge",
		SilenceUsage: true,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the matching rounds and persist the matches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatching(cmd.Context(), opts)
		},
	}
	runCmd.Flags().StringVar(&opts.configPath, "config", "configs/skillmatch.yaml", "Config file path")
	runCmd.Flags().StringVar(&opts.skillsDSN, "skills", "", "Skills SQLite database (overrides source.skills_dsn)")
	runCmd.Flags().StringVar(&opts.packagesCSV, "packages", "", "Packages CSV file (overrides source.packages_csv)")
	runCmd.Flags().StringVar(&opts.outputDSN, "output", "", "Output SQLite database (overrides output.sqlite_dsn)")
	runCmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging")
	runCmd.Flags().BoolVar(&opts.jsonReport, "json", false, "Print the run report as JSON")
	runCmd.Flags().BoolVar(&opts.dumpMetrics, "metrics", false, "Dump Prometheus metrics to stderr when the run ends")
	runCmd.Flags().StringVar(&opts.statusAddr, "status-addr", "", "Serve /healthz, /readyz, /status and /metrics on this address while running")

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List OpenAI-compatible provider presets",
		Run: func(cmd *cobra.Command, args []string) {
			names := make([]string, 0, len(llm.KnownProviders))
			for name := range llm.KnownProviders {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Println("Available LLM providers:")
			fmt.Println()
			for _, name := range names {
				fmt.Printf("  %-10s %s\n", name, llm.KnownProviders[name])
			}
			fmt.Println("  custom     (list any OpenAI-compatible URLs under llm.servers)")
			fmt.Println()
			fmt.Println("Configure in skillmatch.yaml or via environment:")
			fmt.Println("  SKILLMATCH_LLM_PROVIDER=vllm")
			fmt.Println("  SKILLMATCH_LLM_SERVERS=http://gpu-1:8000/v1,http://gpu-2:8000/v1")
			fmt.Println("  SKILLMATCH_LLM_API_KEY=sk-...")
		},
	}

	rootCmd.AddCommand(runCmd, providersCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
