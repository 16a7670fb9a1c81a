package main

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/sbl8/tinyengine/envconfig"
	"github.com/sbl8/tinyengine/kernels"
	"github.com/sbl8/tinyengine/logutil"
)

// version is overridden at link time with -ldflags "-X main.version=...".
var version = "0.0.0"

func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "tinyengine",
		Short:         "Reverse-mode autodiff engine diagnostics",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger := logutil.NewLogger(os.Stderr, envconfig.LogLevel())
			slog.SetDefault(logger.With("run", uuid.NewString()))
			kernels.RegisterBuiltins()
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(cmd.UsageString())
		},
	}

	gradcheckCmd := newGradcheckCmd()
	benchCmd := newBenchCmd()
	scheduleCmd := newScheduleCmd()

	envVars := envconfig.AsMap()
	for _, cmd := range []*cobra.Command{gradcheckCmd, benchCmd, scheduleCmd} {
		appendEnvDocs(cmd, []envconfig.EnvVar{
			envVars["TINYENGINE_DEBUG"],
			envVars["TINYENGINE_ARENA_SIZE"],
			envVars["TINYENGINE_PARAM_ARENA_SIZE"],
			envVars["TINYENGINE_NUM_WORKERS"],
			envVars["TINYENGINE_PARALLEL"],
			envVars["TINYENGINE_STATS"],
		})
	}

	rootCmd.AddCommand(
		gradcheckCmd,
		benchCmd,
		scheduleCmd,
		newVersionCmd(),
	)

	return rootCmd
}

func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString("\nEnvironment Variables:\n")
	for _, e := range envs {
		fmt.Fprintf(&sb, "      %-28s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + sb.String())
}

func newTable(cmd *cobra.Command, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Printf("tinyengine version %s\n", version)

			verbose, _ := cmd.Flags().GetBool("verbose")
			if !verbose {
				return nil
			}

			vals := envconfig.Values()
			keys := make([]string, 0, len(vals))
			for k := range vals {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			table := newTable(cmd, []string{"VARIABLE", "VALUE"})
			for _, k := range keys {
				table.Append([]string{k, vals[k]})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().BoolP("verbose", "v", false, "Show effective configuration")
	return cmd
}
