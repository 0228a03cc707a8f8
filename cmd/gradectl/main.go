package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"gradeflow/internal/client"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

type globalFlags struct {
	server       string
	credential   string
	pollInterval time.Duration
	maxAttempts  int
}

func (g *globalFlags) client() *client.Client {
	return client.New(g.server,
		client.WithCredential(g.credential),
		client.WithPolling(g.pollInterval, g.maxAttempts),
	)
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:          "gradectl",
		Short:        "gradectl drives grading sessions on a gradeflow server",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&flags.server, "server", envOr("GRADEFLOW_SERVER", "http://127.0.0.1:8080"), "gradeflow base URL")
	cmd.PersistentFlags().StringVar(&flags.credential, "key", os.Getenv("GRADEFLOW_KEY"), "API key or bearer token")
	cmd.PersistentFlags().DurationVar(&flags.pollInterval, "poll-interval", client.DefaultPollInterval, "status polling interval")
	cmd.PersistentFlags().IntVar(&flags.maxAttempts, "max-attempts", client.DefaultMaxAttempts, "status polls before giving up")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newTokenCmd(flags))
	cmd.AddCommand(newCreateCmd(flags))
	cmd.AddCommand(newUploadCmd(flags))
	cmd.AddCommand(newGradeCmd(flags))
	cmd.AddCommand(newStatusCmd(flags))
	cmd.AddCommand(newResultsCmd(flags))
	cmd.AddCommand(newDeleteCmd(flags))
	cmd.AddCommand(newRunCmd(flags))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gradectl %s (commit: %s)\n", Version, Commit)
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
