package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags selects the manager a client command talks to.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

type ServeFlags struct {
	MetricsListen string
}

type RenderFlags struct {
	Active string
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	apiFlags := &APIFlags{}

	root := createRootCommand(globalFlags)
	root.PersistentFlags().StringVar(&apiFlags.APIUrl, "api-url", "", "manager control API URL (default http://localhost:<manage_port>)")
	root.PersistentFlags().DurationVar(&apiFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	c := command{global: globalFlags, api: apiFlags}
	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(c),
		createSwapCommand(c),
		createRedeployCommand(c),
		createProcessesCommand(c),
		createRenderRoutesCommand(globalFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "bluegreen",
		Short: "Blue-green deployment manager",
		Long: `bluegreen supervises two slots of a service behind a reverse proxy,
swaps live traffic between them and redeploys the idle slot.

Examples:
  bluegreen serve --config bluegreen.toml
  bluegreen status
  bluegreen swap
  bluegreen redeploy --api-timeout 15m
  bluegreen render-routes --active server2`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the manager in the foreground",
		Long: `Start the proxy and both slots, then serve the control API until
SIGINT or SIGTERM. On a signal every supervised process group receives
SIGTERM and the manager exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(globalFlags.ConfigPath, serveFlags)
		},
	}
	cmd.Flags().StringVar(&serveFlags.MetricsListen, "metrics-listen", "", "address for the Prometheus /metrics listener (overrides metrics.listen)")
	return cmd
}

func createStatusCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show slot health and the active slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func createSwapCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "swap",
		Short: "Hand live traffic to the non-active slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Swap(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func createRedeployCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "redeploy",
		Short: "Rebuild and restart the non-active slot",
		Long: `Stop the non-active slot, run the update pipeline in its working
directory and start it again. The request blocks for the whole pipeline,
so raise --api-timeout for long builds.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Redeploy(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func createProcessesCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "processes",
		Short: "List supervised processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Processes(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func createRenderRoutesCommand(globalFlags *GlobalFlags) *cobra.Command {
	renderFlags := &RenderFlags{}
	cmd := &cobra.Command{
		Use:   "render-routes",
		Short: "Print the routing declaration for a given active slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return renderRoutes(globalFlags.ConfigPath, renderFlags.Active, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&renderFlags.Active, "active", "server1", "active slot (server1 or server2)")
	return cmd
}
