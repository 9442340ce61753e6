package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "viewband",
		Short: "Estimate expected video view counts by age and classify actual performance",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(refreshCmd())
	root.AddCommand(baselinesCmd())
	root.AddCommand(classifyCmd())
	root.AddCommand(curveCmd())
	root.AddCommand(importCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func refreshCmd() *cobra.Command {
	var (
		fromAge int
		toAge   int
		resume  bool
	)

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Rebuild the envelope curve from stored samples and commit it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefresh(fromAge, toAge, resume)
		},
	}

	cmd.Flags().IntVar(&fromAge, "from", 0, "first age (days) to recompute")
	cmd.Flags().IntVar(&toAge, "to", 0, "last age (days) to recompute (0 = max age)")
	cmd.Flags().BoolVar(&resume, "resume", false, "continue an interrupted staging run from its watermark")
	return cmd
}

func baselinesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "baselines",
		Short: "Recompute per-channel scale factors against the committed curve",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBaselines()
		},
	}
}

func classifyCmd() *cobra.Command {
	var (
		entity     string
		age        int
		value      int64
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify one observed (age, views) pair for a channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(entity, age, value, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&entity, "entity", "", "channel id (required)")
	cmd.Flags().IntVar(&age, "age", 0, "video age in days")
	cmd.Flags().Int64Var(&value, "value", 0, "observed view count")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.MarkFlagRequired("entity")
	return cmd
}

func curveCmd() *cobra.Command {
	var (
		age        int
		fromAge    int
		toAge      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "curve",
		Short: "Show the committed envelope curve",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCurve(age, fromAge, toAge, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&age, "age", -1, "show a single age")
	cmd.Flags().IntVar(&fromAge, "from", 0, "first age to show")
	cmd.Flags().IntVar(&toAge, "to", 30, "last age to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Load samples from a CSV export (entity_id,age_days,value)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(args[0])
		},
	}
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
