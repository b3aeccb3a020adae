package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dustmap/pkg/config"
	"dustmap/pkg/pipeline"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dustmap",
		Short: "Estimate interstellar dust extinction from photometric catalogs",
		Long: `dustmap estimates per-source interstellar extinction by comparing a
science field against an extinction-free control field and renders the
result as smoothed sky maps.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newInitConfigCmd())
	return cmd
}

func newRunCmd() *cobra.Command {
	var (
		configPath string
		method     string
		outputDir  string
		workers    int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the extinction pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}

			// Flag overrides take precedence over the config file.
			if method != "" {
				cfg.Estimator.Method = method
			}
			if outputDir != "" {
				cfg.Output.Directory = outputDir
			}
			if workers > 0 {
				cfg.Estimator.Workers = workers
			}

			logger, err := newLogger(cfg.Output.Verbose)
			if err != nil {
				return err
			}
			defer logger.Sync()

			p, err := pipeline.New(cfg, pipeline.WithLogger(logger))
			if err != nil {
				return err
			}

			fmt.Println("Starting extinction estimation...")
			start := time.Now()
			if err := p.Run(); err != nil {
				return err
			}
			elapsed := time.Since(start)

			s := p.Summary()
			fmt.Printf("\nPipeline completed in %.2f seconds\n", elapsed.Seconds())
			fmt.Printf("Results saved to: %s\n\n", cfg.Output.Directory)

			fmt.Printf("Summary:\n")
			fmt.Printf("========\n")
			fmt.Printf("Science sources: %d\n", s.Sources)
			fmt.Printf("Finite extinction estimates: %d\n", s.FiniteExtinction)
			fmt.Printf("Mean extinction: %.3f mag\n", s.MeanExtinction)
			fmt.Printf("Extinction scatter: %.3f mag\n", s.StdExtinction)
			fmt.Printf("Mean extinction error: %.3f mag\n", s.MeanError)
			fmt.Printf("Map pixels: %d (%d finite)\n", s.MapPixels, s.MapFinitePixels)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "dustmap.yaml", "path to the YAML configuration file")
	cmd.Flags().StringVar(&method, "method", "", "override the estimator method (pnicer or nicer)")
	cmd.Flags().StringVar(&outputDir, "output", "", "override the output directory")
	cmd.Flags().IntVar(&workers, "workers", 0, "override the number of worker goroutines")
	return cmd
}

func newInitConfigCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.CreateDefaultConfigFile(configPath); err != nil {
				return err
			}
			fmt.Printf("Default configuration written to: %s\n", configPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "dustmap.yaml", "path for the new configuration file")
	return cmd
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
