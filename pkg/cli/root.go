// Package cli provides the command-line interface for Packmule
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile     string
	projectRoot string
	logLevel    string
	cacheDir    string
	version     string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "packmule",
	Short: "Incremental bundling that carries the load",
	Long: `📦 Packmule - An incremental source-to-bundle build orchestrator

Packmule walks your dependency graph from the configured entry points,
groups it into bundles, and packages them in parallel across a pool of
workers. In watch mode it rebuilds incrementally as files change.`,

	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("📦 Packmule v%s\n", version)
			return
		}
		cmd.Help()
	},
}

// Execute runs the CLI
func Execute(v string) error {
	version = v

	initializeRootCommand()

	return rootCmd.Execute()
}

// initializeRootCommand sets up the root command and its flags.
// Initialization is explicit rather than via init() to keep it testable.
func initializeRootCommand() {
	cobra.OnInitialize(initEnv)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: packmule.config.json)")
	rootCmd.PersistentFlags().StringVar(&projectRoot, "root", ".", "project root directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "cache directory (default: .packmule-cache)")
	rootCmd.Flags().BoolP("version", "v", false, "print version")

	viper.SetEnvPrefix("PACKMULE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("cache-dir", rootCmd.PersistentFlags().Lookup("cache-dir"))

	rootCmd.AddCommand(buildCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(versionCmd())
}

func initEnv() {
	if v := viper.GetString("log-level"); v != "" {
		logLevel = v
	}
	if v := viper.GetString("cache-dir"); v != "" {
		cacheDir = v
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the Packmule version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("📦 Packmule v%s\n", version)
		},
	}
}
