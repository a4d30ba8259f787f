package cli

import (
	"fmt"
	"os"

	"github.com/ppiankov/factmark/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Version is set at build time
var Version = "v0.1.0"

var (
	cfgFile string
	verbose bool
	jsonLog bool

	v      = viper.New()
	logger = zap.NewNop()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "factmark",
	Short: "factmark - highlight checkable claims and relay extension sign-in",
	Long: `factmark finds fact-checkable claims in web pages and marks them in
place, colour-coded by credibility, with the supporting sources one click
away.

It also runs the sign-in relay that hands a web login to the extension's
privileged context.

factmark shows what a checker reported. It does not decide what is true.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.New(v.GetBool("verbose"), v.GetBool("output.json_log"))
		if err != nil {
			return err
		}
		logger = l
		if used := v.ConfigFileUsed(); used != "" {
			logger.Debug("using config file", zap.String("path", used))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the version number of factmark.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "factmark %s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/factmark/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonLog, "json-log", false, "log as JSON")

	// Bind flags to viper
	_ = v.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = v.BindPFlag("output.json_log", rootCmd.PersistentFlags().Lookup("json-log"))

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if err := setupViper(v, cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
	}
}
