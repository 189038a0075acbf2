// ABOUTME: Root cobra command with viper-backed configuration
// ABOUTME: Flags, COVIEW_ environment variables and coview.yaml share one namespace
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Resonate-Protocol/coview-go/internal/version"
)

// envPrefix namespaces environment overrides, e.g. COVIEW_BACKEND
const envPrefix = "COVIEW"

var (
	cfgFile string
	v       = newViper()
)

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

var rootCmd = &cobra.Command{
	Use:   "coview",
	Short: "Share what you are playing with a room",
	Long: `coview routes a player's audio through a processing tap into an audio
device, mixes in the other participants of a room, and sends captured
audio back to them through a relay.

Configuration is read from flags, COVIEW_* environment variables and
coview.yaml in the current directory or ~/.coview.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		return readConfig(v, cfgFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./coview.yaml or ~/.coview/coview.yaml)")
	rootCmd.PersistentFlags().String("log-file", "coview.log", "Log file path")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	rootCmd.AddCommand(playCmd, relayCmd, versionCmd)
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}

// readConfig loads the config file if there is one. A missing default file
// is not an error; a missing explicit file is.
func readConfig(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("coview")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(os.ExpandEnv("$HOME/.coview"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && path == "" {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// setupLogging sends logs to the log file, and to stdout when nothing else
// owns the terminal. The returned closer flushes the file.
func setupLogging(v *viper.Viper, toStdout bool) (io.Closer, error) {
	f, err := os.OpenFile(v.GetString("log-file"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %w", err)
	}

	if toStdout {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	} else {
		log.SetOutput(f)
	}
	if v.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}
	log.Printf("Starting %s", version.String())
	return f, nil
}

// defaultName derives a participant or relay name from the hostname
func defaultName(suffix string) string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%s", hostname, suffix)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}
