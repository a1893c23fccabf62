package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/pollcast/internal/model"
	"github.com/ppiankov/pollcast/internal/validate"
)

const version = "0.3.0"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "pollcast",
	Short: "Pollcast - two-party electoral forecasts from state polls",
	Long: `Pollcast forecasts a two-party election from state-level polls.

For every day of the campaign it produces each state's vote-share split,
win probability and standard errors, and the full probability distribution
of electoral votes for each party.

Inputs are already-cleaned CSV tables (polls, previous-election baseline,
elector allocations) read from local paths or http(s) URLs.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the version number of Pollcast.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pollcast v%s\n", version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.pollcast/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	_ = viper.BindPFlag("output.verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".pollcast"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	} else {
		fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
	}

	configureEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// configureEnv maps POLLCAST_MODEL_WINDOW_DAYS onto model.window_days and so on
func configureEnv(v *viper.Viper) {
	v.SetEnvPrefix("POLLCAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v, "", reflect.TypeOf(model.Config{}))
}

// bindEnv registers every mapstructure key so Unmarshal sees env values for
// keys no config file mentions
func bindEnv(v *viper.Viper, prefix string, t reflect.Type) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if field.Type.Kind() == reflect.Struct {
			bindEnv(v, key, field.Type)
			continue
		}
		_ = v.BindEnv(key)
	}
}

// loadConfig layers the config file, environment and bound flags over the defaults
func loadConfig() (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if verbose {
		cfg.Output.Verbose = true
	}
	if err := validate.Config(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger returns a text logger on stderr; debug records only with --verbose
func newLogger(cfg *model.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Output.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
