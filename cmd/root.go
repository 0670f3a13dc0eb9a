// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-driver/internal/config"
	"github.com/xkilldash9x/scalpel-driver/internal/observability"
)

const envPrefix = "SCALPEL_DRIVER"

type contextKey string

const configKey contextKey = "config"

// NewRootCommand builds a fresh command tree. Each invocation gets its own
// viper instance, so commands never share flag or config state.
func NewRootCommand() *cobra.Command {
	var cfgFile string
	v := viper.New()

	root := &cobra.Command{
		Use:           "scalpel-driver",
		Short:         "Scalpel Driver runs declarative browser interaction flows.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.SetDefaults(v)
			if err := initializeConfig(v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			if err := bindConfigFlags(v, cmd.Flags()); err != nil {
				return err
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "scalpel-driver"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}
			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting Scalpel Driver", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(newRunCmd())
	return root
}

// Execute runs the command tree with ctx as the cancellation signal for
// every browser session it starts.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
	}
	observability.Sync()
	return err
}

// initializeConfig reads the config file and binds SCALPEL_DRIVER_* env vars.
// A missing default config file is not an error.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		path, err := homedir.Expand(cfgFile)
		if err != nil {
			return err
		}
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// configKeyAnnotation marks a flag as an override for a config key.
const configKeyAnnotation = "scalpel-driver/config-key"

// bindFlagToConfig makes flag override the config key, with the usual
// flag > env > file > default precedence.
func bindFlagToConfig(flags *pflag.FlagSet, flag, key string) {
	_ = flags.SetAnnotation(flag, configKeyAnnotation, []string{key})
}

func bindConfigFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if keys, ok := f.Annotations[configKeyAnnotation]; ok && err == nil {
			err = v.BindPFlag(keys[0], f)
		}
	})
	return err
}

// configFrom returns the configuration stored by the root command.
func configFrom(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}
