// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/erpfill/internal/config"
	"github.com/xkilldash9x/erpfill/internal/observability"
)

type contextKey string

const configKey contextKey = "erpfill.config"

// viperKeyAnnotation marks a flag as an override for a configuration key.
const viperKeyAnnotation = "erpfill/viper-key"

// NewRootCmd builds the command tree. Every call returns an independent tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(NewSessionFactory(), NewStoreProvider())
}

func newRootCmd(sessions sessionFactory, stores storeProvider) *cobra.Command {
	var cfgFile, envFile string

	rootCmd := &cobra.Command{
		Use:           "erpfill",
		Short:         "erpfill fills ERP forms from spreadsheet rows through a real browser.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// 1. .env first so it can feed the environment lookup.
			if err := loadDotEnv(envFile); err != nil {
				return err
			}

			// 2. Defaults, file, environment and flags, lowest to highest.
			v := viper.New()
			config.SetDefaults(v)
			if err := readConfigFile(v, cfgFile); err != nil {
				return err
			}
			if err := bindFlags(v, cmd.Flags()); err != nil {
				return err
			}
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			// 3. Logging.
			observability.Initialize(cfg.Logger, consoleSink(cmd))
			observability.GetLogger().Debug("Starting erpfill.", zap.String("version", Version), zap.String("command", cmd.Name()))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			observability.Sync()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before configuration")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	annotate(rootCmd.PersistentFlags(), "log-level", "logger.level")
	rootCmd.SetVersionTemplate(`{{printf "erpfill version %s\n" .Version}}`)

	rootCmd.AddCommand(newRunCmd(sessions, stores))
	rootCmd.AddCommand(newReportCmd(stores))
	rootCmd.AddCommand(newSelectorsCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context) int {
	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		observability.GetLogger().Error("Command execution failed.", zap.Error(err))
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		return 1
	}
	return 0
}

// getConfigFromContext returns the configuration stored by PersistentPreRunE.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not found in context")
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	// Variables already set in the environment win over the file.
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// readConfigFile reads cfgFile, or ./config.yaml when present.
func readConfigFile(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// annotate ties a flag to a configuration key.
func annotate(fs *pflag.FlagSet, flag, key string) {
	_ = fs.SetAnnotation(flag, viperKeyAnnotation, []string{key})
}

// bindFlags binds every annotated flag of the running command. Only flags the
// user actually set override the file and environment.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[viperKeyAnnotation]
		if len(keys) == 0 || !f.Changed {
			return
		}
		if err := v.BindPFlag(keys[0], f); err != nil {
			errs = append(errs, fmt.Errorf("failed to bind flag --%s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

// consoleSink routes console logs to the command's error stream so that
// report output on stdout stays clean.
func consoleSink(cmd *cobra.Command) zapcore.WriteSyncer {
	return zapcore.Lock(zapcore.AddSync(cmd.ErrOrStderr()))
}
