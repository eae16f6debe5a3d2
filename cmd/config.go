package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/deploymenttheory/go-recovery/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or create the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Show prints the configuration after defaults, the config file and
RECOVERY_* environment variables are merged. Secrets are masked.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v := viper.New()
		if _, err := config.LoadWith(v, configPath); err != nil {
			return err
		}
		settings := v.AllSettings()
		if s3, ok := settings["s3"].(map[string]any); ok {
			if s, _ := s3["secret_key"].(string); s != "" {
				s3["secret_key"] = "********"
			}
		}

		out, err := yaml.Marshal(settings)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		if used := v.ConfigFileUsed(); used != "" {
			fmt.Fprintf(appCtx.Out, "# %s\n", used)
		}
		_, err = appCtx.Out.Write(out)
		return err
	},
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file with the default values",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ConfigName + ".yaml"
		if len(args) == 1 {
			path = args[0]
		}
		v := viper.New()
		config.SetDefaults(v)

		write := v.SafeWriteConfigAs
		if configInitForce {
			write = v.WriteConfigAs
		}
		if err := write(path); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		appCtx.Logger.Info().Str("path", path).Msg("configuration written")
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "overwrite an existing file")
	configCmd.AddCommand(configShowCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}
