package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/huangang/buildlog/internal/config"
	"github.com/huangang/buildlog/internal/models"
	"github.com/huangang/buildlog/internal/utils"
	"github.com/huangang/buildlog/pkg/logger"
)

// Set by the linker
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "buildlog",
	Short: "Build-in-public project server",
	Long: `buildlog serves projects, their collaborators and their build logs
over HTTP, with change notifications streamed to subscribers.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "config file (default: config.yaml)")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				return serve(cfg)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or update database tables",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				db, err := models.Open(&cfg.Database)
				if err != nil {
					return fmt.Errorf("connect database: %w", err)
				}
				if err := models.Migrate(db); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				logger.Info().Str("driver", cfg.Database.Driver).Msg("database migrated")
				return nil
			},
		},
		tokenCmd(),
		configCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println("buildlog", version)
			},
		},
	)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level)
	utils.SetJWTSecret(cfg.JWT.Secret)
	return cfg, nil
}

// tokenCmd issues a bearer token for local testing. Production tokens come
// from the identity provider.
func tokenCmd() *cobra.Command {
	var id utils.Identity
	var hours int

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a signed bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if hours <= 0 {
				hours = cfg.JWT.ExpireHour
			}
			id.UserID = args[0]
			token, err := utils.GenerateToken(id, hours)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&id.Email, "email", "", "email claim")
	cmd.Flags().StringVar(&id.Name, "name", "", "display name claim")
	cmd.Flags().StringVar(&id.AvatarURL, "avatar", "", "avatar url claim")
	cmd.Flags().IntVar(&hours, "hours", 0, "lifetime in hours (default: jwt.expire_hour)")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = "config.yaml"
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.DefaultConfig().Save(path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
			return nil
		},
	})
	return cmd
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
