package app

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stoik/aide/services/agent-service/internal/config"
	"github.com/stoik/aide/services/agent-service/internal/db"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the database schema and credential directory",
	Long:  "Creates the key-value table used for accounts, messages, analyses, embeddings and credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}

		if cfg.Credentials.Backend == "file" {
			if err := os.MkdirAll(cfg.Credentials.Dir, 0o700); err != nil {
				return fmt.Errorf("failed to create credential dir: %w", err)
			}
			fmt.Printf("✓ Credential directory: %s\n", cfg.Credentials.Dir)
		}

		if cfg.Database.URL == "" {
			fmt.Println("database.url not set; nothing to migrate")
			return nil
		}
		conn, err := db.Open(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer conn.Close()

		fmt.Println("Running migrations...")
		if err := db.Migrate(ctx, conn); err != nil {
			return err
		}
		fmt.Println("✓ Database setup complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
}
