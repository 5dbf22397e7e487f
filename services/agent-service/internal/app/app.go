package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stoik/aide/services/agent-service/internal/httpapi"
	"github.com/stoik/aide/services/agent-service/internal/obs"
)

var rootCmd = &cobra.Command{
	Use:   "aide",
	Short: "Aide agent service",
	Long:  "Aggregates mail, calendar and notes from Microsoft and Google accounts and analyzes them with an LLM",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent service",
	Long:  "Restores signed-in accounts, monitors their mailboxes and serves the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		rt, err := build(ctx, nil)
		if err != nil {
			return err
		}
		defer rt.Close()

		n, err := rt.agent.Restore(ctx)
		if err != nil {
			return fmt.Errorf("failed to restore accounts: %w", err)
		}
		rt.log.Info("accounts restored", "count", n)

		if rt.agent.IsAuthenticated() {
			if err := rt.agent.Start(ctx); err != nil {
				return fmt.Errorf("failed to start agent: %w", err)
			}
		} else {
			rt.log.Warn("no signed-in account; sign in with POST /login/{provider} or the login command")
		}

		obs.Init()
		api := httpapi.New(rt.agent, httpapi.Options{
			RateLimit: rt.cfg.Server.RateLimit,
			Burst:     rt.cfg.Server.Burst,
		}, rt.log)
		srv := &http.Server{
			Addr:              rt.cfg.Server.Addr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		errChan := make(chan error, 1)
		go func() {
			rt.log.Info("http server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
			close(errChan)
		}()

		select {
		case <-sigChan:
			rt.log.Info("shutting down gracefully")
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("http server failed: %w", err)
			}
		}

		shutdownCtx, stop := context.WithTimeout(context.Background(), rt.cfg.Monitoring.ShutdownTimeout)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			rt.log.Warn("http server did not stop cleanly", "error", err)
		}
		if err := rt.agent.Stop(shutdownCtx); err != nil {
			rt.log.Warn("agent stopped with errors", "error", err)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file (default: config.yaml in . or ./services/agent-service)")
	flags.String("database.url", "", "Postgres connection URL; empty keeps state in files under database.state_dir")
	flags.String("server.addr", ":8090", "HTTP listen address")
	flags.String("emulator.url", "", "Base URL of the local vendor emulator (mock-server)")
	flags.String("llm.provider", "openai", "LLM provider: openai or deepseek")
	flags.String("log.level", "info", "Log level: debug, info, warn, error")
	flags.String("log.format", "text", "Log format: text or json")

	for _, key := range []string{"database.url", "server.addr", "emulator.url", "llm.provider", "log.level", "log.format"} {
		viper.BindPFlag(key, flags.Lookup(key))
	}

	rootCmd.AddCommand(runCmd)
}

func initConfig() {
	loadDotEnv()

	if path, _ := rootCmd.PersistentFlags().GetString("config"); path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./services/agent-service")
	}
	viper.SetEnvPrefix("AIDE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// loadDotEnv loads .env.local then .env. Variables already set win.
func loadDotEnv() {
	for _, p := range []string{".env.local", ".env"} {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", p, err)
		}
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
