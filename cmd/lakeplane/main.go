package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"lakeplane/internal/app"
	"lakeplane/internal/config"
	"lakeplane/internal/server"
	"lakeplane/internal/tools"
	lakeplanesdk "lakeplane/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "lakeplane",
	Short: "Lakeplane CLI",
	Long: `Lakeplane is a read-only control plane over a layered data lake.
Concepts:
- Layers: pipeline stages (bronze=raw, silver=cleaned, gold=aggregated), each mapped to one catalog database.
- Datasets: tables, named <table> or <layer>.<table>. Bare names must be a flow's layer table unless only one layer exists.
- Flows: how one event type moves through the layers, with SLAs and a replay strategy.
- Replay plans: dry-run proposals that always walk every layer from the source of truth forward. Nothing here executes them.
- Tools: the five inspection operations, served over HTTP (REST and JSON-RPC) or run locally from this CLI.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("LAKEPLANE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory holding lakeplane.yml")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("server", "", "run tools through a remote lakeplane server (base URL)")
	rootCmd.PersistentFlags().String("token", "", "bearer token for --server")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("dev-log", false, "human-readable development logging")
	for _, name := range []string{"workspace", "json", "server", "token", "log-level", "dev-log"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(datasetsCmd())
	rootCmd.AddCommand(schemaCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(flowCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(devCmd())
}

func newLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	if viper.GetBool("dev-log") {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func loadConfig() (*config.Config, error) {
	return config.LoadOptional(viper.GetString("workspace"))
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				secret = cfg.Server.JWTSecret
			}

			a, err := app.Build(cmd.Context(), cfg, viper.GetString("workspace"), logger)
			if err != nil {
				return err
			}
			defer a.Close()
			handler, err := server.New(server.Config{
				Tools:    a.Tools,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret},
				Logger:   logger.Named("http"),
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("serving", zap.String("addr", addr), zap.String("base_path", basePath), zap.Bool("auth", secret != ""))
			fmt.Printf("Serving Lakeplane API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	cmd.Flags().String("jwt-secret", "", "HS256 secret enabling bearer auth (env LAKEPLANE_JWT_SECRET)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

// invoke runs a tool locally, or remotely when --server is set.
func invoke(ctx context.Context, tool string, args map[string]any) (tools.Envelope, error) {
	if base := viper.GetString("server"); base != "" {
		client := lakeplanesdk.New(base)
		client.BearerToken = viper.GetString("token")
		env, err := client.Call(ctx, tool, args)
		if err != nil {
			return nil, err
		}
		return tools.Envelope(env), nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}
	defer logger.Sync()
	a, err := app.Build(ctx, cfg, viper.GetString("workspace"), logger)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	return a.Tools.Call(ctx, tool, args)
}

// runTool invokes a tool and prints its result with render unless --json is set.
// An error envelope becomes a command error.
func runTool[T any](ctx context.Context, tool string, args map[string]any, render func(T)) error {
	env, err := invoke(ctx, tool, args)
	if err != nil {
		return err
	}
	if msg, failed := env.Err(); failed {
		if viper.GetBool("json") {
			_ = printJSON(env)
		}
		return errors.New(msg)
	}
	if viper.GetBool("json") {
		return printJSON(env)
	}
	var out T
	if err := decodeEnvelope(env, &out); err != nil {
		return err
	}
	render(out)
	return nil
}

func decodeEnvelope(env tools.Envelope, out any) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config is lakeplane.yml in the workspace: the layer to database mapping, flows, replay rules, query backend and server settings. Without a file the built-in defaults apply.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			shown := *cfg
			if shown.Server.JWTSecret != "" {
				shown.Server.JWTSecret = "***"
			}
			data, err := yaml.Marshal(&shown)
			if err != nil {
				return err
			}
			if !viper.GetBool("json") {
				fmt.Print(string(data))
				return nil
			}
			var generic map[string]any
			if err := yaml.Unmarshal(data, &generic); err != nil {
				return err
			}
			return printJSON(generic)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate lakeplane.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				out := map[string]any{"ok": err == nil}
				if err != nil {
					out["error"] = err.Error()
				}
				return printJSON(out)
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default lakeplane.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
