package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"batchd/internal/config"
	"batchd/internal/manager"
)

// newRootCmd builds the command tree. Precedence for every setting is
// flag > environment > config file > default.
func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "batchd",
		Short:         "Inference request orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Config file (.yaml, .yml, .json, .toml)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator and its HTTP frontend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := effectiveConfig(cfgPath, cmd.Flags())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	addServeFlags(serveCmd.Flags())

	show := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := effectiveConfig(cfgPath, cmd.Flags())
			if err != nil {
				return err
			}
			out, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	addServeFlags(show.Flags())

	backends := &cobra.Command{
		Use:   "backends",
		Short: "List executor backends",
		Run: func(cmd *cobra.Command, args []string) {
			for _, b := range manager.Backends() {
				fmt.Fprintln(cmd.OutOrStdout(), b)
			}
		},
	}

	root.AddCommand(serveCmd, show, backends)
	return root
}

func addServeFlags(fs *pflag.FlagSet) {
	fs.String("addr", ":8080", "HTTP listen address (env BATCHD_ADDR)")
	fs.String("backend", "sim", "Executor backend: "+strings.Join(manager.Backends(), "|"))
	fs.String("engine-dir", "", "Directory holding compiled engines")
	fs.String("engine", "", "Engine id inside --engine-dir")
	fs.Int("max-num-requests", 64, "Maximum live requests")
	fs.Int("max-seq-len", 2048, "Maximum prompt plus output length")
	fs.Int("vocab-size", 0, "Vocabulary size for token id checks (0 disables)")
	fs.Int("kv-cache-tokens", 0, "Tokens in the paged KV cache (0 sizes it for max-num-requests full sequences)")
	fs.Duration("drain-timeout", 0, "Bound on draining live requests at shutdown (0 waits)")
	fs.Int("max-queue-depth", 256, "Outstanding HTTP submissions before 429")
	fs.String("redis-addr", "", "Redis address; enables the Redis request source")
	fs.String("log-level", "info", "Log level: debug|info|warn|error")
	fs.String("log-format", "console", "Log format: console|json")
	fs.String("cors-origins", "", "Comma separated CORS origins; enables CORS")
}

func effectiveConfig(path string, fs *pflag.FlagSet) (config.Config, error) {
	var cfg config.Config
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
	}
	if v := os.Getenv("BATCHD_ADDR"); v != "" && !fs.Changed("addr") {
		cfg.Addr = v
	}
	applyFlags(&cfg, fs)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyFlags copies only the flags set on the command line.
func applyFlags(cfg *config.Config, fs *pflag.FlagSet) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr, _ = fs.GetString(f.Name)
		case "backend":
			cfg.Backend, _ = fs.GetString(f.Name)
		case "engine-dir":
			cfg.EngineDir, _ = fs.GetString(f.Name)
		case "engine":
			cfg.Engine, _ = fs.GetString(f.Name)
		case "max-num-requests":
			cfg.MaxNumRequests, _ = fs.GetInt(f.Name)
		case "max-seq-len":
			cfg.MaxSeqLen, _ = fs.GetInt(f.Name)
		case "vocab-size":
			cfg.VocabSize, _ = fs.GetInt(f.Name)
		case "kv-cache-tokens":
			cfg.MaxTokensInPagedKVCache, _ = fs.GetInt(f.Name)
		case "drain-timeout":
			d, _ := fs.GetDuration(f.Name)
			cfg.DrainTimeout = config.Duration(d)
		case "max-queue-depth":
			cfg.MaxQueueDepth, _ = fs.GetInt(f.Name)
		case "redis-addr":
			cfg.Redis.Addr, _ = fs.GetString(f.Name)
		case "log-level":
			cfg.LogLevel, _ = fs.GetString(f.Name)
		case "log-format":
			cfg.LogFormat, _ = fs.GetString(f.Name)
		case "cors-origins":
			v, _ := fs.GetString(f.Name)
			cfg.CORS.Origins = splitCSV(v)
			cfg.CORS.Enabled = len(cfg.CORS.Origins) > 0
		}
	})
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
