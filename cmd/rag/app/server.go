// Package app assembles the nexus-rag command line entrypoint.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	ragsvc "github.com/kart-io/nexus/internal/rag"
)

// NewRAGCommand creates the root command for the RAG server.
func NewRAGCommand() *cobra.Command {
	opts := ragsvc.NewOptions()
	var configFile string

	cmd := &cobra.Command{
		Use:   "nexus-rag",
		Short: "Hybrid retrieval question answering service",
		Long: `nexus-rag serves team-scoped knowledge bases. Documents are split into
parent and child chunks, indexed into dense and sparse vector spaces, and
queries are answered with citation-constrained generation.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, configFile, opts); err != nil {
				return err
			}
			if err := opts.Complete(); err != nil {
				return err
			}
			return run(opts)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the configuration file (YAML).")
	opts.AddFlags(cmd.Flags())
	return cmd
}

// loadConfig merges the configuration file into the options.
// Flags explicitly set on the command line take precedence.
func loadConfig(cmd *cobra.Command, configFile string, opts *ragsvc.Options) error {
	if configFile == "" {
		return nil
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetEnvPrefix("NEXUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", configFile, err)
	}

	// 先记录命令行显式设置的 flag，反序列化后重放，保证其优先于配置文件
	changed := make(map[string]string)
	cmd.Flags().Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})

	if err := v.Unmarshal(opts); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	for name, value := range changed {
		if err := cmd.Flags().Set(name, value); err != nil {
			return fmt.Errorf("apply flag --%s: %w", name, err)
		}
	}
	return nil
}

// run builds the server from options and drives it until a signal arrives.
func run(opts *ragsvc.Options) error {
	cfg, err := opts.Config()
	if err != nil {
		return err
	}

	ctx := setupSignalContext()
	server, err := cfg.NewServer(ctx)
	if err != nil {
		return err
	}
	return server.Run(ctx)
}

// setupSignalContext returns a context cancelled on SIGINT/SIGTERM.
// A second signal forces immediate exit.
func setupSignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
		<-ch
		os.Exit(1)
	}()

	return ctx
}
