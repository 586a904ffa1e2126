package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"chorus/internal/adapter/llm"
	"chorus/internal/domain"
	"chorus/internal/infra/config"
)

func newModelsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "Show configured providers and local Ollama models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return a.listModels(ctx)
		},
	}
}

func (a *app) listModels(ctx context.Context) error {
	factory := llm.NewFactory(a.cfg.LLM, a.log, providerOptions()...)
	configured := factory.Configured()
	if len(configured) == 0 {
		fmt.Println("no providers configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tMODEL\tSTATUS")
	for _, t := range configured {
		if t != domain.ProviderOllama {
			fmt.Fprintf(w, "%s\t%s\tconfigured\n", t, providerModel(a.cfg, t))
			continue
		}
		listOllama(ctx, w, ollamaConfig(a.cfg), a.log)
	}
	return w.Flush()
}

func listOllama(ctx context.Context, w *tabwriter.Writer, pc config.ProviderConfig, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	catalog := llm.NewOllamaCatalog(pc)
	if err := catalog.Ping(ctx); err != nil {
		log.Debug("ollama unreachable", "error", err)
		fmt.Fprintf(w, "ollama\t-\tunreachable\n")
		return
	}
	models, err := catalog.Models(ctx)
	if err != nil {
		fmt.Fprintf(w, "ollama\t-\t%v\n", err)
		return
	}
	for _, m := range models {
		fmt.Fprintf(w, "ollama\t%s\tlocal (%d MB)\n", m.Name, m.Size>>20)
	}
}

func providerModel(cfg *config.Config, t domain.ProviderType) string {
	for _, p := range cfg.LLM.Providers {
		if p.Type == string(t) && p.Model != "" {
			return p.Model
		}
	}
	return "-"
}

func ollamaConfig(cfg *config.Config) config.ProviderConfig {
	for _, p := range cfg.LLM.Providers {
		if p.Type == string(domain.ProviderOllama) {
			return p
		}
	}
	return config.ProviderConfig{Name: "ollama", Type: "ollama"}
}
