package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"AgentStudio/internal/catalog"
	"AgentStudio/pkg/logger"
)

func newCatalogCommand(a *app) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Show the languages, voices, prompts and models agents can use",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cache, err := a.newCache(ctx)
			if err != nil {
				return err
			}
			var opts []catalog.Option
			if cache != nil {
				opts = append(opts, catalog.WithCache(cache, a.cfg.Catalog.TTL()))
			}
			c := catalog.New(a.client, opts...)
			if refresh {
				if err := c.Invalidate(ctx); err != nil {
					logger.L().Warn("清除参考数据缓存失败", slog.Any("error", err))
				}
			}
			loadErr := c.Load(ctx)
			printCatalog(cmd.OutOrStdout(), c.Snapshot())
			return loadErr
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "忽略缓存重新加载")
	return cmd
}

func printCatalog(out io.Writer, snap catalog.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	section := func(source catalog.Source, errMsg string, rows [][]string) {
		fmt.Fprintf(w, "[%s]\n", source)
		if errMsg != "" {
			fmt.Fprintf(w, "  %s\n", errMsg)
			return
		}
		if len(rows) == 0 {
			fmt.Fprintln(w, "  (empty)")
			return
		}
		for _, row := range rows {
			fmt.Fprintf(w, "  %s\n", strings.Join(row, "\t"))
		}
	}

	langs := make([][]string, 0, len(snap.Languages.Items))
	for _, item := range snap.Languages.Items {
		langs = append(langs, []string{item.ID, item.Code, item.Name})
	}
	section(catalog.SourceLanguages, snap.Languages.Error, langs)

	voices := make([][]string, 0, len(snap.Voices.Items))
	for _, item := range snap.Voices.Items {
		voices = append(voices, []string{item.ID, item.Name, orDash(item.Tag), orDash(item.Language)})
	}
	section(catalog.SourceVoices, snap.Voices.Error, voices)

	prompts := make([][]string, 0, len(snap.Prompts.Items))
	for _, item := range snap.Prompts.Items {
		prompts = append(prompts, []string{item.ID, item.Name, orDash(item.Description)})
	}
	section(catalog.SourcePrompts, snap.Prompts.Error, prompts)

	models := make([][]string, 0, len(snap.Models.Items))
	for _, item := range snap.Models.Items {
		models = append(models, []string{item.ID, item.Name, orDash(item.Description)})
	}
	section(catalog.SourceModels, snap.Models.Error, models)

	_ = w.Flush()
}
