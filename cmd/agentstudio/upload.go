package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"AgentStudio/internal/upload"
)

func newUploadCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload reference documents and print their attachment ids",
		Long: `Upload runs every accepted file through the three-step attachment pipeline
(request target, transfer, register). Files with unsupported extensions are skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, err := fileSources(args)
			if err != nil {
				return err
			}
			session, err := a.newSession(cmd.Context())
			if err != nil {
				return err
			}
			defer closeSession(session)

			out := cmd.OutOrStdout()
			if _, err := session.SubmitBatch(sources); err != nil {
				return err
			}
			if err := watchSession(cmd.Context(), session, out); err != nil {
				return err
			}

			stats := session.Stats()
			printTasks(out, session.Tasks())
			if stats.Rejected > 0 {
				fmt.Fprintf(out, "\n已跳过 %d 个不支持的文件（允许: %v）\n", stats.Rejected, a.cfg.Upload.AcceptedExtensions)
			}
			if stats.Failed > 0 {
				return fmt.Errorf("%d 个文件上传失败", stats.Failed)
			}
			return nil
		},
	}
}

func fileSources(paths []string) ([]upload.Source, error) {
	sources := make([]upload.Source, 0, len(paths))
	for _, path := range paths {
		src, err := upload.NewFileSource(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func closeSession(session *upload.Orchestrator) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = session.Close(ctx)
}

// watchSession 打印状态变化与每 25% 的进度，直到所有任务结束。
func watchSession(ctx context.Context, session *upload.Orchestrator, out io.Writer) error {
	type mark struct {
		status upload.Status
		step   int
	}
	seen := make(map[string]mark)
	report := func() bool {
		idle := true
		for _, task := range session.Tasks() {
			if !task.Terminal() {
				idle = false
			}
			current := mark{status: task.Status, step: task.Progress / 25}
			if prev, ok := seen[task.LocalID]; ok && prev == current {
				continue
			}
			seen[task.LocalID] = current
			line := fmt.Sprintf("%-32s %-12s %3d%%", task.Name, task.Status, task.Progress)
			if task.ErrorMessage != "" {
				line += "  " + task.ErrorMessage
			}
			fmt.Fprintln(out, line)
		}
		return idle
	}

	for {
		changed := session.Changed()
		if report() {
			return session.Wait(ctx)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

func printTasks(out io.Writer, tasks []upload.Task) {
	if len(tasks) == 0 {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "FILE\tSIZE\tTYPE\tSTATUS\tATTACHMENT")
	for _, task := range tasks {
		result := task.AttachmentID
		if task.Status == upload.StatusError {
			result = task.ErrorCode
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			task.Name, upload.FormatSize(task.SizeBytes), orDash(task.MimeType), task.Status, orDash(result))
	}
	_ = w.Flush()
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
