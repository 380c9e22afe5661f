package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"AgentStudio/internal/dashboard"
	"AgentStudio/internal/form"
	"AgentStudio/sdk/go/agentapi"
)

func newAgentsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List, inspect and save call agents",
	}
	cmd.AddCommand(
		newAgentsListCommand(a),
		newAgentsShowCommand(a),
		newAgentsSaveCommand(a),
		newAgentsTestCallCommand(a),
	)
	return cmd
}

func newAgentsListCommand(a *app) *cobra.Command {
	var (
		page     int
		pageSize int
		query    string
		types    []string
		sortBy   string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show one dashboard page of agents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			order, err := parseSortOrder(sortBy)
			if err != nil {
				return err
			}
			if pageSize <= 0 {
				pageSize = a.cfg.Dashboard.PageSize
			}
			result, err := dashboard.New(a.client).Page(cmd.Context(),
				dashboard.WithPage(page),
				dashboard.WithPageSize(pageSize),
				dashboard.WithQuery(query),
				dashboard.WithTypes(types...),
				dashboard.WithSortOrder(order),
			)
			if err != nil {
				return err
			}
			printPage(cmd.OutOrStdout(), result)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&page, "page", 1, "页码，从 1 开始")
	flags.IntVar(&pageSize, "page-size", 0, "每页数量（默认取配置）")
	flags.StringVarP(&query, "query", "q", "", "按名称或描述搜索")
	flags.StringSliceVar(&types, "type", nil, "按呼叫类型筛选（inbound/outbound）")
	flags.StringVar(&sortBy, "sort", "modified", "排序方式：modified、oldest、name")
	return cmd
}

func parseSortOrder(value string) (dashboard.SortOrder, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "modified", "recent":
		return dashboard.SortByModifiedDesc, nil
	case "oldest":
		return dashboard.SortByModifiedAsc, nil
	case "name":
		return dashboard.SortByName, nil
	default:
		return 0, fmt.Errorf("未知的排序方式: %s", value)
	}
}

func printPage(out io.Writer, page dashboard.Page) {
	if page.TotalItems == 0 {
		fmt.Fprintln(out, "没有符合条件的智能体")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tMODEL\tMODIFIED")
	for _, item := range page.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", item.ID, item.Name, orDash(item.Type), orDash(item.Model), orDash(item.ModifiedAt))
	}
	_ = w.Flush()
	fmt.Fprintf(out, "\n第 %d/%d 页，共 %d 个智能体\n", page.Page, page.TotalPages, page.TotalItems)
}

func newAgentsShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a stored agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := a.client.GetAgent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			rows := [][2]string{
				{"ID", agent.ID},
				{"Name", agent.Name},
				{"Description", agent.Description},
				{"Call type", agent.CallType},
				{"Language", agent.Language},
				{"Voice", agent.Voice},
				{"Prompt", agent.Prompt},
				{"Model", agent.Model},
				{"Latency", formatFloat(agent.Latency)},
				{"Speed", fmt.Sprint(agent.Speed)},
				{"Attachments", strings.Join(agent.Attachments, ", ")},
				{"Allow hang up", fmt.Sprint(agent.Tools.AllowHangUp)},
				{"Allow callback", fmt.Sprint(agent.Tools.AllowCallback)},
				{"Live transfer", fmt.Sprint(agent.Tools.LiveTransfer)},
			}
			for _, row := range rows {
				fmt.Fprintf(w, "%s:\t%s\n", row[0], orDash(row[1]))
			}
			return w.Flush()
		},
	}
}

// agentFlags 是 save 与 test-call 共用的参数。
type agentFlags struct {
	file   string
	id     string
	attach []string
}

func (f *agentFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.file, "file", "f", "", "智能体 YAML 文件")
	flags.StringVar(&f.id, "id", "", "更新已有智能体的 ID")
	flags.StringSliceVar(&f.attach, "attach", nil, "保存前上传并附加的文件")
}

// prepareForm 构建表单：编辑模式先读取已保存的智能体，再叠加 YAML 中的字段，
// 最后上传 --attach 指定的文件并等待附件列表稳定。
func (a *app) prepareForm(ctx context.Context, flags agentFlags, out io.Writer) (*form.Form, func(), error) {
	var f *form.Form
	if flags.id != "" {
		agent, err := a.client.GetAgent(ctx, flags.id)
		if err != nil {
			return nil, nil, err
		}
		f = form.New(a.client, form.ModeEdit, &agent)
		if n := len(agent.Attachments); n > 0 {
			fmt.Fprintf(out, "保留已保存的 %d 个附件\n", n)
		}
	} else {
		f = form.New(a.client, form.ModeCreate, nil)
	}

	if flags.file != "" {
		content, err := os.ReadFile(flags.file)
		if err != nil {
			return nil, nil, fmt.Errorf("读取智能体文件失败: %w", err)
		}
		var decodeErr error
		f.Update(func(v *form.Values) {
			decodeErr = yaml.Unmarshal(content, v)
		})
		if decodeErr != nil {
			return nil, nil, fmt.Errorf("解析智能体文件失败: %w", decodeErr)
		}
	}

	cleanup := func() {}
	if len(flags.attach) > 0 {
		sources, err := fileSources(flags.attach)
		if err != nil {
			return nil, nil, err
		}
		session, err := a.newSession(ctx)
		if err != nil {
			return nil, nil, err
		}
		f.BindUploads(session)
		cleanup = func() { closeSession(session) }

		if _, err := session.SubmitBatch(sources); err != nil {
			cleanup()
			return nil, nil, err
		}
		if err := watchSession(ctx, session, out); err != nil {
			cleanup()
			return nil, nil, err
		}
		if stats := session.Stats(); stats.Failed > 0 {
			fmt.Fprintf(out, "%d 个附件上传失败，将只保存成功的附件\n", stats.Failed)
		}
	}

	fmt.Fprintf(out, "%s\n", f.Heading())
	if missing := f.MissingBasicSettings(); missing > 0 {
		fmt.Fprintf(out, "基础设置还有 %d 项未填写\n", missing)
	}
	return f, cleanup, nil
}

func printFieldErrors(out io.Writer, err error) {
	for _, field := range form.FieldErrors(err) {
		fmt.Fprintf(out, "  %s: %s\n", field.Field, field.Message)
	}
}

func newAgentsSaveCommand(a *app) *cobra.Command {
	var flags agentFlags
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create or update an agent from a YAML file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			f, cleanup, err := a.prepareForm(cmd.Context(), flags, out)
			if err != nil {
				return err
			}
			defer cleanup()

			id, err := f.Save(cmd.Context())
			if err != nil {
				printFieldErrors(out, err)
				return err
			}
			fmt.Fprintf(out, "%s: %s\n", f.SaveLabel(), id)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newAgentsTestCallCommand(a *app) *cobra.Command {
	var (
		flags   agentFlags
		payload agentapi.TestCallPayload
	)
	cmd := &cobra.Command{
		Use:   "test-call",
		Short: "Save an agent and place a test call with it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			f, cleanup, err := a.prepareForm(cmd.Context(), flags, out)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := f.StartTestCall(cmd.Context(), payload); err != nil {
				printFieldErrors(out, err)
				return err
			}
			fmt.Fprintf(out, "测试通话已发起，智能体 %s\n", f.ID())
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&payload.FirstName, "first-name", "", "联系人名")
	cmd.Flags().StringVar(&payload.LastName, "last-name", "", "联系人姓")
	cmd.Flags().StringVar(&payload.Gender, "gender", "", "联系人性别")
	cmd.Flags().StringVar(&payload.PhoneNumber, "phone", "", "联系电话")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}
