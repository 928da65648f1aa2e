package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"agent-team-go/internal/codecheck"
	"agent-team-go/internal/config"
	"agent-team-go/internal/knowledge"
	"agent-team-go/internal/parser"
	"agent-team-go/internal/service"
)

var (
	jobFile     string
	jobTitle    string
	resumeFiles []string
	blogLang    string
	sourceURL   string
)

var screenCmd = &cobra.Command{
	Use:   "screen",
	Short: "按岗位描述筛选一批简历",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer a.close()

		pdf, err := parser.NewPDFExtractor(ctx)
		if err != nil {
			return err
		}
		description, err := parser.LoadDocument(ctx, jobFile, pdf)
		if err != nil {
			return err
		}
		candidates := make([]service.Candidate, 0, len(resumeFiles))
		for _, path := range resumeFiles {
			text, err := parser.LoadDocument(ctx, path, pdf)
			if err != nil {
				return err
			}
			name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			candidates = append(candidates, service.Candidate{Name: name, Resume: text})
		}

		screening, err := a.screeningService()
		if err != nil {
			return err
		}
		report, err := screening.ScreenAll(ctx, service.JobSpec{Title: jobTitle, Description: description}, candidates)
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

var buildCmd = &cobra.Command{
	Use:   "build <需求描述>",
	Short: "根据一句话需求生成智能体代码包",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			res, err := a.builderService().Build(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Println(res.Report)
			return printJSON(res)
		})
	},
}

var blogCmd = &cobra.Command{
	Use:   "blog <主题>",
	Short: "撰写技术博客",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			res, err := a.blogService().Write(cmd.Context(), strings.Join(args, " "), blogLang)
			if err != nil {
				return err
			}
			fmt.Println(res.Content)
			if res.Location != "" {
				fmt.Printf("\n已保存到 %s\n", res.Location)
			}
			return nil
		})
	},
}

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "文档知识库维护",
}

var knowledgeLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "下载文档并写入向量库",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		url := sourceURL
		if url == "" {
			url = cfg.Knowledge.SourceURL
		}
		if url == "" {
			return fmt.Errorf("未指定文档地址，使用 --url 或配置 knowledge.source_url")
		}

		embedder, err := newEmbedder(cfg)
		if err != nil {
			return err
		}
		pdf, err := parser.NewPDFExtractor(ctx)
		if err != nil {
			return err
		}
		loader := knowledge.NewLoader(embedder, knowledge.NewQdrantStore(cfg.Qdrant), pdf, cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap)
		n, err := loader.LoadURL(ctx, url)
		if err != nil {
			return err
		}
		fmt.Printf("已写入 %d 个分块: %s\n", n, url)
		return nil
	},
}

func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

func addScreenFlags(fs *pflag.FlagSet) {
	fs.StringVar(&jobFile, "job", "", "岗位描述文件")
	fs.StringVar(&jobTitle, "title", "", "岗位名称")
	fs.StringSliceVar(&resumeFiles, "resume", nil, "简历文件，可重复或逗号分隔；支持 .pdf")
}

func init() {
	addScreenFlags(screenCmd.Flags())
	_ = screenCmd.MarkFlagRequired("job")
	_ = screenCmd.MarkFlagRequired("resume")

	blogCmd.Flags().StringVar(&blogLang, "language", "", "示例代码的编程语言")

	knowledgeLoadCmd.Flags().StringVar(&sourceURL, "url", "", "文档地址，默认取 knowledge.source_url")
	knowledgeCmd.AddCommand(knowledgeLoadCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check <main.py>",
	Short: "静态检查生成的智能体代码",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		res := codecheck.ValidateFile(args[0])
		fmt.Println(codecheck.FormatReport(res))
		if !res.Valid {
			return fmt.Errorf("%s 未通过检查", args[0])
		}
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init-config <path>",
	Short: "生成示例配置文件",
	Args:  cobra.ExactArgs(1),
	// 不依赖已有配置
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE: func(_ *cobra.Command, args []string) error {
		if err := config.CreateSampleConfig(args[0]); err != nil {
			return err
		}
		fmt.Printf("示例配置已写入 %s\n", args[0])
		return nil
	},
}
