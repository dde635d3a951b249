package cli

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rfi-copilot/internal/ai"
	"rfi-copilot/internal/bootstrap"
	"rfi-copilot/internal/config"
	"rfi-copilot/internal/export"
	"rfi-copilot/internal/model"
	"rfi-copilot/internal/pipeline"
	"rfi-copilot/internal/questions"
)

var (
	classifierName string
	outputFormat   string
	outputPath     string
	concurrency    int
)

var questionsCmd = &cobra.Command{
	Use:   "questions [file]",
	Short: "Extract questions from a document without a server",
	Long: `Runs extraction, chunking and question classification on a local file
and writes the questions as CSV or XLSX. The rules classifier needs no model
provider; llm and hybrid read provider settings from the config file.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuestions,
}

func init() {
	addChunkFlags(questionsCmd)
	questionsCmd.Flags().StringVarP(&classifierName, "classifier", "c", config.ClassifierRules, "rules, llm or hybrid")
	questionsCmd.Flags().IntVar(&concurrency, "concurrency", 4, "chunks classified at once")
	addOutputFlags(questionsCmd)
	rootCmd.AddCommand(questionsCmd)
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&outputFormat, "format", "f", "csv", "csv or xlsx")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write to this file instead of stdout")
}

func newClassifier() (questions.Classifier, error) {
	if classifierName == config.ClassifierRules {
		return questions.NewRuleClassifier(nil, 0), nil
	}
	if classifierName != config.ClassifierLLM && classifierName != config.ClassifierHybrid {
		return nil, fmt.Errorf("unknown classifier %q", classifierName)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.Pipeline.Classifier = classifierName
	client, err := bootstrap.NewOracle(cfg)
	if err != nil {
		return nil, err
	}
	return bootstrap.NewClassifier(cfg, client, nil, log), nil
}

func runQuestions(cmd *cobra.Command, args []string) error {
	classifier, err := newClassifier()
	if err != nil {
		return err
	}
	chunks, _, err := chunkFile(cmd, args[0])
	if err != nil {
		return err
	}

	results := make([][]questions.ProcessedQuestion, len(chunks))
	var (
		mu     sync.Mutex
		failed int
	)
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(max(concurrency, 1))
	for i, ch := range chunks {
		g.Go(func() error {
			qs, err := classifier.Classify(ctx, ch)
			if err != nil {
				if ai.IsFatal(err) {
					return err
				}
				log.Warn("chunk classification failed", zap.Int("chunk_index", ch.Index), zap.Error(err))
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			results[i] = qs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var found []questions.ProcessedQuestion
	for _, qs := range results {
		found = append(found, qs...)
	}
	merged := pipeline.Dedupe(found)
	rows := make([]model.Question, 0, len(merged))
	for _, q := range merged {
		rows = append(rows, q.Model(0))
	}
	if failed > 0 {
		cmd.PrintErrf("warning: %d of %d chunks could not be classified\n", failed, len(chunks))
	}
	return writeQuestions(cmd, rows)
}

func writeQuestions(cmd *cobra.Command, rows []model.Question) error {
	var w io.Writer = cmd.OutOrStdout()
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("create %s failed: %w", outputPath, err)
		}
		defer f.Close()
		w = f
	}

	switch outputFormat {
	case "csv":
		return export.WriteCSV(w, rows)
	case "xlsx":
		if outputPath == "" {
			return fmt.Errorf("xlsx output needs --output")
		}
		return export.WriteXLSX(w, rows)
	default:
		return fmt.Errorf("unknown format %q", outputFormat)
	}
}
