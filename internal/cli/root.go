// Package cli implements rfictl, the operator command line for running the
// extraction pipeline locally and administering a deployment.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rfi-copilot/internal/app"
	"rfi-copilot/internal/pkg/logger"
)

var (
	verbose      bool
	maxFileBytes int64

	log = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "rfictl",
	Short: "Operate the RFI copilot pipeline",
	Long: `rfictl runs document extraction and question classification locally,
exports stored questions and mints API tokens.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "warn"
		if verbose {
			level = "debug"
		}
		l, err := logger.New(logger.Options{Level: level})
		if err != nil {
			return err
		}
		log = l
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline details to stdout")
	rootCmd.PersistentFlags().Int64Var(&maxFileBytes, "max-file-bytes", 10<<20, "reject input files larger than this")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// readInput loads a local file and resolves its media type the same way
// uploads are admitted. override skips detection.
func readInput(path, override string) (app.UploadFile, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return app.UploadFile{}, "", fmt.Errorf("read %s failed: %w", path, err)
	}
	file := app.UploadFile{Name: filepath.Base(path), ContentType: override, Data: data}
	mediaType, err := app.IntakePolicy{MaxFileBytes: maxFileBytes}.Admit(file)
	if err != nil {
		return app.UploadFile{}, "", err
	}
	return file, mediaType, nil
}
