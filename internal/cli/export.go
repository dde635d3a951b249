package cli

import (
	"github.com/spf13/cobra"

	"rfi-copilot/internal/config"
	"rfi-copilot/internal/model"
	"rfi-copilot/internal/platform/database"
	"rfi-copilot/internal/repository"
)

var exportDocumentID uint

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored questions from the database",
	Long: `Connects to the configured database and writes the questions of one
document, or of every document, as CSV or XLSX.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().UintVarP(&exportDocumentID, "document", "d", 0, "document id, 0 for all documents")
	addOutputFlags(exportCmd)
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := database.New(cmd.Context(), cfg.Database.Driver, cfg.DSN())
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	repo := repository.NewQuestionRepository(db)
	var rows []model.Question
	if exportDocumentID == 0 {
		rows, err = repo.ListAll(cmd.Context())
	} else {
		rows, err = repo.ListByDocumentID(cmd.Context(), exportDocumentID)
	}
	if err != nil {
		return err
	}
	return writeQuestions(cmd, rows)
}
