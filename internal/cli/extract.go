package cli

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"rfi-copilot/internal/chunk"
	"rfi-copilot/internal/extract"
)

var (
	chunkSize      int
	chunkOverlap   int
	chunkMinLength int
	inputType      string
	extractJSON    bool
)

var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Extract and chunk a document",
	Long: `Extracts a PDF, Word or Excel document and prints the chunks the
pipeline would classify, with their citations.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	addChunkFlags(extractCmd)
	extractCmd.Flags().BoolVar(&extractJSON, "json", false, "output chunks as JSON")
	rootCmd.AddCommand(extractCmd)
}

func addChunkFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&chunkSize, "chunk-size", chunk.DefaultSize, "chunk size in characters")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", chunk.DefaultOverlap, "overlap between consecutive chunks")
	cmd.Flags().IntVar(&chunkMinLength, "min-chunk-length", chunk.DefaultMinLength, "drop chunks shorter than this")
	cmd.Flags().StringVar(&inputType, "type", "", "media type of the input, detected when empty")
}

func chunkFile(cmd *cobra.Command, path string) ([]chunk.Chunk, *extract.Result, error) {
	file, mediaType, err := readInput(path, inputType)
	if err != nil {
		return nil, nil, err
	}
	chunker := chunk.Chunker{Size: chunkSize, Overlap: chunkOverlap, MinLength: chunkMinLength}
	if err := chunker.Validate(); err != nil {
		return nil, nil, err
	}

	result, err := extract.New(extract.Options{Logger: log}).Extract(cmd.Context(), mediaType, file.Data)
	if err != nil {
		return nil, nil, err
	}
	chunks, err := chunker.Split(file.Name, result.Units)
	if err != nil {
		return nil, nil, err
	}
	return chunks, result, nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	chunks, result, err := chunkFile(cmd, args[0])
	if err != nil {
		return err
	}

	if extractJSON {
		data, err := json.MarshalIndent(chunks, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal chunks: %w", err)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}

	for _, w := range result.Warnings {
		cmd.PrintErrf("warning: %s\n", w)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d units, %d chunks\n", len(result.Units), len(chunks))
	for _, ch := range chunks {
		fmt.Fprintf(out, "\n[%d] %s (%d chars, %d overlap)\n", ch.Index, ch.Citation(), utf8.RuneCountInString(ch.Text), ch.Overlap)
		fmt.Fprintln(out, ch.Text)
	}
	return nil
}
