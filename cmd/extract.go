package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mohammad-safakhou/docrelay/internal/document"
	srv "github.com/mohammad-safakhou/docrelay/internal/server"
	"github.com/mohammad-safakhou/docrelay/models"
	"github.com/spf13/cobra"
)

// extractCMD processes local files without starting the server and prints
// the per-file results as JSON.
func extractCMD() *cobra.Command {
	var cfgPath, docType, question string
	var extract = &cobra.Command{
		Use:   "extract <files...>",
		Short: "Process local documents and print the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			proc, err := srv.BuildProcessor(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			if question != "" && !proc.CanAnswer() {
				return document.ErrNoAnalyzer
			}
			inputs := make([]document.Input, 0, len(args))
			for _, path := range args {
				if _, err := os.Stat(path); err != nil {
					return err
				}
				inputs = append(inputs, document.Input{
					Path:         path,
					Filename:     filepath.Base(path),
					DocumentType: models.ParseDocumentType(docType),
					Question:     question,
				})
			}
			results, err := proc.ProcessBatch(cmd.Context(), inputs)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(results); err != nil {
				return err
			}
			for _, r := range results {
				if !r.Success {
					return fmt.Errorf("%s: %s", r.Filename, r.Error)
				}
			}
			return nil
		},
	}
	extract.Flags().StringVarP(&docType, "type", "t", string(models.DocumentTypeGeneric), "document type (certificate-of-fitness, generic)")
	extract.Flags().StringVarP(&question, "question", "q", "", "question to answer over each document")
	extract.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")
	return extract
}
