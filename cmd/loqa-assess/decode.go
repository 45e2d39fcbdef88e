package main

import (
	"encoding/json"
	"fmt"

	"github.com/loqalabs/loqa-assess/internal/pronunciation"
	"github.com/loqalabs/loqa-assess/internal/stt"
	"github.com/spf13/cobra"
)

func newDecodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode [file]",
		Short: "Decode a scored recognition result",
		Long: "Decode the pronunciation-assessment scores from a detailed recognition result (the RESULT-Json document) " +
			"or, with --raw, from a bare scoring payload. Reads stdin when no file is given.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			data, err := readInput(cmd, path)
			if err != nil {
				return err
			}

			raw, _ := cmd.Flags().GetBool("raw")
			var result *pronunciation.Result
			if raw {
				result, err = pronunciation.ParseResult(data)
			} else {
				props := stt.NewProperties()
				if err := props.Set(stt.PropertyJSONResult, string(data)); err != nil {
					return err
				}
				result, err = pronunciation.FromRecognitionResult(stt.RecognitionResult{Properties: props})
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().Bool("raw", false, "Input is the scoring payload itself rather than a full recognition result")
	return cmd
}
