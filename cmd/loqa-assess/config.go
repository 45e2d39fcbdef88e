package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/loqalabs/loqa-assess/internal/pronunciation"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the canonical JSON for an assessment request",
		Long: fmt.Sprintf("Build an assessment request from flags, or validate one read from --file (use - for stdin), and print its canonical JSON.\n\nGrading systems: %s\nGranularities: %s",
			strings.Join(pronunciation.GradingSystemNames(), ", "),
			strings.Join(pronunciation.GranularityNames(), ", ")),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromFlags(cmd)
			if err != nil {
				return err
			}
			text, err := cfg.ToJSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().String("file", "", "Read a request document instead of building one from flags")
	cmd.Flags().String("reference", "", "Reference text the speaker is expected to read")
	cmd.Flags().String("grading-system", pronunciation.GradingHundredMark.String(), "Score scale")
	cmd.Flags().String("granularity", pronunciation.GranularityPhoneme.String(), "Deepest level of scored detail")
	cmd.Flags().Bool("miscue", false, "Detect omissions and insertions against the reference text")
	cmd.Flags().String("scenario-id", "", "Service-defined scenario identifier")
	return cmd
}

func configFromFlags(cmd *cobra.Command) (*pronunciation.Config, error) {
	if path, _ := cmd.Flags().GetString("file"); path != "" {
		data, err := readInput(cmd, path)
		if err != nil {
			return nil, err
		}
		return pronunciation.ConfigFromJSON(string(data))
	}

	reference, _ := cmd.Flags().GetString("reference")
	gradingName, _ := cmd.Flags().GetString("grading-system")
	granularityName, _ := cmd.Flags().GetString("granularity")
	miscue, _ := cmd.Flags().GetBool("miscue")
	scenario, _ := cmd.Flags().GetString("scenario-id")

	grading, err := pronunciation.ParseGradingSystem(gradingName)
	if err != nil {
		return nil, err
	}
	granularity, err := pronunciation.ParseGranularity(granularityName)
	if err != nil {
		return nil, err
	}
	return pronunciation.NewConfig(reference,
		pronunciation.WithGradingSystem(grading),
		pronunciation.WithGranularity(granularity),
		pronunciation.WithMiscue(miscue),
		pronunciation.WithScenarioID(scenario),
	)
}

// readInput reads path, or the command's stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
