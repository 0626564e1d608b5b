package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/liamcoop/formrules/formmanager"
)

var validateCmd = &cobra.Command{
	Use:   "validate <schema>",
	Short: "Report every authoring problem in a form schema",
	Long: `Validate checks field and block ids, rule actions and targets, operators,
condition depth and CEL expressions, and lists every problem it finds.

The command exits with a non-zero status when the schema has problems.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(cmd.OutOrStdout(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

type validateOutput struct {
	Valid  bool                           `json:"valid"`
	Errors []*formmanager.ValidationError `json:"errors"`
}

func runValidate(w io.Writer, path string) error {
	schema, err := loadSchema(path)
	if err != nil {
		return err
	}

	verr := formmanager.ValidateSchema(schema)
	problems := formmanager.Problems(verr)
	if verr != nil && problems == nil {
		return verr
	}

	if outputFormat == "json" {
		if problems == nil {
			problems = []*formmanager.ValidationError{}
		}
		if err := printJSON(w, validateOutput{Valid: len(problems) == 0, Errors: problems}); err != nil {
			return err
		}
	} else if len(problems) == 0 {
		fmt.Fprintf(w, "%s is valid (%d fields, %d rules)\n", path, len(schema.Fields), len(schema.Rules))
	} else {
		fmt.Fprintf(w, "%s has %d problem(s):\n", path, len(problems))
		for _, p := range problems {
			fmt.Fprintf(w, "  - %s\n", p)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("validation failed: %d problem(s)", len(problems))
	}
	return nil
}
