package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/liamcoop/formrules/rules"
)

var evaluateFlags struct {
	answers string
	mode    string
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <schema>",
	Short: "Compute field states for a set of answers",
	Long: `Evaluate runs every enabled rule of the schema against the answers and prints
the resulting state of each field, followed by messages and warnings.

Examples:
  # Live form behavior
  formctl evaluate signup.yaml --answers answers.yaml

  # What the form editor shows
  formctl evaluate signup.yaml --mode builder -o json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEvaluate(cmd.OutOrStdout(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringVarP(&evaluateFlags.answers, "answers", "a", "", "answers file (YAML or JSON)")
	evaluateCmd.Flags().StringVar(&evaluateFlags.mode, "mode", "runtime", "evaluation mode: runtime, builder")
}

func runEvaluate(w io.Writer, path string) error {
	mode, err := parseMode(evaluateFlags.mode)
	if err != nil {
		return err
	}
	schema, err := loadSchema(path)
	if err != nil {
		return err
	}
	answers, err := loadAnswers(evaluateFlags.answers)
	if err != nil {
		return err
	}

	engine, err := rules.NewEngine()
	if err != nil {
		return fmt.Errorf("failed to create rules engine: %w", err)
	}
	res := engine.Evaluate(schema, answers, mode)

	if outputFormat == "json" {
		return printJSON(w, res)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FIELD\tVISIBLE\tDISABLED\tVALUE")
	for _, f := range schema.Fields {
		st := res.State(f.ID)
		value := "-"
		if st.Forced {
			value = fmt.Sprintf("%v (forced)", st.ForcedValue)
		} else if v, ok := answers[f.ID]; ok {
			value = fmt.Sprint(v)
		}
		fmt.Fprintf(tw, "%s\t%t\t%t\t%s\n", f.ID, st.Visible, st.Disabled, value)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	printNotes(w, res)
	return nil
}

func printNotes(w io.Writer, res rules.Result) {
	if len(res.Messages) > 0 {
		fmt.Fprintln(w, "\nMessages:")
		for _, m := range res.Messages {
			fmt.Fprintf(w, "  [%s] %s\n", m.RuleID, m.Text)
		}
	}
	if len(res.Warnings) > 0 {
		fmt.Fprintln(w, "\nWarnings:")
		for _, warning := range res.Warnings {
			fmt.Fprintf(w, "  %s\n", warning)
		}
	}
}
