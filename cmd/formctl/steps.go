package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liamcoop/formrules/navigator"
	"github.com/liamcoop/formrules/rules"
)

var stepsFlags struct {
	answers string
}

var stepsCmd = &cobra.Command{
	Use:   "steps <schema>",
	Short: "Walk the steps a respondent would see",
	Long: `Steps evaluates the schema against the answers and prints, for every step,
the visible fields, the required fields still missing and whether the form could
be submitted. The submission payload is printed when it could.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSteps(cmd.OutOrStdout(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(stepsCmd)

	stepsCmd.Flags().StringVarP(&stepsFlags.answers, "answers", "a", "", "answers file (YAML or JSON)")
}

type stepOutput struct {
	Index   int      `json:"index"`
	Block   string   `json:"block"`
	Fields  []string `json:"fields"`
	Missing []string `json:"missing"`
}

type stepsOutput struct {
	Steps     []stepOutput   `json:"steps"`
	CanSubmit bool           `json:"canSubmit"`
	Missing   []string       `json:"missing"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func runSteps(w io.Writer, path string) error {
	schema, err := loadSchema(path)
	if err != nil {
		return err
	}
	answers, err := loadAnswers(stepsFlags.answers)
	if err != nil {
		return err
	}

	engine, err := rules.NewEngine()
	if err != nil {
		return fmt.Errorf("failed to create rules engine: %w", err)
	}
	res := engine.Evaluate(schema, answers, rules.ModeRuntime)
	nav := navigator.New(schema.Blocks, schema.Fields)

	out := stepsOutput{Steps: make([]stepOutput, 0, nav.StepCount())}
	for i := 0; i < nav.StepCount(); i++ {
		nav.GoTo(i)
		step := stepOutput{Index: i, Block: nav.Step().Block.ID, Fields: []string{}, Missing: []string{}}
		for _, f := range nav.CurrentFields(res.States) {
			step.Fields = append(step.Fields, f.ID)
		}
		step.Missing = append(step.Missing, nav.MissingRequired(res.States, answers)...)
		out.Steps = append(out.Steps, step)
	}

	// The navigator is on the last step now
	out.CanSubmit = nav.CanSubmit(res.States, answers)
	out.Missing = append([]string{}, nav.MissingRequiredAll(res.States, answers)...)
	if out.CanSubmit {
		out.Payload = nav.Payload(res.States, answers)
	}

	if outputFormat == "json" {
		return printJSON(w, out)
	}

	required := make(map[string]bool, len(schema.Fields))
	for _, f := range schema.Fields {
		required[f.ID] = f.Required
	}

	for _, step := range out.Steps {
		names := make([]string, len(step.Fields))
		for i, id := range step.Fields {
			names[i] = id
			if required[id] {
				names[i] += "*"
			}
		}
		block := step.Block
		if block == "" {
			block = "(form)"
		}
		fmt.Fprintf(w, "Step %d/%d %s: %s\n", step.Index+1, len(out.Steps), block, strings.Join(names, ", "))
		if len(step.Missing) > 0 {
			fmt.Fprintf(w, "  missing: %s\n", strings.Join(step.Missing, ", "))
		}
	}

	if !out.CanSubmit {
		fmt.Fprintf(w, "Submit: blocked (missing %s)\n", strings.Join(out.Missing, ", "))
		return nil
	}
	fmt.Fprintln(w, "Submit: ready")
	if err := printJSON(w, out.Payload); err != nil {
		return err
	}
	printNotes(w, res)
	return nil
}
