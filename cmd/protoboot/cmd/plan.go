package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Bidon15/protoboot/internal/bootstrap/pipeline"
	"github.com/Bidon15/protoboot/internal/config"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Check the stage order and show what a run would do",
	Long: `Parse the protocol variant, check that every stage reads only names produced
earlier, and list the stages with their effective state.

Examples:
  protoboot plan
  PROTOBOOT_PIPELINE_VARIANT=basic protoboot plan`,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
}

type planStage struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Steps  int    `json:"steps"`
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

func runPlan(cmd *cobra.Command, args []string) error {
	c, err := loadConfig(config.ModeOffline)
	if err != nil {
		return err
	}
	def, err := loadDefinition(c)
	if err != nil {
		return err
	}
	plan, err := pipeline.NewPlan(def)
	if err != nil {
		return err
	}

	stages := make([]planStage, 0, len(plan.Stages)+1)
	for _, ps := range plan.Stages {
		s := planStage{Name: ps.Stage.Name, Kind: "calls", Steps: len(ps.Stage.Calls), State: "enabled"}
		if len(ps.Stage.Pairs) > 0 {
			s.Kind = "liquidity"
			s.Steps = len(ps.Stage.Pairs)
		}
		if !ps.Enabled {
			s.State = "disabled"
			s.Reason = ps.DisabledReason
		}
		stages = append(stages, s)
	}
	if def.Distribution != nil {
		s := planStage{Name: pipeline.DistributionStage, Kind: "transfers", Steps: len(def.Distribution.Allotments), State: "enabled"}
		if !plan.DistributionEnabled {
			s.State = "disabled"
			s.Reason = plan.DistributionReason
		}
		stages = append(stages, s)
	}

	if jsonOut {
		return printJSON(map[string]interface{}{
			"variant":   describeVariant(c),
			"tokens":    len(def.Tokens),
			"contracts": len(def.Contracts),
			"stages":    stages,
			"warnings":  plan.Warnings,
		})
	}

	fmt.Printf("Variant:   %s\n", describeVariant(c))
	fmt.Printf("Tokens:    %d\n", len(def.Tokens))
	fmt.Printf("Contracts: %d\n\n", len(def.Contracts))

	w := newTable()
	printTableHeader(w, "#", "STAGE", "KIND", "STEPS", "STATE")
	for i, s := range stages {
		state := colorGreen(s.State)
		if s.State != "enabled" {
			state = colorYellow(s.State) + " (" + s.Reason + ")"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", i+1, s.Name, s.Kind, s.Steps, state)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, warning := range plan.Warnings {
		fmt.Printf("%s %s\n", colorYellow("Warning:"), warning)
	}
	return nil
}
