package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Bidon15/protoboot/internal/bootstrap/registry"
)

// ErrInvalidOrder is returned when a stage reads a name that is not available yet.
var ErrInvalidOrder = errors.New("pipeline: invalid stage order")

// deployPhase is the producer of every declared token and contract.
const deployPhase = "deploy"

// DistributionStage is the ledger and plan name of the distribution step.
const DistributionStage = "distribution"

// PlannedStage is a stage with its effective enabled state.
type PlannedStage struct {
	Stage          *Stage
	Enabled        bool
	DisabledReason string
}

// Plan is a validated linearization of a definition.
type Plan struct {
	Definition *Definition
	Stages     []PlannedStage
	// DistributionEnabled is false when the distribution reads a disabled output.
	DistributionEnabled bool
	DistributionReason  string
	// EnabledPairs lists pairs whose pool entries will exist after their stage.
	EnabledPairs map[string]bool
	Warnings     []string
}

type producer struct {
	category registry.Category
	stage    string
	enabled  bool
}

// NewPlan checks that every name a contract, stage or the distribution reads is produced
// earlier in the run. Readers of an output whose producer is disabled are disabled too and
// reported in Warnings.
func NewPlan(def *Definition) (*Plan, error) {
	plan := &Plan{Definition: def, EnabledPairs: map[string]bool{}}
	available := map[string]producer{}
	var problems []string

	declare := func(name string, p producer) {
		if prev, dup := available[name]; dup {
			problems = append(problems, fmt.Sprintf("%s is declared twice (%s and %s)", name, prev.category, p.category))
			return
		}
		available[name] = p
	}

	for _, t := range def.Tokens {
		declare(t.Name, producer{category: registry.CategoryToken, stage: deployPhase, enabled: true})
	}

	// Contracts deploy in declaration order, so constructor arguments may only read tokens
	// and earlier contracts.
	for _, c := range def.Contracts {
		for _, ref := range c.Requires {
			p, ok := available[ref.Name]
			switch {
			case !ok && isContract(def, ref.Name):
				problems = append(problems, fmt.Sprintf("contract %s reads %s before it is deployed", c.Name, ref))
			case !ok:
				problems = append(problems, fmt.Sprintf("contract %s reads %s, which is never deployed", c.Name, ref))
			case p.category != ref.Category:
				problems = append(problems, fmt.Sprintf("contract %s reads %s, but %s is a %s", c.Name, ref, ref.Name, p.category))
			case p.category == registry.CategoryPool:
				problems = append(problems, fmt.Sprintf("contract %s reads pool %s, which does not exist during deployment", c.Name, ref.Name))
			}
		}
		declare(c.Name, producer{category: registry.CategoryContract, stage: deployPhase, enabled: true})
	}

	producedBy := map[string]string{}
	for _, s := range def.Stages {
		for _, name := range s.Produces {
			if prev, dup := producedBy[name]; dup {
				problems = append(problems, fmt.Sprintf("pair %s is bootstrapped by both %s and %s", name, prev, s.Name))
				continue
			}
			producedBy[name] = s.Name
		}
	}

	seenStages := map[string]bool{}
	for _, s := range def.Stages {
		if seenStages[s.Name] {
			problems = append(problems, fmt.Sprintf("stage %s is declared twice", s.Name))
		}
		seenStages[s.Name] = true

		ps := PlannedStage{Stage: s, Enabled: s.Enabled}
		if !s.Enabled {
			ps.DisabledReason = "disabled in definition"
		}

		for _, ref := range s.Requires {
			p, ok := available[ref.Name]
			if !ok {
				if later, found := producedBy[ref.Name]; found {
					problems = append(problems, fmt.Sprintf("stage %s reads %s before stage %s produces it", s.Name, ref, later))
				} else {
					problems = append(problems, fmt.Sprintf("stage %s reads %s, which nothing produces", s.Name, ref))
				}
				continue
			}
			if ref.Category != "" && p.category != ref.Category {
				problems = append(problems, fmt.Sprintf("stage %s reads %s, but %s is a %s", s.Name, ref, ref.Name, p.category))
				continue
			}
			if !p.enabled && ps.Enabled {
				ps.Enabled = false
				ps.DisabledReason = fmt.Sprintf("reads %s produced by disabled %s", ref, p.stage)
				plan.Warnings = append(plan.Warnings, fmt.Sprintf("stage %s disabled: %s", s.Name, ps.DisabledReason))
			}
		}

		for _, name := range s.Produces {
			pair, _ := def.pair(name)
			enabled := ps.Enabled && pair.Enabled
			stageLabel := "stage " + s.Name
			if ps.Enabled && !pair.Enabled {
				stageLabel = "pair " + name
			}
			declare(name, producer{category: registry.CategoryPool, stage: stageLabel, enabled: enabled})
			if enabled {
				plan.EnabledPairs[name] = true
			}
		}

		plan.Stages = append(plan.Stages, ps)
	}

	plan.DistributionEnabled = def.Distribution != nil
	if dist := def.Distribution; dist != nil {
		refs := []Ref{dist.Treasury}
		for _, a := range dist.Allotments {
			refs = append(refs, Ref{Name: a.Token})
		}
		for _, ref := range refs {
			p, ok := available[ref.Name]
			if !ok {
				problems = append(problems, fmt.Sprintf("distribution reads %s, which nothing produces", ref))
				continue
			}
			if ref.Category != "" && p.category != ref.Category {
				problems = append(problems, fmt.Sprintf("distribution reads %s, but %s is a %s", ref, ref.Name, p.category))
				continue
			}
			if !p.enabled && plan.DistributionEnabled {
				plan.DistributionEnabled = false
				plan.DistributionReason = fmt.Sprintf("reads %s produced by disabled %s", ref, p.stage)
				plan.Warnings = append(plan.Warnings, "distribution disabled: "+plan.DistributionReason)
			}
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w:\n  %s", ErrInvalidOrder, strings.Join(problems, "\n  "))
	}
	return plan, nil
}

func isContract(def *Definition, name string) bool {
	_, ok := def.contract(name)
	return ok
}

// EnabledStages returns the stages that will run.
func (p *Plan) EnabledStages() []*Stage {
	var out []*Stage
	for _, ps := range p.Stages {
		if ps.Enabled {
			out = append(out, ps.Stage)
		}
	}
	return out
}
