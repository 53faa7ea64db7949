package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Bidon15/protoboot/internal/bootstrap/artifacts"
	"github.com/Bidon15/protoboot/internal/bootstrap/chain"
	"github.com/Bidon15/protoboot/internal/bootstrap/deployer"
	"github.com/Bidon15/protoboot/internal/bootstrap/liquidity"
	"github.com/Bidon15/protoboot/internal/bootstrap/registry"
	"github.com/Bidon15/protoboot/internal/bootstrap/repository"
)

// ProgressCallback is called as stages start.
type ProgressCallback func(stage string, progress float64, message string)

// StageStatus is the outcome of a stage in one run.
type StageStatus string

const (
	StatusExecuted StageStatus = "executed"
	StatusSkipped  StageStatus = "skipped"
	StatusDisabled StageStatus = "disabled"
)

// StageResult records what happened to a stage.
type StageResult struct {
	Name     string      `json:"name" yaml:"name"`
	Status   StageStatus `json:"status" yaml:"status"`
	Reason   string      `json:"reason,omitempty" yaml:"reason,omitempty"`
	TxHashes []string    `json:"tx_hashes,omitempty" yaml:"tx_hashes,omitempty"`
}

// Summary lists stage outcomes in execution order.
type Summary struct {
	Stages []StageResult `json:"stages" yaml:"stages"`
}

// Count returns how many stages ended with status.
func (s *Summary) Count(status StageStatus) int {
	n := 0
	for _, r := range s.Stages {
		if r.Status == status {
			n++
		}
	}
	return n
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Guard skips stages already recorded as complete. Nil runs every stage.
	Guard      *repository.Guard
	Logger     *slog.Logger
	OnProgress ProgressCallback
}

// Runner executes the stages of a plan against the registry.
type Runner struct {
	tx         *chain.Transactor
	catalog    *artifacts.Catalog
	reg        *registry.Registry
	liquidity  *liquidity.Bootstrapper
	guard      *repository.Guard
	logger     *slog.Logger
	onProgress ProgressCallback
}

// NewRunner creates a runner.
func NewRunner(tx *chain.Transactor, catalog *artifacts.Catalog, reg *registry.Registry, liq *liquidity.Bootstrapper, cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		tx:         tx,
		catalog:    catalog,
		reg:        reg,
		liquidity:  liq,
		guard:      cfg.Guard,
		logger:     logger,
		onProgress: cfg.OnProgress,
	}
}

// preparedCall is a call with its target and calldata resolved.
type preparedCall struct {
	origin string
	to     common.Address
	data   []byte
	value  *big.Int
}

// Run executes every stage of plan in order and stops at the first failure. Disabled
// stages are reported and skipped.
func (r *Runner) Run(ctx context.Context, plan *Plan) (*Summary, error) {
	summary := &Summary{}
	total := len(plan.Stages)

	for i, ps := range plan.Stages {
		st := ps.Stage
		if r.onProgress != nil {
			r.onProgress(st.Name, float64(i)/float64(total), fmt.Sprintf("Executing stage: %s", st.Name))
		}

		if !ps.Enabled {
			r.logger.Warn("stage disabled",
				slog.String("stage", st.Name),
				slog.String("reason", ps.DisabledReason),
			)
			summary.Stages = append(summary.Stages, StageResult{Name: st.Name, Status: StatusDisabled, Reason: ps.DisabledReason})
			continue
		}

		r.logger.Info("executing stage",
			slog.String("stage", st.Name),
			slog.Float64("progress", float64(i)/float64(total)),
		)

		var (
			result StageResult
			err    error
		)
		if len(st.Pairs) > 0 {
			result, err = r.runPairs(ctx, plan.Definition, st)
		} else {
			result, err = r.runCalls(ctx, plan.Definition, st)
		}
		if err != nil {
			return summary, &StageError{Stage: st.Name, Err: err}
		}
		summary.Stages = append(summary.Stages, result)
	}

	if r.onProgress != nil {
		r.onProgress("", 1, "All stages complete")
	}
	return summary, nil
}

func (r *Runner) runCalls(ctx context.Context, def *Definition, st *Stage) (StageResult, error) {
	result := StageResult{Name: st.Name}
	scope := r.scope()

	// Every call is resolved before the first submission.
	calls := make([]preparedCall, 0, len(st.Calls))
	parts := [][]byte{[]byte(st.Name)}
	for _, c := range st.Calls {
		pc, err := r.prepare(def, scope, st.Name, c)
		if err != nil {
			return result, err
		}
		calls = append(calls, pc)
		parts = append(parts, pc.to.Bytes(), pc.data, pc.value.Bytes())
	}

	fingerprint := repository.Fingerprint(parts...)
	done, err := r.guard.Done(ctx, st.Name, fingerprint)
	if err != nil {
		return result, fmt.Errorf("check ledger: %w", err)
	}
	if done {
		r.logger.Info(fmt.Sprintf("skipping %s stage (already complete)", st.Name))
		result.Status = StatusSkipped
		result.Reason = "already complete"
		return result, nil
	}

	var hashes []common.Hash
	for _, pc := range calls {
		receipt, err := r.tx.Transact(ctx, pc.origin, pc.to, pc.data, pc.value)
		if err != nil {
			return result, err
		}
		hashes = append(hashes, receipt.TxHash)
		result.TxHashes = append(result.TxHashes, receipt.TxHash.Hex())
	}

	if err := r.guard.Complete(ctx, st.Name, fingerprint, hashes); err != nil {
		return result, fmt.Errorf("record completion: %w", err)
	}
	r.logger.Info("stage completed",
		slog.String("stage", st.Name),
		slog.Int("transactions", len(hashes)),
	)
	result.Status = StatusExecuted
	return result, nil
}

func (r *Runner) prepare(def *Definition, scope Scope, stage string, c Call) (preparedCall, error) {
	pc := preparedCall{origin: stage + "." + c.Method, value: new(big.Int)}

	artifactName, err := def.ArtifactFor(c)
	if err != nil {
		return pc, err
	}
	artifact, err := r.catalog.Get(artifactName)
	if err != nil {
		return pc, err
	}
	contract, err := artifact.Contract()
	if err != nil {
		return pc, err
	}
	method, ok := contract.Methods[c.Method]
	if !ok {
		return pc, fmt.Errorf("%s: artifact %s has no method %s", c.Range, artifactName, c.Method)
	}

	if pc.to, err = scope.Address(c.Target); err != nil {
		return pc, fmt.Errorf("%s: %s target: %w", c.Range, c.Method, err)
	}

	argsVal, err := scope.Evaluate(c.Args)
	if err != nil {
		return pc, fmt.Errorf("%s: %s args: %w", c.Range, c.Method, err)
	}
	args, err := ToABIArgs(method.Inputs, argsVal)
	if err != nil {
		return pc, fmt.Errorf("%s: %s args: %w", c.Range, c.Method, err)
	}
	if pc.data, err = contract.Pack(method.Name, args...); err != nil {
		return pc, fmt.Errorf("%s: encode %s: %w", c.Range, c.Method, err)
	}

	valueVal, err := scope.Evaluate(c.Value)
	if err != nil {
		return pc, fmt.Errorf("%s: %s value: %w", c.Range, c.Method, err)
	}
	if !valueVal.IsNull() {
		if pc.value, err = ToBigInt(valueVal); err != nil {
			return pc, fmt.Errorf("%s: %s value: %w", c.Range, c.Method, err)
		}
		if pc.value.Sign() > 0 && !method.IsPayable() {
			return pc, fmt.Errorf("%s: %s is not payable", c.Range, c.Method)
		}
	}
	return pc, nil
}

func (r *Runner) runPairs(ctx context.Context, def *Definition, st *Stage) (StageResult, error) {
	result := StageResult{Name: st.Name}
	if r.liquidity == nil {
		return result, fmt.Errorf("stage bootstraps pairs but no liquidity bootstrapper is configured")
	}

	var (
		pairs []PairDecl
		parts = [][]byte{[]byte(st.Name)}
	)
	for _, name := range st.Pairs {
		pair, _ := def.Pair(name)
		if !pair.Enabled {
			r.logger.Warn("pair disabled", slog.String("stage", st.Name), slog.String("pair", name))
			continue
		}
		tokenA, err := r.reg.Get(pair.TokenA.Name)
		if err != nil {
			return result, err
		}
		tokenB, err := r.reg.Get(pair.TokenB.Name)
		if err != nil {
			return result, err
		}
		parts = append(parts, []byte(pair.Name), []byte(pair.Mode), tokenA.Bytes(), tokenB.Bytes(),
			amountBytes(pair.AmountA), amountBytes(pair.AmountB))
		pairs = append(pairs, pair)
	}

	fingerprint := repository.Fingerprint(parts...)
	done, err := r.guard.Done(ctx, st.Name, fingerprint)
	if err != nil {
		return result, fmt.Errorf("check ledger: %w", err)
	}

	if done {
		r.logger.Info(fmt.Sprintf("skipping %s stage (already complete)", st.Name))
		// Later stages still read the pools, so they are looked up instead of created.
		for _, pair := range pairs {
			if _, err := r.liquidity.Lookup(ctx, toLiquidityPair(pair)); err != nil {
				return result, err
			}
		}
		result.Status = StatusSkipped
		result.Reason = "already complete"
		return result, nil
	}

	before := r.tx.Submitted()
	for _, pair := range pairs {
		var err error
		switch pair.Mode {
		case PairModeLookup:
			_, err = r.liquidity.Lookup(ctx, toLiquidityPair(pair))
		default:
			_, err = r.liquidity.EnsurePair(ctx, toLiquidityPair(pair))
		}
		if err != nil {
			return result, err
		}
	}

	if err := r.guard.Complete(ctx, st.Name, fingerprint, nil); err != nil {
		return result, fmt.Errorf("record completion: %w", err)
	}
	r.logger.Info("stage completed",
		slog.String("stage", st.Name),
		slog.Int("transactions", r.tx.Submitted()-before),
	)
	result.Status = StatusExecuted
	return result, nil
}

func (r *Runner) scope() Scope {
	return Scope{Registry: r.reg, Deployer: r.tx.From()}
}

func toLiquidityPair(p PairDecl) liquidity.Pair {
	return liquidity.Pair{
		Name:    p.Name,
		TokenA:  p.TokenA.Name,
		TokenB:  p.TokenB.Name,
		AmountA: p.AmountA,
		AmountB: p.AmountB,
	}
}

func amountBytes(n *big.Int) []byte {
	if n == nil {
		return nil
	}
	return n.Bytes()
}

// ContractRequests converts the contract declarations into deployer requests whose
// constructor arguments are evaluated against scope when each contract is deployed.
func ContractRequests(def *Definition, scope Scope) []deployer.Request {
	reqs := make([]deployer.Request, 0, len(def.Contracts))
	for _, c := range def.Contracts {
		c := c
		reqs = append(reqs, deployer.Request{
			Name:     c.Name,
			Artifact: c.Artifact,
			Category: registry.CategoryContract,
			Args: func(inputs abi.Arguments) ([]interface{}, error) {
				v, err := scope.Evaluate(c.Args)
				if err != nil {
					return nil, err
				}
				return ToABIArgs(inputs, v)
			},
		})
	}
	return reqs
}
