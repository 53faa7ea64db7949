// Package orchestrator runs a full protocol bootstrap: deploy, initialize, distribute, export.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/Bidon15/protoboot/internal/bootstrap/artifacts"
	"github.com/Bidon15/protoboot/internal/bootstrap/chain"
	"github.com/Bidon15/protoboot/internal/bootstrap/deployer"
	"github.com/Bidon15/protoboot/internal/bootstrap/distribution"
	"github.com/Bidon15/protoboot/internal/bootstrap/liquidity"
	"github.com/Bidon15/protoboot/internal/bootstrap/pipeline"
	"github.com/Bidon15/protoboot/internal/bootstrap/registry"
	"github.com/Bidon15/protoboot/internal/bootstrap/repository"
)

// Phase names reported through the progress callback.
const (
	PhasePlan         = "plan"
	PhaseTokens       = "tokens"
	PhaseContracts    = "contracts"
	PhaseDistribution = distribution.StageName
	PhaseExport       = "export"
	PhaseCompleted    = "completed"
)

// ProgressCallback is called during a run to report progress.
type ProgressCallback func(phase string, progress float64, message string)

// Config contains configuration for the orchestrator.
type Config struct {
	// ChainID is the expected chain. Zero accepts whatever the node reports.
	ChainID uint64

	// Preseed binds names that already exist on chain.
	Preseed deployer.Preseed

	// Recipients receive test balances before the treasury.
	Recipients []common.Address

	// Router and Factory are the Uniswap V2 compatible DEX.
	Router         common.Address
	Factory        common.Address
	ApprovalAmount *big.Int
	Deadline       time.Duration

	// Sinks receive the exported interfaces. Empty skips export.
	Sinks []artifacts.Sink

	// Repository records completed stages across runs. Nil disables the ledger.
	Repository repository.Repository

	Logger     *slog.Logger
	OnProgress ProgressCallback
}

// Orchestrator coordinates one bootstrap run over a declared protocol variant.
type Orchestrator struct {
	tx      *chain.Transactor
	def     *pipeline.Definition
	catalog *artifacts.Catalog
	config  Config
	logger  *slog.Logger
}

// New creates an orchestrator. tx may be nil for export-only use.
func New(tx *chain.Transactor, def *pipeline.Definition, catalog *artifacts.Catalog, config Config) *Orchestrator {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		tx:      tx,
		def:     def,
		catalog: catalog,
		config:  config,
		logger:  logger,
	}
}

// Report summarizes a run.
type Report struct {
	RunID        uuid.UUID              `json:"run_id" yaml:"run_id"`
	Network      string                 `json:"network" yaml:"network"`
	ChainID      uint64                 `json:"chain_id" yaml:"chain_id"`
	Deployer     string                 `json:"deployer" yaml:"deployer"`
	StartedAt    time.Time              `json:"started_at" yaml:"started_at"`
	FinishedAt   time.Time              `json:"finished_at" yaml:"finished_at"`
	Transactions int                    `json:"transactions" yaml:"transactions"`
	Warnings     []string               `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Stages       []pipeline.StageResult `json:"stages" yaml:"stages"`
	Registry     registry.Snapshot      `json:"registry" yaml:"registry"`
	ExportBytes  int                    `json:"export_bytes,omitempty" yaml:"export_bytes,omitempty"`
	// Pending lists transactions sent but never confirmed when the run stopped.
	Pending []chain.PendingOperation `json:"pending,omitempty" yaml:"pending,omitempty"`

	reg *registry.Registry
}

// WriteTable prints the registry of the run grouped by category.
func (r *Report) WriteTable(w io.Writer) error {
	if r.reg == nil {
		return nil
	}
	return r.reg.WriteTable(w)
}

// runContext holds the state owned by one run.
type runContext struct {
	runID  uuid.UUID
	reg    *registry.Registry
	guard  *repository.Guard
	report *Report
	plan   *pipeline.Plan

	// phaseStart and phaseSpan place the current phase within the overall [0, 1] range.
	phaseStart float64
	phaseSpan  float64
}

// Run executes the whole bootstrap and returns its report. On failure the report holds what
// was bound before the failing step.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	if o.tx == nil {
		return nil, fmt.Errorf("run requires a transactor")
	}

	rc := &runContext{
		runID: uuid.New(),
		reg:   registry.New(),
	}
	rc.report = &Report{
		RunID:     rc.runID,
		Deployer:  o.tx.From().Hex(),
		StartedAt: time.Now().UTC(),
		reg:       rc.reg,
	}
	defer func() {
		rc.report.FinishedAt = time.Now().UTC()
		rc.report.Registry = rc.reg.Snapshot()
		rc.report.Transactions = o.tx.Submitted()
		rc.report.Pending = o.tx.Pending()
	}()

	o.logger.Info("starting bootstrap run",
		slog.String("run_id", rc.runID.String()),
		slog.String("source", o.def.Source),
		slog.String("deployer", rc.report.Deployer),
	)

	steps := []struct {
		phase string
		fn    func(context.Context, *runContext) error
	}{
		{PhasePlan, o.stagePlan},
		{PhaseTokens, o.stageTokens},
		{PhaseContracts, o.stageContracts},
		{"pipeline", o.stagePipeline},
		{PhaseDistribution, o.stageDistribution},
		{PhaseExport, o.stageExport},
	}
	rc.phaseSpan = 1 / float64(len(steps))
	for i, step := range steps {
		rc.phaseStart = float64(i) * rc.phaseSpan
		o.progress(step.phase, rc.phaseStart, fmt.Sprintf("Entering phase: %s", step.phase))
		if err := step.fn(ctx, rc); err != nil {
			o.logger.Error("bootstrap run failed",
				slog.String("run_id", rc.runID.String()),
				slog.String("phase", step.phase),
				slog.String("error", err.Error()),
			)
			return rc.report, err
		}
	}

	o.logger.Info("bootstrap run completed",
		slog.String("run_id", rc.runID.String()),
		slog.Int("entries", rc.reg.Len()),
	)
	o.progress(PhaseCompleted, 1.0, "Bootstrap completed successfully!")
	return rc.report, nil
}

// stagePlan verifies the chain and checks the stage order before anything is sent.
func (o *Orchestrator) stagePlan(ctx context.Context, rc *runContext) error {
	chainID, err := chain.VerifyChainID(ctx, o.tx.Ledger(), o.config.ChainID)
	if err != nil {
		return err
	}
	rc.report.ChainID = chainID.Uint64()
	rc.report.Network = repository.NetworkKey(chainID.Uint64(), o.tx.From().Hex())

	if o.config.Repository != nil {
		rc.guard = repository.NewGuard(o.config.Repository, rc.report.Network, rc.runID, o.logger)
	}

	plan, err := pipeline.NewPlan(o.def)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	for _, w := range plan.Warnings {
		o.logger.Warn("stage disabled by plan", slog.String("reason", w))
	}
	rc.plan = plan
	rc.report.Warnings = append(rc.report.Warnings, plan.Warnings...)
	return nil
}

func (o *Orchestrator) newDeployer(rc *runContext) *deployer.Deployer {
	return deployer.New(o.tx, o.catalog, rc.reg, deployer.Config{
		Preseed: o.config.Preseed,
		Logger:  o.logger,
	})
}

// stageTokens deploys every declared token before any contract.
func (o *Orchestrator) stageTokens(ctx context.Context, rc *runContext) error {
	if err := o.newDeployer(rc).DeployTokens(ctx, o.def.DeployTokens()); err != nil {
		return fmt.Errorf("deploy tokens: %w", err)
	}
	return nil
}

// stageContracts deploys every declared contract in order.
func (o *Orchestrator) stageContracts(ctx context.Context, rc *runContext) error {
	reqs := pipeline.ContractRequests(o.def, o.scope(rc))
	if err := o.newDeployer(rc).DeployContracts(ctx, reqs); err != nil {
		return fmt.Errorf("deploy contracts: %w", err)
	}
	return nil
}

// stagePipeline runs the initialization stages.
func (o *Orchestrator) stagePipeline(ctx context.Context, rc *runContext) error {
	liq := liquidity.New(o.tx, rc.reg, liquidity.Config{
		Router:         o.config.Router,
		Factory:        o.config.Factory,
		ApprovalAmount: o.config.ApprovalAmount,
		Deadline:       o.config.Deadline,
		Logger:         o.logger,
	})
	runner := pipeline.NewRunner(o.tx, o.catalog, rc.reg, liq, pipeline.RunnerConfig{
		Guard:  rc.guard,
		Logger: o.logger,
		OnProgress: func(stage string, progress float64, message string) {
			if stage == "" {
				return
			}
			o.progress(stage, rc.phaseStart+progress*rc.phaseSpan, message)
		},
	})

	summary, err := runner.Run(ctx, rc.plan)
	if summary != nil {
		rc.report.Stages = append(rc.report.Stages, summary.Stages...)
	}
	return err
}

// stageDistribution hands out test balances.
func (o *Orchestrator) stageDistribution(ctx context.Context, rc *runContext) error {
	decl := o.def.Distribution
	if decl == nil {
		return nil
	}
	if !rc.plan.DistributionEnabled {
		o.logger.Warn("skipping distribution stage",
			slog.String("reason", rc.plan.DistributionReason),
		)
		rc.report.Stages = append(rc.report.Stages, pipeline.StageResult{
			Name:   distribution.StageName,
			Status: pipeline.StatusDisabled,
			Reason: rc.plan.DistributionReason,
		})
		return nil
	}

	treasury, err := o.scope(rc).Address(decl.Treasury)
	if err != nil {
		return &pipeline.StageError{Stage: distribution.StageName, Err: err}
	}
	allotments := make([]distribution.Allotment, 0, len(decl.Allotments))
	for _, a := range decl.Allotments {
		allotments = append(allotments, distribution.Allotment{
			Token:          a.Token,
			Amount:         a.Amount,
			TreasuryAmount: a.TreasuryAmount,
		})
	}

	d := distribution.New(o.tx, rc.reg, distribution.Config{Guard: rc.guard, Logger: o.logger})
	result, err := d.Distribute(ctx, allotments, o.config.Recipients, treasury)
	if err != nil {
		return &pipeline.StageError{Stage: distribution.StageName, Err: err}
	}

	stage := pipeline.StageResult{Name: distribution.StageName, Status: pipeline.StatusExecuted}
	if result.AlreadyComplete {
		stage.Status = pipeline.StatusSkipped
		stage.Reason = "already complete"
	}
	for _, h := range result.TxHashes {
		stage.TxHashes = append(stage.TxHashes, h.Hex())
	}
	rc.report.Stages = append(rc.report.Stages, stage)
	return nil
}

// stageExport writes the interface document to every sink.
func (o *Orchestrator) stageExport(ctx context.Context, rc *runContext) error {
	data, err := o.ExportOnly(ctx)
	if err != nil {
		return err
	}
	rc.report.ExportBytes = len(data)
	return nil
}

// ExportOnly writes the interface document without touching the chain. It is the handler of
// the export-only entry point and the last phase of Run.
func (o *Orchestrator) ExportOnly(ctx context.Context) ([]byte, error) {
	if len(o.config.Sinks) == 0 {
		o.logger.Info("no export sinks configured, skipping export")
		return nil, nil
	}
	data, err := artifacts.NewExporter(o.catalog, o.def.Interfaces, o.config.Sinks, o.logger).Export(ctx)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return data, nil
}

func (o *Orchestrator) scope(rc *runContext) pipeline.Scope {
	return pipeline.Scope{Registry: rc.reg, Deployer: o.tx.From()}
}

func (o *Orchestrator) progress(phase string, progress float64, message string) {
	if o.config.OnProgress != nil {
		o.config.OnProgress(phase, progress, message)
	}
}
