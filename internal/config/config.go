// Package config loads the run configuration from a file and PROTOBOOT_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/Bidon15/protoboot/internal/bootstrap/artifacts"
	"github.com/Bidon15/protoboot/internal/bootstrap/chain"
	"github.com/Bidon15/protoboot/internal/bootstrap/deployer"
	"github.com/Bidon15/protoboot/internal/bootstrap/liquidity"
	"github.com/Bidon15/protoboot/internal/bootstrap/repository"
	"github.com/Bidon15/protoboot/pipelines"
)

// EnvPrefix prefixes every environment override, e.g. PROTOBOOT_NETWORK_RPC_URL.
const EnvPrefix = "PROTOBOOT"

// DefaultConfigName is searched for in the working directory when no file is given.
const DefaultConfigName = "protoboot"

// Mode selects which sections must be valid.
type Mode int

const (
	// ModeRun needs everything a full bootstrap touches.
	ModeRun Mode = iota
	// ModeExport needs only the artifacts and export sections.
	ModeExport
	// ModePreflight needs the network and signer sections.
	ModePreflight
	// ModeOffline needs neither chain nor signer (plan, ledger inspection).
	ModeOffline
)

// Config is the external configuration of a run.
type Config struct {
	Network      NetworkConfig      `mapstructure:"network"`
	Signer       SignerConfig       `mapstructure:"signer"`
	Fees         FeesConfig         `mapstructure:"fees"`
	Confirmation ConfirmationConfig `mapstructure:"confirmation"`
	DEX          DEXConfig          `mapstructure:"dex"`
	Preseed      PreseedConfig      `mapstructure:"preseed"`
	Recipients   []string           `mapstructure:"recipients"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline"`
	Artifacts    ArtifactsConfig    `mapstructure:"artifacts"`
	Export       ExportConfig       `mapstructure:"export"`
	Ledger       LedgerConfig       `mapstructure:"ledger"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Log          LogConfig          `mapstructure:"log"`
	Report       ReportConfig       `mapstructure:"report"`
}

// NetworkConfig locates the node.
type NetworkConfig struct {
	RPCURL string `mapstructure:"rpc_url" validate:"required,url"`
	// ChainID is checked against the node when non-zero.
	ChainID uint64 `mapstructure:"chain_id"`
}

// SignerConfig holds the deployer key.
type SignerConfig struct {
	PrivateKey string `mapstructure:"private_key" validate:"required"`
}

// FeesConfig selects the gas price policy.
type FeesConfig struct {
	Mode             string  `mapstructure:"mode" validate:"oneof=fixed suggest"`
	GasPriceGwei     float64 `mapstructure:"gas_price_gwei" validate:"gte=0"`
	MinGasPriceGwei  float64 `mapstructure:"min_gas_price_gwei" validate:"gte=0"`
	BoostPercent     int64   `mapstructure:"boost_percent" validate:"gte=0"`
	GasBufferPercent uint64  `mapstructure:"gas_buffer_percent"`
}

// ConfirmationConfig tunes the confirmation waiter. A zero timeout disables the deadline.
type ConfirmationConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gte=0"`
	SettleDelay  time.Duration `mapstructure:"settle_delay" validate:"gte=0"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// DEXConfig locates the Uniswap V2 compatible router and factory.
type DEXConfig struct {
	Router         string        `mapstructure:"router" validate:"required,eth_addr"`
	Factory        string        `mapstructure:"factory" validate:"required,eth_addr"`
	ApprovalAmount string        `mapstructure:"approval_amount" validate:"omitempty,numeric"`
	Deadline       time.Duration `mapstructure:"deadline" validate:"gte=0"`
}

// PreseedConfig binds names to addresses that already exist on chain. Its shape matches the
// registry section of a run report. Keys are matched case-insensitively because the decoder
// lowercases them.
type PreseedConfig struct {
	Tokens    map[string]string `mapstructure:"tokens" validate:"dive,keys,required,endkeys,eth_addr"`
	Contracts map[string]string `mapstructure:"contracts" validate:"dive,keys,required,endkeys,eth_addr"`
}

// PipelineConfig selects the protocol variant. File overrides Variant.
type PipelineConfig struct {
	Variant string `mapstructure:"variant"`
	File    string `mapstructure:"file"`
}

// ArtifactsConfig locates compiled contract artifacts: a directory or a .tar.zst bundle.
type ArtifactsConfig struct {
	Source string `mapstructure:"source" validate:"required"`
}

// ExportConfig lists the export sinks.
type ExportConfig struct {
	Path string   `mapstructure:"path"`
	S3   S3Config `mapstructure:"s3"`
}

// S3Config optionally mirrors the export to an S3-compatible bucket.
type S3Config struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	Bucket    string `mapstructure:"bucket" validate:"required_if=Enabled true"`
	Key       string `mapstructure:"key"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// LedgerConfig selects the completion ledger backend.
type LedgerConfig struct {
	Backend       string `mapstructure:"backend" validate:"oneof=none file postgres redis"`
	Path          string `mapstructure:"path" validate:"required_if=Backend file"`
	DSN           string `mapstructure:"dsn" validate:"required_if=Backend postgres"`
	RedisAddr     string `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"gte=0"`
}

// MetricsConfig enables the status HTTP server.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// ReportConfig optionally writes the run report as YAML.
type ReportConfig struct {
	Path string `mapstructure:"path"`
}

// SetDefaults registers the default of every key on v. Registering every key also lets
// environment variables override keys absent from the file.
func SetDefaults(v *viper.Viper) {
	defaults := map[string]interface{}{
		"network.rpc_url":            "",
		"network.chain_id":           0,
		"signer.private_key":         "",
		"fees.mode":                  string(chain.FeeModeFixed),
		"fees.gas_price_gwei":        float64(chain.DefaultGasPriceGwei),
		"fees.min_gas_price_gwei":    2.0,
		"fees.boost_percent":         150,
		"fees.gas_buffer_percent":    120,
		"confirmation.poll_interval": chain.DefaultPollInterval,
		"confirmation.settle_delay":  chain.DefaultSettleDelay,
		"confirmation.timeout":       chain.DefaultConfirmationTimeout,
		"dex.router":                 "",
		"dex.factory":                "",
		"dex.approval_amount":        liquidity.DefaultApprovalAmount.String(),
		"dex.deadline":               liquidity.DefaultDeadline,
		"recipients":                 []string{},
		"pipeline.variant":           pipelines.DefaultVariant,
		"pipeline.file":              "",
		"artifacts.source":           "build/contracts",
		"export.path":                artifacts.DefaultExportPath,
		"export.s3.enabled":          false,
		"export.s3.endpoint":         "",
		"export.s3.bucket":           "",
		"export.s3.key":              "abis.json",
		"export.s3.access_key":       "",
		"export.s3.secret_key":       "",
		"export.s3.region":           "",
		"export.s3.use_ssl":          true,
		"ledger.backend":             string(repository.BackendFile),
		"ledger.path":                repository.DefaultFilePath,
		"ledger.dsn":                 "",
		"ledger.redis_addr":          "",
		"ledger.redis_password":      "",
		"ledger.redis_db":            0,
		"metrics.enabled":            false,
		"metrics.addr":               ":9090",
		"log.level":                  "info",
		"log.format":                 "text",
		"report.path":                "",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Load reads path (or ./protoboot.{yaml,json,toml} when empty) and applies environment
// overrides. A missing default file is not an error; a missing explicit file is.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(DefaultConfigName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills values the decoder can leave empty.
func (c *Config) ApplyDefaults() {
	if c.Pipeline.Variant == "" && c.Pipeline.File == "" {
		c.Pipeline.Variant = pipelines.DefaultVariant
	}
	if c.Export.Path == "" {
		c.Export.Path = artifacts.DefaultExportPath
	}
	if c.Ledger.Backend == "" {
		c.Ledger.Backend = string(repository.BackendNone)
	}
	if c.Fees.Mode == "" {
		c.Fees.Mode = string(chain.FeeModeFixed)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	c.Signer.PrivateKey = strings.TrimSpace(c.Signer.PrivateKey)
}

// Validate checks the sections mode needs.
func (c *Config) Validate(mode Mode) error {
	validate := validator.New()

	sections := []interface{}{&c.Log, &c.Ledger, &c.Export.S3, &c.Metrics}
	switch mode {
	case ModeRun:
		sections = append(sections, &c.Network, &c.Signer, &c.Fees, &c.Confirmation, &c.DEX, &c.Preseed, &c.Artifacts)
	case ModeExport:
		sections = append(sections, &c.Artifacts)
	case ModePreflight:
		sections = append(sections, &c.Network, &c.Signer, &c.Preseed)
	}
	for _, s := range sections {
		if err := validate.Struct(s); err != nil {
			return formatValidationError(err)
		}
	}
	if mode == ModeRun {
		if err := validate.Var(c.Recipients, "dive,eth_addr"); err != nil {
			return fmt.Errorf("invalid config: recipients: %w", err)
		}
	}

	if c.Pipeline.File == "" {
		if _, _, err := pipelines.Open(c.Pipeline.Variant); err != nil {
			return fmt.Errorf("invalid config: pipeline.variant: %w", err)
		}
	}
	if mode == ModeRun && c.Fees.Mode == string(chain.FeeModeFixed) && c.Fees.GasPriceGwei <= 0 {
		return fmt.Errorf("invalid config: fees.gas_price_gwei must be positive in fixed mode")
	}
	if mode == ModeRun || mode == ModeExport {
		if c.Export.Path == "" && !c.Export.S3.Enabled {
			return fmt.Errorf("invalid config: export needs a path or an s3 bucket")
		}
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// FeePolicy converts the fee section.
func (c *Config) FeePolicy() chain.FeePolicy {
	return chain.FeePolicy{
		Mode:             chain.FeeMode(c.Fees.Mode),
		GasPrice:         chain.GweiToWei(big.NewFloat(c.Fees.GasPriceGwei)),
		MinGasPrice:      chain.GweiToWei(big.NewFloat(c.Fees.MinGasPriceGwei)),
		BoostPercent:     c.Fees.BoostPercent,
		GasBufferPercent: c.Fees.GasBufferPercent,
	}
}

// WaiterConfig converts the confirmation section. Logger and metrics are left to the caller.
func (c *Config) WaiterConfig() chain.WaiterConfig {
	settle := c.Confirmation.SettleDelay
	if settle == 0 {
		// An explicit zero means no settle delay; the waiter reads zero as the default.
		settle = -1
	}
	timeout := c.Confirmation.Timeout
	if timeout == 0 {
		timeout = -1
	}
	return chain.WaiterConfig{
		PollInterval: c.Confirmation.PollInterval,
		SettleDelay:  settle,
		Timeout:      timeout,
	}
}

// PreseedAddresses converts the pre-seed section.
func (c *Config) PreseedAddresses() deployer.Preseed {
	return deployer.Preseed{
		Tokens:    toAddresses(c.Preseed.Tokens),
		Contracts: toAddresses(c.Preseed.Contracts),
	}
}

// RecipientAddresses converts the recipients list.
func (c *Config) RecipientAddresses() []common.Address {
	out := make([]common.Address, 0, len(c.Recipients))
	for _, r := range c.Recipients {
		out = append(out, common.HexToAddress(r))
	}
	return out
}

// ApprovalAmount parses dex.approval_amount; empty means the liquidity default.
func (c *Config) ApprovalAmount() (*big.Int, error) {
	if c.DEX.ApprovalAmount == "" {
		return nil, nil
	}
	n, ok := new(big.Int).SetString(c.DEX.ApprovalAmount, 10)
	if !ok || n.Sign() <= 0 {
		return nil, fmt.Errorf("invalid dex.approval_amount %q", c.DEX.ApprovalAmount)
	}
	return n, nil
}

// RepositoryConfig converts the ledger section.
func (c *Config) RepositoryConfig() repository.Config {
	return repository.Config{
		Backend:       repository.Backend(c.Ledger.Backend),
		Path:          c.Ledger.Path,
		DSN:           c.Ledger.DSN,
		RedisAddr:     c.Ledger.RedisAddr,
		RedisPassword: c.Ledger.RedisPassword,
		RedisDB:       c.Ledger.RedisDB,
	}
}

// ObjectStore converts the S3 export section.
func (c *Config) ObjectStore() artifacts.ObjectStoreConfig {
	return artifacts.ObjectStoreConfig{
		Endpoint:  c.Export.S3.Endpoint,
		Bucket:    c.Export.S3.Bucket,
		Key:       c.Export.S3.Key,
		AccessKey: c.Export.S3.AccessKey,
		SecretKey: c.Export.S3.SecretKey,
		Region:    c.Export.S3.Region,
		UseSSL:    c.Export.S3.UseSSL,
	}
}

func toAddresses(m map[string]string) map[string]common.Address {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]common.Address, len(m))
	for name, addr := range m {
		out[name] = common.HexToAddress(addr)
	}
	return out
}
