package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the relayer process configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Ethereum   EthereumConfig   `mapstructure:"ethereum"`
	Canton     CantonConfig     `mapstructure:"canton"`
	Relay      RelayConfig      `mapstructure:"relay"`
	Guard      GuardConfig      `mapstructure:"guard"`
	State      StateConfig      `mapstructure:"state"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// EthereumConfig contains Ethereum client settings
type EthereumConfig struct {
	// RPCURLs is an ordered list of JSON-RPC endpoints. The first entry is
	// the primary; the rest are failover targets.
	RPCURLs            []string      `mapstructure:"rpc_urls"`
	ChainID            int64         `mapstructure:"chain_id"`
	BridgeContract     string        `mapstructure:"bridge_contract"`
	RelayerPrivateKey  string        `mapstructure:"relayer_private_key"`
	ConfirmationBlocks uint64        `mapstructure:"confirmation_blocks"`
	GasLimit           uint64        `mapstructure:"gas_limit"`
	MaxGasPrice        string        `mapstructure:"max_gas_price"`
	FailoverThreshold  int           `mapstructure:"failover_threshold"`
	ReceiptTimeout     time.Duration `mapstructure:"receipt_timeout"`
	ReceiptPollEvery   time.Duration `mapstructure:"receipt_poll_every"`
	StartBlock         int64         `mapstructure:"start_block"`
	LookbackBlocks     int64         `mapstructure:"lookback_blocks"`
}

// CantonConfig contains Canton JSON Ledger API settings
type CantonConfig struct {
	APIURL          string        `mapstructure:"api_url"`
	UserID          string        `mapstructure:"user_id"`
	OperatorParty   string        `mapstructure:"operator_party"`
	ValidatorParty  string        `mapstructure:"validator_party"`
	PackageID       string        `mapstructure:"package_id"`
	ProtocolModule  string        `mapstructure:"protocol_module"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	PollingInterval time.Duration `mapstructure:"polling_interval"`
	Auth            AuthConfig    `mapstructure:"auth"`
}

// AuthConfig holds ledger authentication settings.
// Either a static token file or OAuth2 client credentials may be configured.
type AuthConfig struct {
	TokenFile    string        `mapstructure:"token_file"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	Audience     string        `mapstructure:"audience"`
	TokenURL     string        `mapstructure:"token_url"`
	ExpiryLeeway time.Duration `mapstructure:"expiry_leeway"`
}

// RelayConfig contains relay engine pipeline settings
type RelayConfig struct {
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	DegradedPollInterval time.Duration `mapstructure:"degraded_poll_interval"`
	FailedPollInterval   time.Duration `mapstructure:"failed_poll_interval"`
	DegradedThreshold    int           `mapstructure:"degraded_threshold"`
	MaxSubmitRetries     int           `mapstructure:"max_submit_retries"`
	OrphanScanEvery      int           `mapstructure:"orphan_scan_every"`
	OrphanScanBlocks     uint64        `mapstructure:"orphan_scan_blocks"`
}

// GuardConfig contains rate limiter and anomaly detector settings
type GuardConfig struct {
	SubmissionWindow time.Duration `mapstructure:"submission_window"`
	MaxPerWindow     int           `mapstructure:"max_per_window"`
	MaxCapJumpPct    float64       `mapstructure:"max_cap_jump_pct"`
	MaxConsecReverts int           `mapstructure:"max_consec_reverts"`
}

// StateConfig contains persisted relay state settings
type StateConfig struct {
	Path string `mapstructure:"path"`
}

// AlertingConfig contains operational alert delivery settings
type AlertingConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Service    string `mapstructure:"service"`
}

// MonitoringConfig contains monitoring and metrics settings
type MonitoringConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// =============================================================================
// VALIDATOR NODE CONFIG
// =============================================================================

// ValidatorConfig represents the validator attestation node configuration
type ValidatorConfig struct {
	Server     ServerConfig     `mapstructure:"server"`
	Canton     CantonConfig     `mapstructure:"canton"`
	Verify     VerifyConfig     `mapstructure:"verify"`
	Signer     SignerConfig     `mapstructure:"signer"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// VerifyConfig bounds attestation verification
type VerifyConfig struct {
	// Mode selects the independent source of truth: "ledger" sums the
	// participant's own holdings; "registry" queries the asset registry API.
	Mode            string `mapstructure:"mode"`
	TolerancePct    string `mapstructure:"tolerance_pct"`
	ToleranceCapAbs string `mapstructure:"tolerance_cap_abs"`
}

// SignerConfig selects the attestation signing backend
type SignerConfig struct {
	// Backend is "hsm" (remote signing service, key never enters process
	// memory) or "local" (encrypted keystore, development only).
	Backend string `mapstructure:"backend"`

	HSMEndpoint string        `mapstructure:"hsm_endpoint"`
	HSMKeyLabel string        `mapstructure:"hsm_key_label"`
	HSMAPIToken string        `mapstructure:"hsm_api_token"`
	HSMTimeout  time.Duration `mapstructure:"hsm_timeout"`

	KeystorePath string `mapstructure:"keystore_path"`
	MasterKeyB64 string `mapstructure:"master_key_b64"`

	ExpectedSigner string `mapstructure:"expected_signer"`
}

// RegistryConfig contains asset registry API client settings
type RegistryConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

// Load loads relayer configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)

	// Ethereum defaults
	viper.SetDefault("ethereum.confirmation_blocks", 12)
	viper.SetDefault("ethereum.gas_limit", 300000)
	viper.SetDefault("ethereum.failover_threshold", 3)
	viper.SetDefault("ethereum.receipt_timeout", "2m")
	viper.SetDefault("ethereum.receipt_poll_every", "3s")
	viper.SetDefault("ethereum.start_block", 0)
	viper.SetDefault("ethereum.lookback_blocks", 1000)

	// Canton defaults
	viper.SetDefault("canton.protocol_module", "Minted.Protocol.V3")
	viper.SetDefault("canton.request_timeout", "30s")
	viper.SetDefault("canton.polling_interval", "10s")

	// Relay defaults
	viper.SetDefault("relay.poll_interval", "15s")
	viper.SetDefault("relay.degraded_poll_interval", "1m")
	viper.SetDefault("relay.failed_poll_interval", "10m")
	viper.SetDefault("relay.degraded_threshold", 3)
	viper.SetDefault("relay.max_submit_retries", 2)
	viper.SetDefault("relay.orphan_scan_every", 20)
	viper.SetDefault("relay.orphan_scan_blocks", 500)

	// Guard defaults
	viper.SetDefault("guard.submission_window", "1h")
	viper.SetDefault("guard.max_per_window", 100)
	viper.SetDefault("guard.max_cap_jump_pct", 10.0)
	viper.SetDefault("guard.max_consec_reverts", 5)

	// State defaults
	viper.SetDefault("state.path", "relay-state.json")

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_path", "stdout")
}

func validate(config *Config) error {
	if len(config.Ethereum.RPCURLs) == 0 {
		return fmt.Errorf("ethereum.rpc_urls is required")
	}
	if config.Ethereum.BridgeContract == "" {
		return fmt.Errorf("ethereum.bridge_contract is required")
	}
	if config.Ethereum.RelayerPrivateKey == "" {
		return fmt.Errorf("ethereum.relayer_private_key is required")
	}
	if config.Canton.APIURL == "" {
		return fmt.Errorf("canton.api_url is required")
	}
	if config.Canton.OperatorParty == "" {
		return fmt.Errorf("canton.operator_party is required")
	}
	if config.Canton.PackageID == "" {
		return fmt.Errorf("canton.package_id is required")
	}
	if config.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	return nil
}

// LoadValidator loads validator node configuration from file
func LoadValidator(configPath string) (*ValidatorConfig, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setValidatorDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config ValidatorConfig
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateValidator(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setValidatorDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8081)

	viper.SetDefault("canton.protocol_module", "Minted.Protocol.V3")
	viper.SetDefault("canton.request_timeout", "30s")
	viper.SetDefault("canton.polling_interval", "10s")

	viper.SetDefault("verify.mode", "ledger")
	viper.SetDefault("verify.tolerance_pct", "0.1")
	viper.SetDefault("verify.tolerance_cap_abs", "100000")

	viper.SetDefault("signer.backend", "hsm")
	viper.SetDefault("signer.hsm_timeout", "10s")

	viper.SetDefault("registry.request_timeout", "15s")
	viper.SetDefault("registry.max_retries", 3)

	viper.SetDefault("monitoring.enabled", true)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_path", "stdout")
}

func validateValidator(config *ValidatorConfig) error {
	if config.Canton.APIURL == "" {
		return fmt.Errorf("canton.api_url is required")
	}
	if config.Canton.ValidatorParty == "" {
		return fmt.Errorf("canton.validator_party is required")
	}
	if config.Canton.PackageID == "" {
		return fmt.Errorf("canton.package_id is required")
	}
	switch config.Verify.Mode {
	case "ledger":
	case "registry":
		if config.Registry.BaseURL == "" {
			return fmt.Errorf("registry.base_url is required in registry mode")
		}
	default:
		return fmt.Errorf("verify.mode must be \"ledger\" or \"registry\", got %q", config.Verify.Mode)
	}
	switch config.Signer.Backend {
	case "hsm":
		if config.Signer.HSMEndpoint == "" {
			return fmt.Errorf("signer.hsm_endpoint is required for the hsm backend")
		}
	case "local":
		if config.Signer.KeystorePath == "" {
			return fmt.Errorf("signer.keystore_path is required for the local backend")
		}
	default:
		return fmt.Errorf("signer.backend must be \"hsm\" or \"local\", got %q", config.Signer.Backend)
	}
	if config.Signer.ExpectedSigner == "" {
		return fmt.Errorf("signer.expected_signer is required")
	}
	return nil
}
