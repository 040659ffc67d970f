package config

import (
	"encoding/json"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/moznion/go-optional"
	"gopkg.in/yaml.v3"

	"github.com/driftlab/drift-trading/pkg/errors"
)

// Mode selects how trade intents are executed for a run.
type Mode string

const (
	// ModeLive executes real orders against the exchange.
	ModeLive Mode = "live"
	// ModeSandbox executes simulated paper orders; the exchange testnet is
	// opt-in where the executor is built.
	ModeSandbox Mode = "sandbox"
	// ModeBacktest replays archived bars and fills instantly.
	ModeBacktest Mode = "backtest"
)

var AllModes = []any{ModeLive, ModeSandbox, ModeBacktest}

const dateLayout = "2006-01-02"

// Credentials is one exchange API credential set. Live and sandbox sets are
// distinct and never interchangeable.
type Credentials struct {
	APIKey    string `yaml:"api_key" json:"api_key"`
	APISecret string `yaml:"api_secret" json:"api_secret"`
}

// IsZero reports whether the credential set is empty.
func (c Credentials) IsZero() bool {
	return c.APIKey == "" && c.APISecret == ""
}

// RunConfiguration captures everything a run needs, once, at run start.
// It is immutable for the run's duration; re-running requires a fresh engine
// instance with a fresh configuration.
type RunConfiguration struct {
	Mode   Mode   `yaml:"mode" json:"mode" jsonschema:"title=Mode,description=Execution mode for the run" validate:"required,oneof=live sandbox backtest"`
	Symbol string `yaml:"symbol" json:"symbol" jsonschema:"title=Symbol,description=Trading symbol,example=BTCUSDT" validate:"required"`
	// InitialCapital is the starting cash balance in quote currency.
	InitialCapital float64 `yaml:"initial_capital" json:"initial_capital" jsonschema:"title=Initial Capital,minimum=0" validate:"gt=0"`
	// FeeRate is the per-trade commission as a fraction of notional.
	FeeRate float64 `yaml:"fee_rate" json:"fee_rate" jsonschema:"title=Fee Rate,minimum=0" validate:"gte=0"`
	// SlippageRate shifts fill prices against the trade as a fraction of price.
	SlippageRate float64 `yaml:"slippage_rate" json:"slippage_rate" jsonschema:"title=Slippage Rate,minimum=0" validate:"gte=0"`
	// StartDate and EndDate bound the historical range; backtest only.
	StartDate optional.Option[time.Time] `yaml:"start_date" json:"start_date" jsonschema:"title=Start Date"`
	EndDate   optional.Option[time.Time] `yaml:"end_date" json:"end_date" jsonschema:"title=End Date"`
	// LiveCredentials and SandboxCredentials are the two distinct exchange
	// credential sets; only the one matching Mode is ever used.
	LiveCredentials    Credentials `yaml:"live_credentials" json:"live_credentials"`
	SandboxCredentials Credentials `yaml:"sandbox_credentials" json:"sandbox_credentials"`
}

// DefaultConfiguration returns a backtest configuration with the standard
// capital and cost parameters.
func DefaultConfiguration() RunConfiguration {
	return RunConfiguration{
		Mode:               ModeBacktest,
		Symbol:             "BTCUSDT",
		InitialCapital:     100000,
		FeeRate:            0.001,
		SlippageRate:       0.001,
		StartDate:          optional.None[time.Time](),
		EndDate:            optional.None[time.Time](),
		LiveCredentials:    Credentials{APIKey: "", APISecret: ""},
		SandboxCredentials: Credentials{APIKey: "", APISecret: ""},
	}
}

// UnmarshalYAML implements custom unmarshaling for RunConfiguration.
func (c *RunConfiguration) UnmarshalYAML(value *yaml.Node) error {
	type rawConfig struct {
		Mode               Mode        `yaml:"mode"`
		Symbol             string      `yaml:"symbol"`
		InitialCapital     float64     `yaml:"initial_capital"`
		FeeRate            float64     `yaml:"fee_rate"`
		SlippageRate       float64     `yaml:"slippage_rate"`
		StartDate          *time.Time  `yaml:"start_date"`
		EndDate            *time.Time  `yaml:"end_date"`
		LiveCredentials    Credentials `yaml:"live_credentials"`
		SandboxCredentials Credentials `yaml:"sandbox_credentials"`
	}

	var raw rawConfig
	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.Mode = raw.Mode
	c.Symbol = raw.Symbol
	c.InitialCapital = raw.InitialCapital
	c.FeeRate = raw.FeeRate
	c.SlippageRate = raw.SlippageRate
	c.LiveCredentials = raw.LiveCredentials
	c.SandboxCredentials = raw.SandboxCredentials
	c.StartDate = optional.None[time.Time]()
	c.EndDate = optional.None[time.Time]()

	if raw.StartDate != nil {
		c.StartDate = optional.Some(*raw.StartDate)
	}

	if raw.EndDate != nil {
		c.EndDate = optional.Some(*raw.EndDate)
	}

	return nil
}

// FromEnv builds a RunConfiguration from process environment variables,
// starting from DefaultConfiguration. Recognized variables: TRADING_MODE,
// SYMBOL, START_DATE, END_DATE (YYYY-MM-DD), EXCHANGE_LIVE_API_KEY,
// EXCHANGE_LIVE_API_SECRET, EXCHANGE_SANDBOX_API_KEY,
// EXCHANGE_SANDBOX_API_SECRET.
func FromEnv() (RunConfiguration, error) {
	cfg := DefaultConfiguration()

	if mode := os.Getenv("TRADING_MODE"); mode != "" {
		cfg.Mode = Mode(mode)
	}

	if symbol := os.Getenv("SYMBOL"); symbol != "" {
		cfg.Symbol = symbol
	}

	if start := os.Getenv("START_DATE"); start != "" {
		t, err := time.Parse(dateLayout, start)
		if err != nil {
			return RunConfiguration{}, errors.Wrapf(errors.ErrCodeInvalidParameter, err, "invalid START_DATE %q", start)
		}

		cfg.StartDate = optional.Some(t)
	}

	if end := os.Getenv("END_DATE"); end != "" {
		t, err := time.Parse(dateLayout, end)
		if err != nil {
			return RunConfiguration{}, errors.Wrapf(errors.ErrCodeInvalidParameter, err, "invalid END_DATE %q", end)
		}

		cfg.EndDate = optional.Some(t)
	}

	cfg.LiveCredentials = Credentials{
		APIKey:    os.Getenv("EXCHANGE_LIVE_API_KEY"),
		APISecret: os.Getenv("EXCHANGE_LIVE_API_SECRET"),
	}
	cfg.SandboxCredentials = Credentials{
		APIKey:    os.Getenv("EXCHANGE_SANDBOX_API_KEY"),
		APISecret: os.Getenv("EXCHANGE_SANDBOX_API_SECRET"),
	}

	return cfg, nil
}

// Validate checks the configuration before a run starts. A backtest with
// start_date after end_date fails with InvalidRange; live mode fails with
// InvalidCredentials when its credential set is missing. Sandbox runs fill
// on paper by default and need no credentials; the testnet path checks its
// own credentials where the executor is built.
func (c *RunConfiguration) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid run configuration", err)
	}

	if c.StartDate.IsSome() && c.EndDate.IsSome() {
		start := c.StartDate.Unwrap()

		end := c.EndDate.Unwrap()
		if start.After(end) {
			return errors.Newf(errors.ErrCodeInvalidRange,
				"start_date %s is after end_date %s",
				start.Format(dateLayout), end.Format(dateLayout))
		}
	}

	switch c.Mode {
	case ModeLive:
		if c.LiveCredentials.IsZero() {
			return errors.New(errors.ErrCodeInvalidCredentials, "live mode requires live credentials")
		}
	case ModeSandbox, ModeBacktest:
	default:
		return errors.Newf(errors.ErrCodeInvalidMode, "unknown mode %q", c.Mode)
	}

	return nil
}

// ExchangeCredentials returns the credential set matching the configured
// mode. Backtests have no credentials.
func (c *RunConfiguration) ExchangeCredentials() Credentials {
	switch c.Mode {
	case ModeLive:
		return c.LiveCredentials
	case ModeSandbox:
		return c.SandboxCredentials
	default:
		return Credentials{APIKey: "", APISecret: ""}
	}
}

// GenerateSchema generates a JSON schema for the RunConfiguration.
func (c *RunConfiguration) GenerateSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t.String() == "optional.Option[time.Time]" {
				return &jsonschema.Schema{
					Type:   "string",
					Format: "date",
				}
			}

			if strings.Contains(t.String(), "config.Mode") {
				return &jsonschema.Schema{
					Type: "string",
					Enum: AllModes,
				}
			}

			return nil
		},
	}

	schema := reflector.Reflect(c)
	schema.Title = "run-configuration"
	schema.Description = "Configuration schema for a trading run"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema
}

// GenerateSchemaJSON generates a JSON schema string for the RunConfiguration.
func (c *RunConfiguration) GenerateSchemaJSON() (string, error) {
	schemaBytes, err := json.MarshalIndent(c.GenerateSchema(), "", "  ")
	if err != nil {
		return "", err
	}

	return string(schemaBytes), nil
}
