package invoke

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/code-payments/counter-client/pkg/config"
	"github.com/code-payments/counter-client/pkg/config/env"
	"github.com/code-payments/counter-client/pkg/config/memory"
	"github.com/code-payments/counter-client/pkg/config/wrapper"
	"github.com/code-payments/counter-client/pkg/keyfile"
	"github.com/code-payments/counter-client/pkg/solana"
)

const (
	RPCURLConfigEnvName = "RPC_URL"
	defaultRPCURL       = string(solana.EnvironmentLocal)

	CommitmentConfigEnvName = "COMMITMENT"
	defaultCommitment       = "confirmed"

	ConfirmationTimeoutConfigEnvName = "CONFIRMATION_TIMEOUT"
	defaultConfirmationTimeout       = 30 * time.Second

	ConfirmationPollIntervalConfigEnvName = "CONFIRMATION_POLL_INTERVAL"
	defaultConfirmationPollInterval       = 500 * time.Millisecond

	LogFetchAttemptsConfigEnvName = "LOG_FETCH_ATTEMPTS"
	defaultLogFetchAttempts       = 5

	RPCRequestTimeoutConfigEnvName = "RPC_REQUEST_TIMEOUT"
	defaultRPCRequestTimeout       = solana.DefaultRequestTimeout

	CredentialPathConfigEnvName = "CREDENTIAL_PATH"
	defaultCredentialPath       = keyfile.DefaultCredentialPath

	ProgramIDPathConfigEnvName = "PROGRAM_ID_PATH"
	defaultProgramIDPath       = keyfile.DefaultProgramIDPath

	SkipPreflightConfigEnvName = "SKIP_PREFLIGHT"
	defaultSkipPreflight       = false

	ComputeUnitLimitConfigEnvName = "COMPUTE_UNIT_LIMIT"
	defaultComputeUnitLimit       = 0

	ComputeUnitPriceConfigEnvName = "COMPUTE_UNIT_PRICE"
	defaultComputeUnitPrice       = 0

	RPCRequestsPerSecondConfigEnvName = "RPC_REQUESTS_PER_SECOND"
	defaultRPCRequestsPerSecond       = 0
)

// Config is a snapshot of the settings of one invocation.
type Config struct {
	Endpoint            string
	Commitment          solana.Commitment
	ConfirmationTimeout time.Duration
	PollInterval        time.Duration

	// LogFetchAttempts bounds the getTransaction queries made for the logs of
	// a confirmed transaction.
	LogFetchAttempts uint

	// RequestTimeout bounds each RPC round trip.
	RequestTimeout time.Duration

	CredentialPath string
	ProgramIDPath  string

	SkipPreflight bool

	// Compute budget instructions are only prepended when non-zero.
	ComputeUnitLimit uint32
	ComputeUnitPrice uint64

	// RequestsPerSecond limits the RPC requests made per method. Zero is
	// unlimited.
	RequestsPerSecond float64
}

type conf struct {
	endpoint            config.String
	commitment          config.String
	confirmationTimeout config.Duration
	pollInterval        config.Duration
	logFetchAttempts    config.Uint64
	requestTimeout      config.Duration
	credentialPath      config.String
	programIDPath       config.String
	skipPreflight       config.Bool
	computeUnitLimit    config.Uint64
	computeUnitPrice    config.Uint64
	requestsPerSecond   config.Float64
}

// ConfigProvider defines how config values are pulled
type ConfigProvider func() *conf

// WithEnvConfigs returns configuration pulled from environment variables
func WithEnvConfigs() ConfigProvider {
	return func() *conf {
		return &conf{
			endpoint:            env.NewStringConfig(RPCURLConfigEnvName, defaultRPCURL),
			commitment:          env.NewStringConfig(CommitmentConfigEnvName, defaultCommitment),
			confirmationTimeout: env.NewDurationConfig(ConfirmationTimeoutConfigEnvName, defaultConfirmationTimeout),
			pollInterval:        env.NewDurationConfig(ConfirmationPollIntervalConfigEnvName, defaultConfirmationPollInterval),
			logFetchAttempts:    env.NewUint64Config(LogFetchAttemptsConfigEnvName, defaultLogFetchAttempts),
			requestTimeout:      env.NewDurationConfig(RPCRequestTimeoutConfigEnvName, defaultRPCRequestTimeout),
			credentialPath:      env.NewStringConfig(CredentialPathConfigEnvName, defaultCredentialPath),
			programIDPath:       env.NewStringConfig(ProgramIDPathConfigEnvName, defaultProgramIDPath),
			skipPreflight:       env.NewBoolConfig(SkipPreflightConfigEnvName, defaultSkipPreflight),
			computeUnitLimit:    env.NewUint64Config(ComputeUnitLimitConfigEnvName, defaultComputeUnitLimit),
			computeUnitPrice:    env.NewUint64Config(ComputeUnitPriceConfigEnvName, defaultComputeUnitPrice),
			requestsPerSecond:   env.NewFloat64Config(RPCRequestsPerSecondConfigEnvName, defaultRPCRequestsPerSecond),
		}
	}
}

// WithOverrides returns configuration held in memory. Zero valued fields of
// overrides fall back to the defaults.
func WithOverrides(overrides Config) ConfigProvider {
	return func() *conf {
		return &conf{
			endpoint:            wrapper.NewStringConfig(memory.NewConfig(nonZero(overrides.Endpoint)), defaultRPCURL),
			commitment:          wrapper.NewStringConfig(memory.NewConfig(nonZero(overrides.Commitment.Commitment)), defaultCommitment),
			confirmationTimeout: wrapper.NewDurationConfig(memory.NewConfig(nonZero(overrides.ConfirmationTimeout)), defaultConfirmationTimeout),
			pollInterval:        wrapper.NewDurationConfig(memory.NewConfig(nonZero(overrides.PollInterval)), defaultConfirmationPollInterval),
			logFetchAttempts:    wrapper.NewUint64Config(memory.NewConfig(nonZero(uint64(overrides.LogFetchAttempts))), defaultLogFetchAttempts),
			requestTimeout:      wrapper.NewDurationConfig(memory.NewConfig(nonZero(overrides.RequestTimeout)), defaultRPCRequestTimeout),
			credentialPath:      wrapper.NewStringConfig(memory.NewConfig(nonZero(overrides.CredentialPath)), defaultCredentialPath),
			programIDPath:       wrapper.NewStringConfig(memory.NewConfig(nonZero(overrides.ProgramIDPath)), defaultProgramIDPath),
			skipPreflight:       wrapper.NewBoolConfig(memory.NewConfig(nonZero(overrides.SkipPreflight)), defaultSkipPreflight),
			computeUnitLimit:    wrapper.NewUint64Config(memory.NewConfig(nonZero(uint64(overrides.ComputeUnitLimit))), defaultComputeUnitLimit),
			computeUnitPrice:    wrapper.NewUint64Config(memory.NewConfig(nonZero(overrides.ComputeUnitPrice)), defaultComputeUnitPrice),
			requestsPerSecond:   wrapper.NewFloat64Config(memory.NewConfig(nonZero(overrides.RequestsPerSecond)), defaultRPCRequestsPerSecond),
		}
	}
}

// nonZero maps zero values to nil, which memory configs treat as unset.
func nonZero[T comparable](v T) interface{} {
	var zero T
	if v == zero {
		return nil
	}
	return v
}

// LoadConfig snapshots the values of provider. Values that are set but can't
// be parsed are reported rather than replaced with defaults.
func LoadConfig(ctx context.Context, provider ConfigProvider) (Config, error) {
	c := provider()

	var conf Config
	var commitment string
	var logFetchAttempts, computeUnitLimit uint64
	for _, err := range []error{
		getSafe(ctx, RPCURLConfigEnvName, c.endpoint, &conf.Endpoint),
		getSafe(ctx, CommitmentConfigEnvName, c.commitment, &commitment),
		getSafe(ctx, ConfirmationTimeoutConfigEnvName, c.confirmationTimeout, &conf.ConfirmationTimeout),
		getSafe(ctx, ConfirmationPollIntervalConfigEnvName, c.pollInterval, &conf.PollInterval),
		getSafe(ctx, LogFetchAttemptsConfigEnvName, c.logFetchAttempts, &logFetchAttempts),
		getSafe(ctx, RPCRequestTimeoutConfigEnvName, c.requestTimeout, &conf.RequestTimeout),
		getSafe(ctx, CredentialPathConfigEnvName, c.credentialPath, &conf.CredentialPath),
		getSafe(ctx, ProgramIDPathConfigEnvName, c.programIDPath, &conf.ProgramIDPath),
		getSafe(ctx, SkipPreflightConfigEnvName, c.skipPreflight, &conf.SkipPreflight),
		getSafe(ctx, ComputeUnitLimitConfigEnvName, c.computeUnitLimit, &computeUnitLimit),
		getSafe(ctx, ComputeUnitPriceConfigEnvName, c.computeUnitPrice, &conf.ComputeUnitPrice),
		getSafe(ctx, RPCRequestsPerSecondConfigEnvName, c.requestsPerSecond, &conf.RequestsPerSecond),
	} {
		if err != nil {
			return Config{}, err
		}
	}

	var err error
	conf.Commitment, err = solana.ParseCommitment(commitment)
	if err != nil {
		return Config{}, err
	}

	if computeUnitLimit > math.MaxUint32 {
		return Config{}, errors.Errorf("compute unit limit %d exceeds %d", computeUnitLimit, uint32(math.MaxUint32))
	}
	conf.ComputeUnitLimit = uint32(computeUnitLimit)

	if logFetchAttempts == 0 {
		return Config{}, errors.New("log fetch attempts must be positive")
	}
	conf.LogFetchAttempts = uint(logFetchAttempts)

	if conf.RequestTimeout <= 0 {
		return Config{}, errors.New("rpc request timeout must be positive")
	}
	if conf.RequestsPerSecond < 0 {
		return Config{}, errors.Errorf("negative request rate %v", conf.RequestsPerSecond)
	}

	return conf, nil
}

func getSafe[T any](ctx context.Context, name string, c config.Typed[T], out *T) error {
	v, err := c.GetSafe(ctx)
	if err != nil {
		return errors.Wrapf(err, "invalid %s", name)
	}
	*out = v
	return nil
}
