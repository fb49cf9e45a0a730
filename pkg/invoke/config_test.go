package invoke

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/counter-client/pkg/solana"
)

func TestLoadConfig_Defaults(t *testing.T) {
	conf, err := LoadConfig(context.Background(), WithOverrides(Config{}))
	require.NoError(t, err)

	assert.Equal(t, Config{
		Endpoint:            "http://localhost:8899",
		Commitment:          solana.CommitmentConfirmed,
		ConfirmationTimeout: 30 * time.Second,
		PollInterval:        500 * time.Millisecond,
		LogFetchAttempts:    5,
		RequestTimeout:      30 * time.Second,
		CredentialPath:      "~/.config/solana/id.json",
		ProgramIDPath:       ".program-id",
	}, conf)
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv(RPCURLConfigEnvName, "https://api.devnet.solana.com")
	t.Setenv(CommitmentConfigEnvName, "Finalized")
	t.Setenv(ConfirmationTimeoutConfigEnvName, "1m")
	t.Setenv(ConfirmationPollIntervalConfigEnvName, "250")
	t.Setenv(LogFetchAttemptsConfigEnvName, "8")
	t.Setenv(RPCRequestTimeoutConfigEnvName, "5s")
	t.Setenv(CredentialPathConfigEnvName, "/keys/payer.json")
	t.Setenv(ProgramIDPathConfigEnvName, "/deploy/.program-id")
	t.Setenv(SkipPreflightConfigEnvName, "true")
	t.Setenv(ComputeUnitLimitConfigEnvName, "50000")
	t.Setenv(ComputeUnitPriceConfigEnvName, "1000")
	t.Setenv(RPCRequestsPerSecondConfigEnvName, "2.5")

	conf, err := LoadConfig(context.Background(), WithEnvConfigs())
	require.NoError(t, err)

	assert.Equal(t, Config{
		Endpoint:            "https://api.devnet.solana.com",
		Commitment:          solana.CommitmentFinalized,
		ConfirmationTimeout: time.Minute,
		PollInterval:        250 * time.Millisecond,
		LogFetchAttempts:    8,
		RequestTimeout:      5 * time.Second,
		CredentialPath:      "/keys/payer.json",
		ProgramIDPath:       "/deploy/.program-id",
		SkipPreflight:       true,
		ComputeUnitLimit:    50000,
		ComputeUnitPrice:    1000,
		RequestsPerSecond:   2.5,
	}, conf)
}

func TestLoadConfig_EnvDefaults(t *testing.T) {
	for _, key := range []string{
		RPCURLConfigEnvName,
		CommitmentConfigEnvName,
		ConfirmationTimeoutConfigEnvName,
		ConfirmationPollIntervalConfigEnvName,
		LogFetchAttemptsConfigEnvName,
		RPCRequestTimeoutConfigEnvName,
		CredentialPathConfigEnvName,
		ProgramIDPathConfigEnvName,
		SkipPreflightConfigEnvName,
		ComputeUnitLimitConfigEnvName,
		ComputeUnitPriceConfigEnvName,
		RPCRequestsPerSecondConfigEnvName,
	} {
		t.Setenv(key, "")
	}

	conf, err := LoadConfig(context.Background(), WithEnvConfigs())
	require.NoError(t, err)

	expected, err := LoadConfig(context.Background(), WithOverrides(Config{}))
	require.NoError(t, err)
	assert.Equal(t, expected, conf)
}

func TestLoadConfig_Overrides(t *testing.T) {
	overrides := Config{
		Endpoint:            "http://127.0.0.1:9000",
		Commitment:          solana.CommitmentProcessed,
		ConfirmationTimeout: time.Second,
		PollInterval:        time.Millisecond,
		LogFetchAttempts:    2,
		RequestTimeout:      3 * time.Second,
		SkipPreflight:       true,
		ComputeUnitLimit:    1,
		ComputeUnitPrice:    2,
		RequestsPerSecond:   3,
	}

	conf, err := LoadConfig(context.Background(), WithOverrides(overrides))
	require.NoError(t, err)

	overrides.CredentialPath = defaultCredentialPath
	overrides.ProgramIDPath = defaultProgramIDPath
	assert.Equal(t, overrides, conf)
}

func TestLoadConfig_Invalid(t *testing.T) {
	for _, tc := range []struct {
		name  string
		key   string
		value string
	}{
		{"commitment", CommitmentConfigEnvName, "rooted"},
		{"compute unit limit", ComputeUnitLimitConfigEnvName, "4294967296"},
		{"request rate", RPCRequestsPerSecondConfigEnvName, "-1"},
		{"unparsable confirmation timeout", ConfirmationTimeoutConfigEnvName, "thirty seconds"},
		{"unparsable skip preflight", SkipPreflightConfigEnvName, "yes please"},
		{"negative compute unit price", ComputeUnitPriceConfigEnvName, "-5"},
		{"unparsable poll interval", ConfirmationPollIntervalConfigEnvName, "often"},
		{"unparsable request rate", RPCRequestsPerSecondConfigEnvName, "fast"},
		{"zero log fetch attempts", LogFetchAttemptsConfigEnvName, "0"},
		{"unparsable request timeout", RPCRequestTimeoutConfigEnvName, "soon"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)

			conf, err := LoadConfig(context.Background(), WithEnvConfigs())
			assert.Error(t, err)
			assert.Equal(t, Config{}, conf)
		})
	}
}

func TestLoadConfig_InvalidNamesSetting(t *testing.T) {
	t.Setenv(ConfirmationTimeoutConfigEnvName, "thirty seconds")

	_, err := LoadConfig(context.Background(), WithEnvConfigs())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ConfirmationTimeoutConfigEnvName)
}

func TestPlan(t *testing.T) {
	assert.EqualValues(t, 2, DefaultPlan().Expected())
	assert.Equal(t, "init, increment, increment", DefaultPlan().String())
	assert.False(t, DefaultPlan().IsHello())

	assert.EqualValues(t, 12, AddPlan(5, 7).Expected())
	assert.Equal(t, "init, add(5), add(7)", AddPlan(5, 7).String())

	// Arithmetic wraps.
	assert.EqualValues(t, 1, AddPlan(^uint64(0), 2).Expected())

	assert.True(t, HelloPlan().IsHello())
	assert.Zero(t, HelloPlan().Expected())
	assert.Equal(t, "hello", HelloPlan().String())
}
