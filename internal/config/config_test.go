package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldmarket/internal/governance"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	p, err := cfg.Protocol.Params()
	require.NoError(t, err)
	def := governance.DefaultParams()
	assert.Equal(t, 0, def.ForgeFeeRate.Cmp(p.ForgeFeeRate))
	assert.Equal(t, 0, def.ProtocolFeeShare.Cmp(p.ProtocolFeeShare))
	assert.Equal(t, def.ExpiryDivisor, p.ExpiryDivisor)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Governance.Treasury = "nope"
	cfg.Protocol.SwapFee = "2"
	cfg.Sources = append(cfg.Sources, SourceConfig{ID: "aave", Kind: "compound"})

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "trade"`)
	assert.Contains(t, msg, "governance: treasury")
	assert.Contains(t, msg, "swap_fee out of range")
	assert.Contains(t, msg, `duplicate id "aave"`)
	assert.Contains(t, msg, "need chain.rpc_url")
}

func TestUnsignedCallerNeedsOptIn(t *testing.T) {
	assert.True(t, Defaults().Server.SignatureAuth)

	cfg := Defaults()
	cfg.Server.SignatureAuth = false
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allow_unsigned_caller")

	cfg.Server.AllowUnsignedCaller = true
	require.NoError(t, cfg.Validate())

	cfg = Defaults()
	cfg.Mode = "simulate"
	cfg.Server.SignatureAuth = false
	require.NoError(t, cfg.Validate())
}

func TestFullModeNeedsStores(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "full"
	cfg.Redis.Addr = ""
	cfg.Archive.Enabled = true
	cfg.S3.Bucket = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: addr")
	assert.Contains(t, err.Error(), "s3: bucket")
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "simulate"

[server]
port = 9000
read_timeout = "3s"

[protocol]
swap_fee = "0.003"

[[sources]]
id = "sim"
kind = "simulated"
family = "ratio"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("YIELDMKT_SERVER_PORT", "9100")
	t.Setenv("YIELDMKT_PROTOCOL_EXPIRY_DIVISOR", "3600")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "simulate", cfg.Mode)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "3s", cfg.Server.ReadTimeout.String())
	assert.Equal(t, uint64(3600), cfg.Protocol.ExpiryDivisor)
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, "sim", cfg.Sources[0].ID)
	assert.Empty(t, cfg.Sources[0].Markets)
	assert.Equal(t, "1/7", cfg.Protocol.ProtocolFeeShare, "unset keys keep defaults")
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Governance.PrivateKey = "deadbeef"
	cfg.Postgres.Password = "secret"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Governance.PrivateKey)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Notify.DiscordWebhookURL)
	assert.Equal(t, "", out.Redis.Password)
	assert.Equal(t, "deadbeef", cfg.Governance.PrivateKey)

	out.Sources[0].Markets[0].Symbol = "changed"
	assert.NotEqual(t, "changed", cfg.Sources[0].Markets[0].Symbol)
}
