package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synthtrend/internal/indicator"
	"synthtrend/internal/model"
)

func TestParsePairs(t *testing.T) {
	pairs, err := ParsePairs("es-nq@300=CME:ES/CME:NQ:div:2:1:close:10:2.5; gold=COMEX:GC/COMEX:SI")
	require.NoError(t, err)
	require.Len(t, pairs, 2)

	assert.Equal(t, indicator.PairConfig{
		Name:      "es-nq",
		TF:        300,
		SourceA:   "CME:ES",
		SourceB:   "CME:NQ",
		Formula:   model.FormulaDivision,
		FactorA:   2,
		FactorB:   1,
		PriceType: model.PriceClose,
		ATRPeriod: 10,
		ATRFactor: 2.5,
	}, pairs[0])

	assert.Equal(t, indicator.PairConfig{
		Name:      "gold",
		TF:        60,
		SourceA:   "COMEX:GC",
		SourceB:   "COMEX:SI",
		Formula:   model.FormulaSum,
		FactorA:   1,
		FactorB:   1,
		PriceType: model.PriceMedian,
		ATRPeriod: indicator.DefaultATRPeriod,
		ATRFactor: indicator.DefaultATRFactor,
	}, pairs[1])
}

func TestParsePairs_SkipsEmptyFields(t *testing.T) {
	pairs, err := ParsePairs("x=A:1/B:2:%::3")
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, model.FormulaPercent, pairs[0].Formula)
	assert.Equal(t, 1.0, pairs[0].FactorA)
	assert.Equal(t, 3.0, pairs[0].FactorB)
}

func TestParsePairs_Errors(t *testing.T) {
	tests := []string{
		"no-equals",
		"x=A:1",
		"x=A:1/B",
		"x@abc=A:1/B:2",
		"x=A:1/B:2:bogus",
		"x=A:1/B:2:sum:1:1:close:14:3:extra",
	}
	for _, in := range tests {
		_, err := ParsePairs(in)
		assert.Error(t, err, in)
		assert.True(t, errors.Is(err, ErrInvalid), in)
	}
}

func TestLoad_YAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "synth.yaml")
	yml := strings.Join([]string{
		"redis_addr: redis:6379",
		"snapshot_interval: 10s",
		"pairs:",
		"  - name: es-nq",
		"    tf: 60",
		"    source_a: CME:ES",
		"    source_b: CME:NQ",
		"    formula: division",
		"    price_type: hlc3",
		"",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	t.Setenv("SYNTH_REDIS_ADDR", "override:6380")
	t.Setenv("SYNTH_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "override:6380", cfg.RedisAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.SnapshotInterval)
	assert.True(t, strings.HasPrefix(cfg.ConsumerName, "indengine-"))
	require.Len(t, cfg.Pairs, 1)
	assert.Equal(t, model.FormulaDivision, cfg.Pairs[0].Formula)
	assert.Equal(t, model.PriceTypical, cfg.Pairs[0].PriceType)
	assert.Equal(t, indicator.DefaultATRPeriod, cfg.Pairs[0].ATRPeriod)
	assert.Equal(t, []int{60}, cfg.TFs())
}

func TestLoad_PairsFromEnv(t *testing.T) {
	t.Setenv("SYNTH_PAIRS", "a=X:1/X:2;b@300=X:1/X:3")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Len(t, cfg.Pairs, 2)
	assert.Equal(t, []int{60, 300}, cfg.TFs())
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("SYNTH_PAIRS", "")
	t.Setenv("SYNTH_SNAPSHOT_INTERVAL", "soon")

	_, err := Load("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
	assert.Contains(t, err.Error(), "SNAPSHOT_INTERVAL")
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	c := Default()
	c.RedisAddr = ""
	c.SnapshotInterval = 0

	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis_addr")
	assert.Contains(t, err.Error(), "snapshot_interval")
	assert.Contains(t, err.Error(), "no pairs")
}

func TestDefault_UniqueConsumerNames(t *testing.T) {
	assert.NotEqual(t, Default().ConsumerName, Default().ConsumerName)
}
