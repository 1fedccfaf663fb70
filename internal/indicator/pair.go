package indicator

import (
	"errors"
	"fmt"

	"synthtrend/internal/model"
)

// Defaults applied by PairConfig.WithDefaults.
const (
	DefaultATRPeriod = 14
	DefaultATRFactor = 3.0
	DefaultFactor    = 1.0
	// DefaultMaxBarGap caps how far one report may move a pair's bar count.
	DefaultMaxBarGap = 1 << 20
)

// PairConfig describes one synthetic pair: which two sources feed it and how
// they are combined.
type PairConfig struct {
	Name      string          `yaml:"name" json:"name"`
	TF        int             `yaml:"tf" json:"tf"`             // timeframe in seconds
	SourceA   string          `yaml:"source_a" json:"source_a"` // "exchange:symbol"
	SourceB   string          `yaml:"source_b" json:"source_b"`
	Formula   model.Formula   `yaml:"formula" json:"formula"`
	FactorA   float64         `yaml:"factor_a" json:"factor_a"`
	FactorB   float64         `yaml:"factor_b" json:"factor_b"`
	PriceType model.PriceType `yaml:"price_type" json:"price_type"`
	ATRPeriod int             `yaml:"atr_period" json:"atr_period"`
	ATRFactor float64         `yaml:"atr_factor" json:"atr_factor"`
	// MaxBarGap bounds barIndex+1-count for one report; 0 means DefaultMaxBarGap.
	MaxBarGap int             `yaml:"max_bar_gap,omitempty" json:"max_bar_gap,omitempty"`
}

// WithDefaults fills zero numeric fields. A zero Formula means None, so an
// unset formula stays unset.
func (c PairConfig) WithDefaults() PairConfig {
	if c.FactorA == 0 {
		c.FactorA = DefaultFactor
	}
	if c.FactorB == 0 {
		c.FactorB = DefaultFactor
	}
	if c.ATRPeriod == 0 {
		c.ATRPeriod = DefaultATRPeriod
	}
	if c.ATRFactor == 0 {
		c.ATRFactor = DefaultATRFactor
	}
	return c
}

// Params returns the formula part of the config.
func (c PairConfig) Params() Params {
	return Params{Formula: c.Formula, FactorA: c.FactorA, FactorB: c.FactorB}
}

// Configured reports whether both sources are set.
func (c PairConfig) Configured() bool {
	return c.SourceA != "" && c.SourceB != ""
}

// SameSources reports whether o reads the same sources on the same timeframe.
func (c PairConfig) SameSources(o PairConfig) bool {
	return c.TF == o.TF && c.SourceA == o.SourceA && c.SourceB == o.SourceB
}

func (c PairConfig) barGap() int {
	if c.MaxBarGap > 0 {
		return c.MaxBarGap
	}
	return DefaultMaxBarGap
}

// ErrInvalidPair is wrapped by every Validate failure.
var ErrInvalidPair = errors.New("invalid pair config")

// Validate checks a config that is about to be loaded into an engine.
func (c PairConfig) Validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidPair)
	case c.TF <= 0:
		return fmt.Errorf("%w: %s: tf=%d must be positive", ErrInvalidPair, c.Name, c.TF)
	case !c.Formula.Valid():
		return fmt.Errorf("%w: %s: %s", ErrInvalidPair, c.Name, c.Formula)
	case !c.PriceType.Valid():
		return fmt.Errorf("%w: %s: %s", ErrInvalidPair, c.Name, c.PriceType)
	case !(c.FactorA > 0) || !(c.FactorB > 0):
		return fmt.Errorf("%w: %s: factors must be positive (a=%g b=%g)", ErrInvalidPair, c.Name, c.FactorA, c.FactorB)
	case c.ATRPeriod < 1:
		return fmt.Errorf("%w: %s: atr_period=%d must be >= 1", ErrInvalidPair, c.Name, c.ATRPeriod)
	case !(c.ATRFactor > 0):
		return fmt.Errorf("%w: %s: atr_factor=%g must be positive", ErrInvalidPair, c.Name, c.ATRFactor)
	case c.MaxBarGap < 0:
		return fmt.Errorf("%w: %s: max_bar_gap=%d must not be negative", ErrInvalidPair, c.Name, c.MaxBarGap)
	}
	return nil
}

// ShortName renders the pair the way chart legends show it, naming each
// source by its "exchange:symbol" key.
func (c PairConfig) ShortName() string {
	const base = "SuperTrendSynth"
	switch {
	case c.SourceA == "" && c.SourceB == "":
		return base + " Symbols not set"
	case c.SourceA == "":
		return base + " A symbol not set"
	case c.SourceB == "":
		return base + " B symbol not set"
	}

	pt := c.PriceType.String()
	a := fmt.Sprintf("%g * %s[%s]", c.FactorA, c.SourceA, pt)
	b := fmt.Sprintf("%g * %s[%s]", c.FactorB, c.SourceB, pt)
	switch c.Formula {
	case model.FormulaDivision:
		return base + " Formula: " + a + " / " + b
	case model.FormulaPercent:
		return base + " Formula: (" + a + " - " + b + ") / " + a + " * 100"
	case model.FormulaSum:
		return base + " Formula: " + a + " + " + b
	}
	return base + " Formula: not set"
}

// MinHistoryDepth is the number of bars the pair needs before tracking.
func (c PairConfig) MinHistoryDepth() int { return c.ATRPeriod + 2 }
