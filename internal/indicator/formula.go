package indicator

import "synthtrend/internal/model"

type combiner func(a, b, factorA, factorB float64) float64

// combiners is the closed dispatch table for model.Formula.
// The explicit float64 conversions keep the compiler from fusing
// multiply-add into FMA, which would change results in the last bit.
var combiners = [...]combiner{
	model.FormulaNone: func(_, _, _, _ float64) float64 { return 0 },
	model.FormulaSum: func(a, b, fa, fb float64) float64 {
		return float64(a*fa) + float64(b*fb)
	},
	model.FormulaDivision: func(a, b, fa, fb float64) float64 {
		return float64(a*fa) / float64(b*fb)
	},
	// Percent is ((a·fA − b·fB) / a) · fA · 100. factorA applies twice and
	// factorB never normalises the denominator; kept as the chart host
	// computes it.
	model.FormulaPercent: func(a, b, fa, fb float64) float64 {
		return (float64(a*fa) - float64(b*fb)) / a * fa * 100
	},
}

// Combine evaluates formula f over a and b scaled by their factors.
// Division by zero yields ±Inf or NaN per IEEE-754; nothing is trapped.
// Unknown formulas evaluate like FormulaNone.
func Combine(a, b, factorA, factorB float64, f model.Formula) float64 {
	if !f.Valid() {
		return 0
	}
	return combiners[f](a, b, factorA, factorB)
}

// Params bundles the formula settings of one pair.
type Params struct {
	Formula model.Formula
	FactorA float64
	FactorB float64
}

// Apply combines a and b under p.
func (p Params) Apply(a, b float64) float64 {
	return Combine(a, b, p.FactorA, p.FactorB, p.Formula)
}
