package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Formula selects how the two source prices are combined into one.
type Formula uint8

const (
	FormulaNone Formula = iota
	FormulaSum
	FormulaDivision
	FormulaPercent
)

var formulaNames = [...]string{
	FormulaNone:     "none",
	FormulaSum:      "sum",
	FormulaDivision: "division",
	FormulaPercent:  "percent",
}

func (f Formula) String() string {
	if int(f) < len(formulaNames) {
		return formulaNames[f]
	}
	return "formula(" + strconv.Itoa(int(f)) + ")"
}

// Valid reports whether f is one of the known formulas.
func (f Formula) Valid() bool { return int(f) < len(formulaNames) }

// ParseFormula accepts the canonical names plus the short aliases used in
// pair specs ("+", "/", "%", "summ", "div").
func ParseFormula(s string) (Formula, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return FormulaNone, nil
	case "sum", "summ", "+":
		return FormulaSum, nil
	case "division", "div", "/":
		return FormulaDivision, nil
	case "percent", "pct", "%":
		return FormulaPercent, nil
	}
	return FormulaNone, fmt.Errorf("unknown formula %q", s)
}

func (f Formula) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *Formula) UnmarshalText(b []byte) error {
	v, err := ParseFormula(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// PriceType picks the scalar taken from each raw source bar before the
// formula combines them.
type PriceType uint8

const (
	PriceClose PriceType = iota
	PriceOpen
	PriceHigh
	PriceLow
	PriceMedian   // (H+L)/2
	PriceTypical  // (H+L+C)/3
	PriceWeighted // (O+H+L+C)/4
)

var priceTypeNames = [...]string{
	PriceClose:    "Close",
	PriceOpen:     "Open",
	PriceHigh:     "High",
	PriceLow:      "Low",
	PriceMedian:   "Median",
	PriceTypical:  "Typical",
	PriceWeighted: "Weighted",
}

func (p PriceType) String() string {
	if int(p) < len(priceTypeNames) {
		return priceTypeNames[p]
	}
	return "PriceType(" + strconv.Itoa(int(p)) + ")"
}

func (p PriceType) Valid() bool { return int(p) < len(priceTypeNames) }

// ParsePriceType accepts names and the chart shorthands HL2, HLC3, OHLC4.
func ParsePriceType(s string) (PriceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "close", "c":
		return PriceClose, nil
	case "open", "o":
		return PriceOpen, nil
	case "high", "h":
		return PriceHigh, nil
	case "low", "l":
		return PriceLow, nil
	case "median", "hl2":
		return PriceMedian, nil
	case "typical", "hlc3":
		return PriceTypical, nil
	case "weighted", "ohlc4":
		return PriceWeighted, nil
	}
	return PriceClose, fmt.Errorf("unknown price type %q", s)
}

func (p PriceType) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *PriceType) UnmarshalText(b []byte) error {
	v, err := ParsePriceType(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Direction is the two-state trend tag attached to every emitted value.
// Rising emits the upper band, Falling the lower band.
type Direction int8

const (
	DirectionRising  Direction = 1
	DirectionFalling Direction = -1
)

func (d Direction) String() string {
	switch d {
	case DirectionRising:
		return "rising"
	case DirectionFalling:
		return "falling"
	}
	return "unknown"
}

// Color is the marker colour the chart host paints for this direction.
func (d Direction) Color() string {
	if d == DirectionFalling {
		return "green"
	}
	return "red"
}

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Direction) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "rising":
		*d = DirectionRising
	case "falling":
		*d = DirectionFalling
	default:
		*d = 0
	}
	return nil
}

// SourceID identifies which side of a pair a bar belongs to.
type SourceID uint8

const (
	SourceA SourceID = iota
	SourceB
)

func (s SourceID) String() string {
	if s == SourceB {
		return "B"
	}
	return "A"
}
