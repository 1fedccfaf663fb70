package model

import (
	"bytes"
	"math"
	"strconv"
)

// Float is a float64 that survives a JSON round trip even when it holds NaN
// or ±Inf. Uninitialised indicator slots are NaN and division formulas can
// produce infinities, neither of which encoding/json accepts.
//
// Encoding: finite → number, NaN → null, +Inf → "+Inf", -Inf → "-Inf".
type Float float64

// NaN returns the not-a-number sentinel used for "no value yet".
func NaN() Float { return Float(math.NaN()) }

// Valid reports whether f is a finite number.
func (f Float) Valid() bool {
	v := float64(f)
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte("null"), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func (f *Float) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = NaN()
		return nil
	}
	if len(data) > 1 && data[0] == '"' {
		data = data[1 : len(data)-1]
	}
	switch string(data) {
	case "NaN", "":
		*f = NaN()
		return nil
	case "+Inf", "Inf":
		*f = Float(math.Inf(1))
		return nil
	case "-Inf":
		*f = Float(math.Inf(-1))
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// Floats converts raw values for serialisation.
func Floats(values []float64) []Float {
	out := make([]Float, len(values))
	for i, v := range values {
		out[i] = Float(v)
	}
	return out
}

// Float64s converts serialised values back to raw float64s.
func Float64s(values []Float) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}
