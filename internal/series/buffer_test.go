package series

import (
	"math"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filled(policy FillPolicy, values ...float64) *Buffer {
	b := New(policy)
	b.Load(values)
	return b
}

func TestBuffer_GetOutOfRange(t *testing.T) {
	b := New(FillHoldLast)
	assert.True(t, math.IsNaN(b.Get(0)), "empty buffer read")

	b.Resize(3)
	for _, o := range []int{3, 4, 100, -1} {
		assert.Truef(t, math.IsNaN(b.Get(o)), "offset %d should read NaN", o)
	}
}

func TestBuffer_OffsetSemantics(t *testing.T) {
	b := filled(FillHoldLast, 1, 2, 3)

	assert.Equal(t, 3.0, b.Get(0))
	assert.Equal(t, 2.0, b.Get(1))
	assert.Equal(t, 1.0, b.Get(2))
}

func TestBuffer_SetOutOfRangeIsDropped(t *testing.T) {
	b := filled(FillHoldLast, 1, 2)
	b.Set(99, 2)
	b.Set(99, -1)

	if diff := cmp.Diff([]float64{1, 2}, b.Values()); diff != "" {
		t.Errorf("values changed (-want +got):\n%s", diff)
	}

	empty := New(FillNaN)
	empty.Set(5, 0)
	assert.Equal(t, 0, empty.Len())
}

func TestBuffer_SetWritesFromTail(t *testing.T) {
	b := filled(FillHoldLast, 1, 2, 3)
	b.Set(30, 0)
	b.Set(10, 2)

	assert.Equal(t, []float64{10, 2, 30}, b.Values())
}

func TestBuffer_GrowHoldLast(t *testing.T) {
	b := filled(FillHoldLast, 4, 7)
	b.Resize(5)

	require.Equal(t, 5, b.Len())
	assert.Equal(t, []float64{4, 7, 7, 7, 7}, b.Values())
}

func TestBuffer_GrowFromEmptyIsNaN(t *testing.T) {
	for _, policy := range []FillPolicy{FillHoldLast, FillNaN} {
		b := New(policy)
		b.Resize(3)

		want := []float64{math.NaN(), math.NaN(), math.NaN()}
		if diff := cmp.Diff(want, b.Values(), cmpopts.EquateNaNs()); diff != "" {
			t.Errorf("%s: (-want +got):\n%s", policy, diff)
		}
	}
}

func TestBuffer_GrowNaNPolicy(t *testing.T) {
	b := filled(FillNaN, 4, 7)
	b.Resize(4)

	want := []float64{4, 7, math.NaN(), math.NaN()}
	if diff := cmp.Diff(want, b.Values(), cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

// Shrinking is positional: with duplicate values a value-based removal would
// delete the first match instead of the tail slot.
func TestBuffer_ShrinkIsPositional(t *testing.T) {
	b := filled(FillHoldLast, 5, 1, 5, 2, 5)
	b.Resize(3)

	assert.Equal(t, []float64{5, 1, 5}, b.Values())

	b.Resize(0)
	assert.Equal(t, 0, b.Len())
	assert.True(t, math.IsNaN(b.Get(0)))
}

func TestBuffer_ShrinkThenGrowHoldsNewLast(t *testing.T) {
	b := filled(FillHoldLast, 1, 2, 3, 4)
	b.Resize(2)
	b.Resize(4)

	assert.Equal(t, []float64{1, 2, 2, 2}, b.Values())
}

func TestBuffer_NegativeResize(t *testing.T) {
	b := filled(FillHoldLast, 1, 2)
	b.Resize(-3)
	assert.Equal(t, 0, b.Len())
}

func TestBuffer_ValuesIsCopy(t *testing.T) {
	b := filled(FillHoldLast, 1, 2)
	v := b.Values()
	v[0] = 100

	assert.Equal(t, 1.0, b.Get(1))
}

func TestBuffer_ConcurrentAccess(t *testing.T) {
	b := New(FillHoldLast)
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 1; i <= 500; i++ {
				b.Resize(i)
				b.Set(float64(w), 0)
				_ = b.Get(1)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 500, b.Len())
}
