package progress

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAverage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		num  ValueRange
		den  Range
		want float64
	}{
		{name: "half", num: ValueRange{0, 50}, den: Range{0, 100}, want: 0.5},
		{name: "offset ranges", num: ValueRange{10, 40}, den: Range{200, 260}, want: 0.5},
		{name: "zero delta", num: ValueRange{3, 9}, den: Range{10, 10}, want: 0},
		{name: "zero everything", want: 0},
		{name: "backwards denominator", num: ValueRange{0, 1}, den: Range{5, 2}, want: 0},
		{name: "negative numerator", num: ValueRange{4, 1}, den: Range{0, 3}, want: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, Average(tt.num, tt.den))
		})
	}
}

func TestAverageIsExactQuotient(t *testing.T) {
	t.Parallel()

	for _, c := range []struct {
		a, b float64
		c, d uint64
	}{
		{0, 1, 0, 3},
		{1.5, 7.25, 11, 18},
		{-2, 2, 1, 1 << 20},
	} {
		require.Equal(t, (c.b-c.a)/float64(c.d-c.c), Average(ValueRange{c.a, c.b}, Range{c.c, c.d}))
	}
}

func TestAverageSum(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0.0, AverageSum(12, 0))
	require.Equal(t, 0.25, AverageSum(25, 100))
	require.Equal(t, 0.0, AverageSum(0, 7))
}
