package cashback

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func price(v int64) *int64 { return &v }

func TestCalculate(t *testing.T) {
	cases := []struct {
		name  string
		lines []Line
		rate  int
		want  int64
	}{
		{
			name:  "full margin",
			lines: []Line{{RetailPrice: 50000, ResellerPrice: price(45000), Quantity: 2}},
			rate:  100,
			want:  10000,
		},
		{
			name:  "half rate floors",
			lines: []Line{{RetailPrice: 1001, ResellerPrice: price(1000), Quantity: 1}},
			rate:  50,
			want:  0,
		},
		{
			name: "negative margin clamps to zero per line",
			lines: []Line{
				{RetailPrice: 100, ResellerPrice: price(150), Quantity: 3},
				{RetailPrice: 300, ResellerPrice: price(200), Quantity: 1},
			},
			rate: 100,
			want: 100,
		},
		{
			name:  "no reseller price",
			lines: []Line{{RetailPrice: 100, Quantity: 1}},
			rate:  100,
			want:  0,
		},
		{
			name:  "zero rate",
			lines: []Line{{RetailPrice: 500, ResellerPrice: price(100), Quantity: 1}},
			rate:  0,
			want:  0,
		},
		{
			name:  "fractional result floors",
			lines: []Line{{RetailPrice: 333, ResellerPrice: price(300), Quantity: 1}},
			rate:  33,
			want:  10,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Calculate(tc.lines, tc.rate))
		})
	}
}

func TestPointsFor(t *testing.T) {
	require.EqualValues(t, 0, PointsFor(50000, 0))
	require.EqualValues(t, 500, PointsFor(50000, 1))
	require.EqualValues(t, 0, PointsFor(99, 1))
}
