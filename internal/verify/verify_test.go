package verify

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"marketfeed/internal/provider"
)

func samples(prices ...float64) []provider.Sample {
	out := make([]provider.Sample, len(prices))
	for i, p := range prices {
		out[i] = provider.Sample{Source: string(rune('a' + i)), Price: p}
	}
	return out
}

func TestCompare_Pairwise(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		in    []float64
		pct   float64
		grade provider.Grade
	}{
		{"tight", []float64{100, 100.5}, 0.5, provider.GradeHigh},
		{"wide", []float64{100, 105}, 5, provider.GradeLow},
		{"medium", []float64{100, 102}, 2, provider.GradeMedium},
		{"exactly one percent", []float64{100, 101}, 1, provider.GradeMedium},
		{"exactly three percent", []float64{100, 103}, 3, provider.GradeLow},
		{"order does not matter", []float64{105, 100}, 5, provider.GradeLow},
	}
	e := New(DefaultThresholds())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			v := e.Compare(samples(tc.in...))

			require.Equal(t, 2, v.SourcesCompared)
			require.Equal(t, tc.pct, v.DiscrepancyPct)
			require.Equal(t, tc.grade, v.Grade)
			require.Equal(t, math.Max(tc.in[0], tc.in[1]), v.MaxPrice)
			require.Equal(t, math.Min(tc.in[0], tc.in[1]), v.MinPrice)
		})
	}
}

func TestCompare_ManySourcesUsesDeviationFromAverage(t *testing.T) {
	t.Parallel()

	// avg = 100, max |p-avg| = 2
	v := New(DefaultThresholds()).Compare(samples(98, 100, 102))

	require.Equal(t, 3, v.SourcesCompared)
	require.Equal(t, 100.0, v.AveragePrice)
	require.Equal(t, 2.0, v.DiscrepancyPct)
	require.Equal(t, provider.GradeMedium, v.Grade)
}

func TestCompare_SingleAndFiltered(t *testing.T) {
	t.Parallel()

	e := New(Thresholds{})
	v := e.Compare(samples(0, 250, -1, math.NaN()))
	require.Equal(t, 1, v.SourcesCompared)
	require.Equal(t, provider.GradeSingleSource, v.Grade)
	require.Equal(t, 250.0, v.AveragePrice)

	v = e.Compare(nil)
	require.Zero(t, v.SourcesCompared)
	require.Equal(t, provider.GradeSingleSource, v.Grade)
}

func TestCompare_CustomThresholds(t *testing.T) {
	t.Parallel()

	v := New(Thresholds{HighBelow: 10, MediumBelow: 20}).Compare(samples(100, 105))
	require.Equal(t, provider.GradeHigh, v.Grade)
}

func TestSingle(t *testing.T) {
	t.Parallel()

	v := Single("coincap", 42)
	require.Equal(t, provider.GradeSingleSource, v.Grade)
	require.Equal(t, []provider.Sample{{Source: "coincap", Price: 42}}, v.Samples)
}
