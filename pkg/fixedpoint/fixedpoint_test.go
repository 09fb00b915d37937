package fixedpoint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromIntToIntRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, -1, 62, -62, 1000} {
		require.Equal(t, n, FromInt(n).ToIntRound())
		require.Equal(t, n, FromInt(n).ToIntTrunc())
	}
}

func TestToIntRoundHalfAwayFromZero(t *testing.T) {
	// Exactly half a unit rounds away from zero for both signs, and just
	// under half rounds to zero, matching the sign-aware contract (bias by
	// +-f/2 before shifting).
	half := Fixed(f / 2)
	require.Equal(t, 1, half.ToIntRound())
	require.Equal(t, -1, half.Neg().ToIntRound())
	require.Equal(t, 0, Fixed(f/2-1).ToIntRound())
}

func TestMulDivWiden(t *testing.T) {
	a := FromInt(3)
	b := FromInt(4)
	require.Equal(t, 12, a.Mul(b).ToIntRound())
	require.Equal(t, 0, a.Div(b).ToIntTrunc()) // 3/4 truncates to 0
	require.InDelta(t, 0.75, float64(a.Div(b))/float64(f), 0.001)
}

func TestAddSubInt(t *testing.T) {
	a := FromInt(10)
	require.Equal(t, 15, a.AddInt(5).ToIntRound())
	require.Equal(t, 5, a.SubInt(5).ToIntRound())
}

func TestLoadAvgFormulaShape(t *testing.T) {
	// load_avg = (59/60)*load_avg + (1/60)*ready_threads
	fiftyNine60 := FromInt(59).Div(FromInt(60))
	one60 := FromInt(1).Div(FromInt(60))
	loadAvg := FromInt(0)
	loadAvg = fiftyNine60.Mul(loadAvg).Add(one60.MulInt(1))
	require.Greater(t, int64(loadAvg), int64(0))
}
