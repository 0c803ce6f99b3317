package fee

import (
	"testing"

	"github.com/ayo6706/ilp-connector/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var usd = domain.NewAssetID("USD")

func onePercent(t *testing.T) *PercentageCalculator {
	t.Helper()
	c, err := NewPercentageCalculator(Schedule{Rate: decimal.RequireFromString("0.01"), Scale: 2}, nil)
	require.NoError(t, err)
	return c
}

func TestComputeFee(t *testing.T) {
	c := onePercent(t)

	fee, net := c.ComputeFee(usd, decimal.NewFromInt(100))
	assert.Equal(t, "1.00", fee.StringFixed(2))
	assert.Equal(t, "99.00", net.StringFixed(2))

	// 1% of 0.50 is 0.005, rounded up to the asset's scale.
	fee, net = c.ComputeFee(usd, decimal.RequireFromString("0.50"))
	assert.Equal(t, "0.01", fee.StringFixed(2))
	assert.Equal(t, "0.49", net.StringFixed(2))
}

func TestComputeFeeIsDeterministic(t *testing.T) {
	c := onePercent(t)
	amount := decimal.RequireFromString("1234.56")
	f1, n1 := c.ComputeFee(usd, amount)
	f2, n2 := c.ComputeFee(usd, amount)
	require.True(t, f1.Equal(f2))
	require.True(t, n1.Equal(n2))
	require.True(t, n1.Add(f1).Equal(amount))
}

func TestComputeFeeMinimumAndCap(t *testing.T) {
	c, err := NewPercentageCalculator(
		Schedule{Rate: decimal.Zero, Scale: 2},
		map[domain.AssetID]Schedule{
			usd: {Rate: decimal.RequireFromString("0.001"), Minimum: decimal.RequireFromString("0.25"), Scale: 2},
		},
	)
	require.NoError(t, err)

	fee, _ := c.ComputeFee(usd, decimal.NewFromInt(10))
	assert.Equal(t, "0.25", fee.StringFixed(2))

	fee, net := c.ComputeFee(usd, decimal.RequireFromString("0.10"))
	assert.Equal(t, "0.10", fee.StringFixed(2))
	assert.True(t, net.IsZero())

	fee, _ = c.ComputeFee(domain.NewAssetID("EUR"), decimal.NewFromInt(10))
	assert.True(t, fee.IsZero())
}

func TestGrossUpCoversNet(t *testing.T) {
	c := onePercent(t)
	for _, s := range []string{"99", "0.01", "1", "57.33", "1000000"} {
		net := decimal.RequireFromString(s)
		gross := c.GrossUp(usd, net)
		_, got := c.ComputeFee(usd, gross)
		require.True(t, got.GreaterThanOrEqual(net), "net %s gross %s", s, gross)

		smaller := gross.Sub(decimal.RequireFromString("0.01"))
		_, less := c.ComputeFee(usd, smaller)
		require.True(t, less.LessThan(net), "gross %s is not minimal for %s", gross, s)
	}
	assert.Equal(t, "100.00", c.GrossUp(usd, decimal.NewFromInt(99)).StringFixed(2))
}

func TestInvalidSchedule(t *testing.T) {
	_, err := NewPercentageCalculator(Schedule{Rate: decimal.NewFromInt(1)}, nil)
	require.Error(t, err)
	_, err = NewPercentageCalculator(Schedule{Rate: decimal.Zero, Minimum: decimal.NewFromInt(-1)}, nil)
	require.Error(t, err)
}

func TestReversalNeverCharges(t *testing.T) {
	var c Calculator = Reversal{}
	fee, net := c.ComputeFee(usd, decimal.NewFromInt(100))
	assert.True(t, fee.IsZero())
	assert.True(t, net.Equal(decimal.NewFromInt(100)))
	assert.True(t, c.GrossUp(usd, decimal.NewFromInt(5)).Equal(decimal.NewFromInt(5)))
}
