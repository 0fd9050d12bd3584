package generic_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/care-billing/generic"
)

func dec(s string) generic.Decimal { return generic.MustDecimal(s) }

// =============================================================================
// EXACTNESS TESTS
// =============================================================================

func TestDecimal_ThousandCents_SumsExactly(t *testing.T) {
	// GIVEN: 1000 values of 0.01
	// WHEN: Summed one at a time
	// THEN: The total renders as exactly 10.00

	total := generic.Zero
	for i := 0; i < 1000; i++ {
		total = total.Add(dec("0.01"))
	}

	assert.Equal(t, "10.00", total.StringFixed(2))
	assert.True(t, total.Equal(generic.NewDecimalFromInt(10)))
}

func TestDecimal_TenthsSequence_SumsExactly(t *testing.T) {
	// GIVEN: 0.10 and 0.20 alternating, 100 values
	// WHEN: Summed
	// THEN: The total is exactly 15.00, not 14.999999999999998

	steps := []generic.Decimal{dec("0.10"), dec("0.20")}
	var values []generic.Decimal
	for i := 0; i < 100; i++ {
		values = append(values, steps[i%2])
	}

	total := generic.Sum(values...)

	assert.Equal(t, "15.00", total.StringFixed(2))
	assert.True(t, total.Equal(generic.NewDecimalFromInt(15)))
}

func TestDecimal_PointOnePlusPointTwo(t *testing.T) {
	assert.True(t, dec("0.1").Add(dec("0.2")).Equal(dec("0.3")))
	assert.Equal(t, "0.3", dec("0.1").Add(dec("0.2")).String())
}

func TestDecimal_EqualIgnoresScale(t *testing.T) {
	assert.True(t, dec("0.30").Equal(dec("0.3")))
	assert.Equal(t, dec("0.30").String(), dec("0.3").String())
}

// =============================================================================
// DIVISION TESTS
// =============================================================================

func TestDecimal_DivideByZero_Fails(t *testing.T) {
	_, err := dec("52").Div(generic.Zero)
	assert.ErrorIs(t, err, generic.ErrDivisionByZero)
}

func TestDecimal_Divide(t *testing.T) {
	q, err := dec("52.75").Div(dec("1.055"))
	require.NoError(t, err)
	assert.Equal(t, "50.00", q.StringFixed(2))
}

func TestDecimal_Comparisons(t *testing.T) {
	a, b := dec("1.5"), dec("2")

	assert.True(t, a.LessThan(b))
	assert.True(t, b.GreaterThan(a))
	assert.False(t, a.Equal(b))
	assert.Equal(t, a, a.Min(b))
	assert.Equal(t, b, a.Max(b))
}

func TestDecimal_Percent(t *testing.T) {
	assert.Equal(t, "6.00", dec("20").Percent(dec("30")).StringFixed(2))
}

func TestDecimal_MinutesOf(t *testing.T) {
	assert.True(t, generic.MinutesOf(90*time.Minute).Equal(dec("90")))
	assert.True(t, generic.MinutesOf(30*time.Second).Equal(dec("0.5")))
}

func TestDecimal_NewDecimal_Rejects(t *testing.T) {
	_, err := generic.NewDecimal("12,5")
	assert.Error(t, err)
}

// =============================================================================
// ENCODING TESTS
// =============================================================================

func TestDecimal_JSON(t *testing.T) {
	var payload struct {
		Price generic.Decimal `json:"price"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"price":"20.50"}`), &payload))
	assert.True(t, payload.Price.Equal(dec("20.5")))

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"price":"20.5"}`, string(out))
}

func TestDecimal_Scan(t *testing.T) {
	var d generic.Decimal

	require.NoError(t, d.Scan([]byte("12.34")))
	assert.True(t, d.Equal(dec("12.34")))

	require.NoError(t, d.Scan(int64(7)))
	assert.True(t, d.Equal(dec("7")))

	require.NoError(t, d.Scan(nil))
	assert.True(t, d.IsZero())

	assert.Error(t, d.Scan(1.5))
}
