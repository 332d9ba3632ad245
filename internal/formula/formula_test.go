package formula

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/plb/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEvaluateArithmetic(t *testing.T) {
	ctx := Context{"BASE": d("1000"), "YQ": d("50"), "slab_percent": d("0.02")}

	tests := []struct {
		src  string
		want string
	}{
		{"1 + 2 * 3", "7"},
		{"(1 + 2) * 3", "9"},
		{"10 / 4", "2.5"},
		{"10 % 4", "2"},
		{"-7 % 3", "2"},
		{"2 ** 3 ** 2", "512"},
		{"-2 ** 2", "-4"},
		{"2 ^ 10", "1024"},
		{"2 ** -1", "0.5"},
		{"+5 - -5", "10"},
		{"payout_amount = (slab_percent) * (BASE + YQ)", "21"},
		{"BASE * 0.02", "20"},
		{"min(BASE, YQ, 70)", "50"},
		{"max(BASE, YQ)", "1000"},
		{"sum(BASE, YQ, 1)", "1051"},
		{"abs(YQ - BASE)", "950"},
		{"round(2.5)", "3"},
		{"round(-2.5)", "-3"},
		{"round(1.23456, 2)", "1.23"},
		{"amount_in_slab_on(BASE) * slab_percent", "20"},
		{"1 / 3", "0.3333"},
		{"2 / 3", "0.6667"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := EvaluateDetailed(tt.src, ctx)
			require.NoError(t, err)
			assert.True(t, d(tt.want).Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestEvaluateQuantizesHalfUp(t *testing.T) {
	got := Evaluate("0.00005 + 0", nil)
	assert.Equal(t, "0.0001", got.StringFixed(4))

	got = Evaluate("-0.00005 + 0", nil)
	assert.Equal(t, "-0.0001", got.StringFixed(4))
}

func TestEvaluateFailuresYieldZero(t *testing.T) {
	ctx := Context{"BASE": d("100")}
	for _, src := range []string{
		"BASE * missing_thing",
		"BASE +",
		"BASE / 0",
		"BASE % 0",
		"(BASE",
		"BASE $ 2",
		"",
		"min()",
		"abs(1, 2)",
	} {
		t.Run(src, func(t *testing.T) {
			assert.True(t, Evaluate(src, ctx).IsZero())
		})
	}

	_, err := EvaluateDetailed("BASE * nope", ctx)
	assert.ErrorIs(t, err, ErrMissingParameter)
}

func TestEvaluateRejectsOutOfRangeArguments(t *testing.T) {
	ctx := Context{"BASE": d("2")}

	done := make(chan decimal.Decimal, 1)
	go func() { done <- Evaluate("BASE ** 100000000", ctx) }()
	select {
	case got := <-done:
		assert.True(t, got.IsZero())
	case <-time.After(5 * time.Second):
		t.Fatal("huge exponent did not return")
	}

	for _, src := range []string{"BASE ** 1001", "BASE ** -1001", "round(BASE, 4294967297)", "round(BASE, -40)"} {
		t.Run(src, func(t *testing.T) {
			_, err := EvaluateDetailed(src, ctx)
			assert.ErrorIs(t, err, ErrOutOfRange)
		})
	}

	got, err := EvaluateDetailed("BASE ** 10", ctx)
	require.NoError(t, err)
	assert.True(t, got.Equal(d("1024")))

	got, err = EvaluateDetailed("round(1.23456, 32)", nil)
	require.NoError(t, err)
	assert.True(t, got.Equal(d("1.2346")))
}

func TestUnknownFunctionIsZero(t *testing.T) {
	got, err := EvaluateDetailed("BASE + mystery(BASE)", Context{"BASE": d("10")})
	require.NoError(t, err)
	assert.True(t, got.Equal(d("10")))
}

func TestParseResultNameAndParameters(t *testing.T) {
	f, err := Parse("payout = slab_percent * (BASE + YQ) + amount_in_slab_on(XT)")
	require.NoError(t, err)
	assert.Equal(t, "payout", f.Result)
	assert.Equal(t, []string{"BASE", "XT", "YQ", "slab_percent"}, f.Parameters())

	f, err = Parse("BASE")
	require.NoError(t, err)
	assert.Equal(t, "result", f.Result)
}

func TestValidate(t *testing.T) {
	ctx := Context{"BASE": d("1"), "YQ": d("2")}

	v := Validate("BASE + YQ", ctx)
	assert.True(t, v.Valid)
	assert.Empty(t, v.MissingParameters)
	assert.Equal(t, []string{"BASE", "YQ"}, v.AvailableParameters)

	v = Validate("BASE * slab_percent + cap_value", ctx)
	assert.False(t, v.Valid)
	assert.Equal(t, []string{"cap_value", "slab_percent"}, v.MissingParameters)
	assert.Contains(t, v.Error, "Missing parameters")

	v = Validate("BASE +* 2", ctx)
	assert.False(t, v.Valid)
	assert.NotEmpty(t, v.Error)
}

func TestBuildContext(t *testing.T) {
	hi := d("1000")
	rec := &domain.Record{Base: d("1500"), YQ: d("10"), Total: d("1600")}
	c := &domain.Contract{
		Payout: domain.PayoutSpec{
			Type:       domain.PayoutTiered,
			Components: []string{"BASE"},
			Capping:    &domain.Cap{Enabled: true, Value: d("25")},
		},
		Tiers: []domain.Tier{{Rows: []domain.TierRow{
			{Min: d("0"), Max: &hi, Value: d("1"), Unit: domain.UnitPercent},
			{Min: d("1000"), Value: d("2"), Unit: domain.UnitPercent},
		}}},
	}
	blp := d("7")
	c.BLPValue = &blp

	ctx := BuildContext(rec, c)
	assert.True(t, ctx["slab_percent"].Equal(d("0.02")))
	assert.True(t, ctx["tier_percent"].Equal(d("0.02")))
	assert.True(t, ctx["cap_value"].Equal(d("25")))
	assert.True(t, ctx["blp_value"].Equal(d("7")))
	assert.True(t, ctx["TOTAL"].Equal(d("1600")))

	got := Evaluate("min(slab_percent * BASE, cap_value)", ctx)
	assert.True(t, got.Equal(d("25")))

	flat := &domain.Contract{Payout: domain.PayoutSpec{Percentage: &blp}}
	assert.True(t, BuildContext(rec, flat)["slab_percent"].Equal(d("0.07")))

	_, ok := BuildContext(rec, &domain.Contract{})["slab_percent"]
	assert.False(t, ok)
}
