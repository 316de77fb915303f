package domain_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func TestToMinorUnits_RoundsHalfToEven(t *testing.T) {
	cases := []struct {
		amount string
		want   int64
	}{
		{"1100", 110000},
		{"19.99", 1999},
		{"0.125", 12},
		{"0.135", 14},
		{"10.005", 1000},
		{"10.015", 1002},
		{"4.999", 500},
	}

	for _, tc := range cases {
		t.Run(tc.amount, func(t *testing.T) {
			require.Equal(t, tc.want, domain.ToMinorUnits(decimal.RequireFromString(tc.amount)))
		})
	}
}

func TestFromMinorUnits(t *testing.T) {
	require.True(t, decimal.RequireFromString("19.99").Equal(domain.FromMinorUnits(1999)))
}
