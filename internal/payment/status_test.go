package payment

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestResolve(t *testing.T) {
	cases := []struct {
		name   string
		total  string
		paid   string
		due    string
		status Status
	}{
		{"unpaid", "100.00", "0", "100.00", StatusDue},
		{"partial", "100.00", "40.50", "59.50", StatusPartial},
		{"exact", "100.00", "100.00", "0", StatusPaid},
		{"overpaid", "100.00", "120.00", "-20.00", StatusPaid},
		{"zero total", "0", "0", "0", StatusPaid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			due, status := Resolve(d(tc.total), d(tc.paid))
			require.True(t, due.Equal(d(tc.due)), "due %s", due)
			require.Equal(t, tc.status, status)

			// idempotent
			due2, status2 := Resolve(d(tc.total), d(tc.paid))
			require.True(t, due.Equal(due2))
			require.Equal(t, status, status2)
		})
	}
}

func TestDeriveCreditStatusAndBalance(t *testing.T) {
	require.Equal(t, CreditActive, DeriveCreditStatus(d("50"), d("0")))
	require.Equal(t, CreditPartiallyPaid, DeriveCreditStatus(d("50"), d("10")))
	require.Equal(t, CreditPaid, DeriveCreditStatus(d("50"), d("50")))
	require.True(t, Balance(d("50"), d("70")).IsZero())
	require.True(t, Balance(d("50"), d("20")).Equal(d("30")))
}

func TestTransitions(t *testing.T) {
	_, err := Transition(CreditActive, CreditPaid)
	require.NoError(t, err)
	_, err = Transition(CreditPaid, CreditPartiallyPaid)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = Transition(CreditCancelled, CreditActive)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.True(t, CanTransition(CreditOverdue, CreditPaid))
	require.True(t, CanTransition(CreditPaid, CreditCancelled))
}
