//go:build property
// +build property

// Package finance_test contains property-based tests for Money arithmetic.
package finance_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/packforge/distro/pkg/finance"
)

// TestMoneyAddCommutative verifies a.Add(b) == b.Add(a) for same-currency amounts.
// Property: commission splits and balance accrual never depend on operand order.
func TestMoneyAddCommutative(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Money.Add is commutative for same-currency amounts", prop.ForAll(
		func(a, b int64) bool {
			m1 := finance.NewMoney(a, "USD")
			m2 := finance.NewMoney(b, "USD")

			sum1, err1 := m1.Add(m2)
			sum2, err2 := m2.Add(m1)
			if err1 != nil || err2 != nil {
				return false
			}
			return sum1 == sum2
		},
		gen.Int64Range(-1_000_000_000, 1_000_000_000),
		gen.Int64Range(-1_000_000_000, 1_000_000_000),
	))

	properties.TestingRun(t)
}

// TestMoneyAddSubRoundTrip verifies a.Add(b).Sub(b) == a.
// Property: crediting then debiting the same amount is a no-op.
func TestMoneyAddSubRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Add followed by Sub of the same amount is a no-op", prop.ForAll(
		func(a, b int64) bool {
			m := finance.NewMoney(a, "USD")
			delta := finance.NewMoney(b, "USD")

			credited, err := m.Add(delta)
			if err != nil {
				return false
			}
			debited, err := credited.Sub(delta)
			if err != nil {
				return false
			}
			return debited == m
		},
		gen.Int64Range(-1_000_000_000, 1_000_000_000),
		gen.Int64Range(-1_000_000_000, 1_000_000_000),
	))

	properties.TestingRun(t)
}

// TestMoneyAddRejectsCurrencyMismatch verifies Add errors whenever
// currencies differ, regardless of amount.
func TestMoneyAddRejectsCurrencyMismatch(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("Add errors on currency mismatch", prop.ForAll(
		func(a, b int64) bool {
			usd := finance.NewMoney(a, "USD")
			eur := finance.NewMoney(b, "EUR")
			_, err := usd.Add(eur)
			return err != nil
		},
		gen.Int64Range(-1_000_000, 1_000_000),
		gen.Int64Range(-1_000_000, 1_000_000),
	))

	properties.TestingRun(t)
}
