package accounting

import (
	"errors"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/cpl/auction-engine/internal/league"
	"github.com/cpl/auction-engine/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNewTeam_DefaultsToLeagueBudget(t *testing.T) {
	rules := league.Default()
	team, err := NewTeam("CPL-T1", "Strikers", "", decimal.Zero, rules)
	assert.NoError(t, err)

	check.True(t, team.TotalAmount.Equal(rules.TeamBudget))
	check.True(t, team.ExpendedAmount.IsZero())
	check.True(t, team.BalanceAmount.Equal(rules.TeamBudget))
	check.NotEqual(t, "", team.ID)
}

func TestNewTeam_Invalid(t *testing.T) {
	rules := league.Default()

	_, err := NewTeam("", "Strikers", "", decimal.Zero, rules)
	check.True(t, errors.Is(err, ErrInvalidEntity))

	_, err = NewTeam("CPL-T1", "Strikers", "", d("-5"), rules)
	check.True(t, errors.Is(err, ErrInvalidAmount))
}

func TestNewPlayer_BasicAmountFromCategory(t *testing.T) {
	rules := league.Default()

	tests := []struct {
		name       string
		isExternal bool
		want       decimal.Decimal
	}{
		{"internal player", false, rules.InternalBasic},
		{"external player", true, rules.ExternalBasic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPlayer("CPL-P1", "Asha", model.RoleBatter, tt.isExternal, rules)
			assert.NoError(t, err)
			check.True(t, p.BasicAmount.Equal(tt.want))
			check.False(t, p.IsSold)
		})
	}
}

func TestNewPlayer_UnknownRole(t *testing.T) {
	_, err := NewPlayer("CPL-P1", "Asha", model.Role("captain"), false, league.Default())
	check.True(t, errors.Is(err, ErrInvalidEntity))
}

func TestRecomputePlayer_DiscardsCallerValue(t *testing.T) {
	rules := league.Default()
	p := &model.Player{IsExternal: true, BasicAmount: d("1")}
	RecomputePlayer(p, rules)
	check.True(t, p.BasicAmount.Equal(rules.ExternalBasic))
}

func TestSpendAndRefund_KeepBalanceExact(t *testing.T) {
	team := &model.Team{TotalAmount: d("100000.00")}
	RecomputeTeam(team)

	amounts := []string{"0.10", "0.20", "3333.33", "12500.07"}
	for _, a := range amounts {
		assert.NoError(t, Spend(team, d(a)))
		check.True(t, team.BalanceAmount.Equal(team.TotalAmount.Sub(team.ExpendedAmount)))
	}
	check.True(t, team.ExpendedAmount.Equal(d("15833.70")))
	check.True(t, team.BalanceAmount.Equal(d("84166.30")))

	for _, a := range amounts {
		assert.NoError(t, Refund(team, d(a)))
	}
	check.True(t, team.ExpendedAmount.IsZero())
	check.True(t, team.BalanceAmount.Equal(d("100000")))
}

func TestRefund_MoreThanExpended(t *testing.T) {
	team := &model.Team{TotalAmount: d("1000"), ExpendedAmount: d("100")}
	RecomputeTeam(team)

	err := Refund(team, d("100.01"))
	check.True(t, errors.Is(err, ErrInvalidAmount))
	check.True(t, team.ExpendedAmount.Equal(d("100")))
}

func TestSpend_NonPositive(t *testing.T) {
	team := &model.Team{TotalAmount: d("1000")}
	check.True(t, errors.Is(Spend(team, decimal.Zero), ErrInvalidAmount))
}
