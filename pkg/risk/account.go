package risk

import (
	"github.com/shopspring/decimal"
)

// Account tracks realized equity for one run. Equity starts at zero and is the
// exact decimal sum of every realized amount; the balance adds the initial capital.
type Account struct {
	initialBalance decimal.Decimal
	equity         decimal.Decimal
	riskPct        float64
}

// NewAccount creates an account
func NewAccount(initialBalance, riskPct float64) *Account {
	return &Account{
		initialBalance: decimal.NewFromFloat(initialBalance),
		riskPct:        riskPct,
	}
}

// Apply books a realized amount
func (a *Account) Apply(pnl decimal.Decimal) {
	a.equity = a.equity.Add(pnl)
}

// Equity returns cumulative realized P&L
func (a *Account) Equity() decimal.Decimal {
	return a.equity
}

// InitialBalance returns the starting capital
func (a *Account) InitialBalance() decimal.Decimal {
	return a.initialBalance
}

// Balance returns initial capital plus realized P&L
func (a *Account) Balance() decimal.Decimal {
	return a.initialBalance.Add(a.equity)
}

// RiskAmount returns the amount risked per trade. It is a fixed fraction of the
// initial balance so trade sizes do not depend on earlier outcomes.
func (a *Account) RiskAmount() float64 {
	return a.initialBalance.InexactFloat64() * a.riskPct
}
