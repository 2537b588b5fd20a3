package domain

import "time"

// CapitalState tracks the trading capital.
// Balance changes only on realized pnl and withdrawals. SessionWithdrawn counts
// withdrawals taken against the current baseline, while TotalWithdrawn also
// carries amounts restored from earlier runs.
type CapitalState struct {
	Balance          float64 `json:"balance"`
	InitialBalance   float64 `json:"initialBalance"`
	TotalWithdrawn   float64 `json:"totalWithdrawn"`
	SessionWithdrawn float64 `json:"sessionWithdrawn"`
}

// Profit is the absolute profit over the baseline.
func (c CapitalState) Profit() float64 {
	return c.Balance - c.InitialBalance
}

// ProfitPct is the profit as a fraction of the baseline.
func (c CapitalState) ProfitPct() float64 {
	if c.InitialBalance == 0 {
		return 0
	}
	return (c.Balance - c.InitialBalance) / c.InitialBalance
}

// ApplyPnl books a realized pnl amount.
func (c *CapitalState) ApplyPnl(amount float64) {
	c.Balance += amount
}

// Withdraw moves amount out of the trading balance. The baseline moves with it,
// so Profit is unchanged.
func (c *CapitalState) Withdraw(amount float64) {
	if amount <= 0 {
		return
	}
	c.Balance -= amount
	c.InitialBalance -= amount
	c.TotalWithdrawn += amount
	c.SessionWithdrawn += amount
}

// DailyPerformance holds the counters of the current calendar day.
type DailyPerformance struct {
	Date         string  `json:"date"` // YYYY-MM-DD
	StartBalance float64 `json:"startBalance"`
	TradesToday  int     `json:"tradesToday"`
	WinsToday    int     `json:"winsToday"`
	LossesToday  int     `json:"lossesToday"`
	ProfitToday  float64 `json:"profitToday"`
}

// NewDailyPerformance starts the counters for the day containing t.
func NewDailyPerformance(t time.Time, startBalance float64) DailyPerformance {
	return DailyPerformance{Date: DayKey(t), StartBalance: startBalance}
}

// Record folds a closed trade into the day.
func (d *DailyPerformance) Record(t TradeRecord) {
	d.TradesToday++
	d.ProfitToday += t.PNL
	if t.IsWin() {
		d.WinsToday++
	} else {
		d.LossesToday++
	}
}

// WinRate is the share of winning trades in percent.
func (d DailyPerformance) WinRate() float64 {
	if d.TradesToday == 0 {
		return 0
	}
	return float64(d.WinsToday) / float64(d.TradesToday) * 100
}

// Summary returns the persisted record for the day.
func (d DailyPerformance) Summary(endBalance float64) DailyRecord {
	return DailyRecord{
		Date:         d.Date,
		Trades:       d.TradesToday,
		Wins:         d.WinsToday,
		Losses:       d.LossesToday,
		WinRate:      d.WinRate(),
		Profit:       d.ProfitToday,
		StartBalance: d.StartBalance,
		EndBalance:   endBalance,
	}
}

// DailyRecord is one entry of the performance history.
type DailyRecord struct {
	Date         string  `json:"date"`
	Trades       int     `json:"trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"winRate"`
	Profit       float64 `json:"profit"`
	StartBalance float64 `json:"startBalance"`
	EndBalance   float64 `json:"endBalance"`
}

// BalanceSample is a point of the balance history.
type BalanceSample struct {
	Time    time.Time `json:"time"`
	Balance float64   `json:"balance"`
}

// DayKey formats the calendar day of t.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
