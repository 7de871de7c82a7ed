package domain

import "time"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderMode selects simulated or exchange-submitted fills.
type OrderMode string

const (
	ModePaper OrderMode = "paper"
	ModeReal  OrderMode = "real"
)

func (m OrderMode) Valid() bool {
	return m == ModePaper || m == ModeReal
}

// OrderIntent is an ephemeral request to trade. For buys Notional is the
// quote-currency value to commit; for sells Quantity is the base amount
// to unwind. ReferencePrice anchors slippage and sizing.
type OrderIntent struct {
	Side           Side
	Notional       float64
	Quantity       float64
	ReferencePrice float64
	Timestamp      time.Time
}

type FillMode string

const (
	FillSimulated FillMode = "SIMULATED"
	FillLive      FillMode = "LIVE"
)

// Fill is the result of executing an OrderIntent.
type Fill struct {
	OrderID   string
	Mode      FillMode
	Side      Side
	Price     float64
	Quantity  float64
	Notional  float64
	Fee       float64
	Timestamp time.Time
}

// ExchangeFill is the raw result reported by the exchange for a
// submitted market order.
type ExchangeFill struct {
	OrderID   string
	FilledQty float64
	AvgPrice  float64
	Fee       float64
}

// MarketConstraints are the tradable-size limits of a symbol.
type MarketConstraints struct {
	MinQty  float64
	QtyStep float64
}

// FitQuantity truncates qty down to the quantity step, never rounding
// up. Returns 0 when the adjusted size falls below the exchange
// minimum.
func (c MarketConstraints) FitQuantity(qty float64) float64 {
	adj := qty
	if c.QtyStep > 0 {
		steps := float64(int64(qty / c.QtyStep))
		adj = steps * c.QtyStep
	}
	if c.MinQty > 0 && adj < c.MinQty {
		return 0
	}
	return adj
}
