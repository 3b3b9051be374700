package domain

import "github.com/shopspring/decimal"

// InstrumentClass groups symbols for leverage ceilings and stop-distance
// minimums.
type InstrumentClass string

const (
	ClassForex       InstrumentClass = "forex"
	ClassCrypto      InstrumentClass = "crypto"
	ClassCommodities InstrumentClass = "commodities"
	ClassIndices     InstrumentClass = "indices"
	ClassStocks      InstrumentClass = "stocks"
)

// classLeverage is the per-class leverage ceiling. Unknown classes fall back
// to DefaultMaxLeverage.
var classLeverage = map[InstrumentClass]int{
	ClassForex:       500,
	ClassCrypto:      50,
	ClassCommodities: 200,
	ClassIndices:     300,
	ClassStocks:      20,
}

// DefaultMaxLeverage applies when an instrument class has no explicit
// ceiling.
const DefaultMaxLeverage = 100

// MaxLeverageFor returns the leverage ceiling for a class.
func MaxLeverageFor(class InstrumentClass) int {
	if lv, ok := classLeverage[class]; ok {
		return lv
	}
	return DefaultMaxLeverage
}

// Instrument describes a tradable symbol. MinStopDistance is in price units
// and is the tightest stop the risk engine accepts.
type Instrument struct {
	Symbol          string
	Class           InstrumentClass
	MinStopDistance decimal.Decimal
	PricePrecision  int32
}

// MaxLeverage is the ceiling for this instrument's class.
func (i Instrument) MaxLeverage() int { return MaxLeverageFor(i.Class) }

// Catalog maps symbols to tradable instruments.
type Catalog map[string]Instrument

// Get looks a symbol up; unknown symbols are a trade-validation failure.
func (c Catalog) Get(symbol string) (Instrument, error) {
	instr, ok := c[symbol]
	if !ok {
		return Instrument{}, Validation("unknown instrument " + symbol)
	}
	return instr, nil
}
