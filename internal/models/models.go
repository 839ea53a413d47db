// Package models provides domain models for the trading pipeline.
package models

import "time"

// Direction represents the side of a position.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Valid reports whether the direction is one of the two known sides.
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// OrderType returns the venue wire form of the direction.
func (d Direction) OrderType() string {
	if d == DirectionSell {
		return "SELL"
	}
	return "BUY"
}

// Candle represents OHLCV data for a time period.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// AccountInfo represents the state of the trading account.
type AccountInfo struct {
	Login    int64
	Balance  float64
	Equity   float64
	Margin   float64
	Currency string
}

// SymbolInfo represents contract specifications for an instrument.
type SymbolInfo struct {
	Symbol       string
	ContractSize float64
	PipSize      float64
	MinLot       float64
	MaxLot       float64
	LotStep      float64
	Digits       int
	Point        float64
}

// Default contract specification used when the venue cannot provide one.
const (
	DefaultContractSize = 100000.0
	DefaultPipSize      = 0.0001
	DefaultMinLot       = 0.01
	DefaultMaxLot       = 100.0
	DefaultLotStep      = 0.01
)

// DefaultSymbolInfo returns forex-style defaults for a symbol.
func DefaultSymbolInfo(symbol string) SymbolInfo {
	return SymbolInfo{
		Symbol:       symbol,
		ContractSize: DefaultContractSize,
		PipSize:      DefaultPipSize,
		MinLot:       DefaultMinLot,
		MaxLot:       DefaultMaxLot,
		LotStep:      DefaultLotStep,
		Digits:       5,
		Point:        0.00001,
	}
}

// Position represents an open position reported by the venue.
type Position struct {
	Ticket     int64
	Symbol     string
	Direction  Direction
	Volume     float64
	OpenPrice  float64
	StopLoss   float64
	TakeProfit float64
	Profit     float64
	Magic      int64
	OpenTime   time.Time
}
