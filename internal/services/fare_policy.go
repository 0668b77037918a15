package services

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tapsakay/backend/internal/config"
	"github.com/tapsakay/backend/internal/models"
)

// TapContext carries the trip facts a fare strategy may price on. Any
// client-supplied fare value is advisory only and never enters here.
type TapContext struct {
	CardID         string
	DeviceID       string
	Location       models.Location
	DistanceMeters int64 // reported by the device, 0 when unknown
}

// FareQuote is the priced outcome of one tap.
type FareQuote struct {
	FareAmount       int64 `json:"fare_amount"`
	CommissionAmount int64 `json:"commission_amount"`
	DriverShare      int64 `json:"driver_share"`
}

// FareStrategy computes the gross fare in minor units. Implementations must
// be deterministic for identical inputs.
type FareStrategy interface {
	FareAmount(tc TapContext) int64
}

// FixedFareStrategy charges one flat configured amount per tap.
type FixedFareStrategy struct {
	Amount int64
}

func (s FixedFareStrategy) FareAmount(TapContext) int64 {
	return s.Amount
}

// DistanceFareStrategy charges a flag-fall plus a per-kilometer rate,
// prorated to the meter. Falls back to the flag-fall alone when the device
// reported no distance.
type DistanceFareStrategy struct {
	BaseAmount   int64
	PerKilometer int64
}

func (s DistanceFareStrategy) FareAmount(tc TapContext) int64 {
	if tc.DistanceMeters <= 0 {
		return s.BaseAmount
	}
	variable := decimal.NewFromInt(tc.DistanceMeters).
		Mul(decimal.NewFromInt(s.PerKilometer)).
		Div(decimal.NewFromInt(1000)).
		Round(0)
	return s.BaseAmount + variable.IntPart()
}

// FarePolicy splits a strategy's fare into commission and driver share.
type FarePolicy struct {
	strategy          FareStrategy
	commissionPercent int64
}

func NewFarePolicy(strategy FareStrategy, commissionPercent int64) *FarePolicy {
	return &FarePolicy{strategy: strategy, commissionPercent: commissionPercent}
}

// NewFarePolicyFromConfig selects the configured strategy.
func NewFarePolicyFromConfig(cfg *config.SettlementConfig) *FarePolicy {
	var strategy FareStrategy
	switch cfg.FareStrategy {
	case config.FareStrategyDistance:
		strategy = DistanceFareStrategy{BaseAmount: cfg.BaseFareAmount, PerKilometer: cfg.FarePerKilometer}
	default:
		strategy = FixedFareStrategy{Amount: cfg.FixedFareAmount}
	}
	return NewFarePolicy(strategy, cfg.CommissionPercent)
}

// Compute prices one tap. commission = round-half-up(fare * percent / 100)
// on minor units, capped at the fare so the driver share is never negative.
func (p *FarePolicy) Compute(tc TapContext) (*FareQuote, error) {
	fare := p.strategy.FareAmount(tc)
	if fare <= 0 {
		return nil, fmt.Errorf("fare strategy produced non-positive fare %d: %w", fare, ErrInvalidAmount)
	}

	commission := decimal.NewFromInt(fare).
		Mul(decimal.NewFromInt(p.commissionPercent)).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
	if commission < 0 {
		commission = 0
	}
	if commission > fare {
		commission = fare
	}

	return &FareQuote{
		FareAmount:       fare,
		CommissionAmount: commission,
		DriverShare:      fare - commission,
	}, nil
}
