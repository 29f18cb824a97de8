package engine

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"dcabot/internal/models"
)

const (
	metricPrice  = "price"
	metricRSI    = "rsi"
	metricVolume = "volume"
)

// Snapshot is the market state conditions are evaluated against. RSI is nil
// when no active condition asked for it.
type Snapshot struct {
	Price     decimal.Decimal
	Volume24h decimal.Decimal
	RSI       *decimal.Decimal
}

// conditionMetric maps a condition type to the metric it reads and the
// operator implied by its suffix.
func conditionMetric(conditionType string) (metric, operator string, err error) {
	switch conditionType {
	case models.ConditionPriceAbove:
		return metricPrice, models.OperatorGT, nil
	case models.ConditionPriceBelow:
		return metricPrice, models.OperatorLT, nil
	case models.ConditionRSIAbove:
		return metricRSI, models.OperatorGT, nil
	case models.ConditionRSIBelow:
		return metricRSI, models.OperatorLT, nil
	case models.ConditionVolumeAbove:
		return metricVolume, models.OperatorGT, nil
	}
	return "", "", fmt.Errorf("unknown condition type %q", conditionType)
}

// ValidateCondition checks the type and the optional explicit operator.
func ValidateCondition(c models.StrategyCondition) error {
	if _, _, err := conditionMetric(c.Type); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.Operator)) {
	case "", models.OperatorGT, models.OperatorLT, models.OperatorEQ, models.OperatorGTE, models.OperatorLTE:
		return nil
	}
	return fmt.Errorf("unknown operator %q", c.Operator)
}

func needsRSI(conditions []models.StrategyCondition) bool {
	for _, c := range conditions {
		if m, _, err := conditionMetric(c.Type); err == nil && m == metricRSI {
			return true
		}
	}
	return false
}

// Holds reports whether the condition is satisfied by the snapshot. An explicit
// operator overrides the one implied by the type.
func Holds(c models.StrategyCondition, snap Snapshot) (bool, error) {
	metric, op, err := conditionMetric(c.Type)
	if err != nil {
		return false, err
	}
	if explicit := strings.ToLower(strings.TrimSpace(c.Operator)); explicit != "" {
		op = explicit
	}
	var lhs decimal.Decimal
	switch metric {
	case metricPrice:
		lhs = snap.Price
	case metricVolume:
		lhs = snap.Volume24h
	case metricRSI:
		if snap.RSI == nil {
			return false, fmt.Errorf("rsi unavailable")
		}
		lhs = *snap.RSI
	}
	return compare(op, lhs, c.Value)
}

func compare(op string, lhs, rhs decimal.Decimal) (bool, error) {
	switch op {
	case models.OperatorGT:
		return lhs.GreaterThan(rhs), nil
	case models.OperatorLT:
		return lhs.LessThan(rhs), nil
	case models.OperatorEQ:
		return lhs.Equal(rhs), nil
	case models.OperatorGTE:
		return lhs.GreaterThanOrEqual(rhs), nil
	case models.OperatorLTE:
		return lhs.LessThanOrEqual(rhs), nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

// firstUnmet returns the first condition that does not hold, or nil.
func firstUnmet(conditions []models.StrategyCondition, snap Snapshot) (*models.StrategyCondition, error) {
	for i := range conditions {
		ok, err := Holds(conditions[i], snap)
		if err != nil {
			return &conditions[i], err
		}
		if !ok {
			return &conditions[i], nil
		}
	}
	return nil, nil
}
