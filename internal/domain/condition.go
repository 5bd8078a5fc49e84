package domain

import (
	"encoding/json"
	"fmt"
)

// ConditionType names one kind of eligibility condition.
type ConditionType string

const (
	ConditionMinOrderAmount ConditionType = "min_order_amount"
	ConditionMinItemsCount  ConditionType = "min_items_count"
	ConditionProductIDs     ConditionType = "product_ids"
	ConditionCategoryIDs    ConditionType = "category_ids"
)

// Condition is one eligibility rule. The set of implementations is closed:
// MinOrderAmount, MinItemsCount, ProductIDs, CategoryIDs and
// UnknownCondition for rules this version cannot interpret.
type Condition interface {
	Type() ConditionType
	isCondition()
}

// MinOrderAmount requires the order subtotal to reach Amount.
type MinOrderAmount struct {
	Amount int64
}

// MinItemsCount requires the summed quantity of all lines to reach Count.
type MinItemsCount struct {
	Count int
}

// ProductIDs requires at least one line for a listed product.
type ProductIDs struct {
	IDs []string
}

// CategoryIDs requires at least one line in a listed category.
type CategoryIDs struct {
	IDs []string
}

// UnknownCondition preserves a stored condition of an unrecognized type.
// A promotion carrying one is never applicable.
type UnknownCondition struct {
	Kind  string
	Value json.RawMessage
}

func (MinOrderAmount) Type() ConditionType     { return ConditionMinOrderAmount }
func (MinItemsCount) Type() ConditionType      { return ConditionMinItemsCount }
func (ProductIDs) Type() ConditionType         { return ConditionProductIDs }
func (CategoryIDs) Type() ConditionType        { return ConditionCategoryIDs }
func (u UnknownCondition) Type() ConditionType { return ConditionType(u.Kind) }

func (MinOrderAmount) isCondition()   {}
func (MinItemsCount) isCondition()    {}
func (ProductIDs) isCondition()       {}
func (CategoryIDs) isCondition()      {}
func (UnknownCondition) isCondition() {}

// Conditions is the ordered condition list of a promotion. It encodes as
// [{"type":"min_order_amount","value":40000}, ...].
type Conditions []Condition

type conditionJSON struct {
	Type  ConditionType   `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON implements json.Marshaler.
func (cs Conditions) MarshalJSON() ([]byte, error) {
	out := make([]conditionJSON, 0, len(cs))
	for _, c := range cs {
		var value any
		switch c := c.(type) {
		case MinOrderAmount:
			value = c.Amount
		case MinItemsCount:
			value = c.Count
		case ProductIDs:
			value = nonNil(c.IDs)
		case CategoryIDs:
			value = nonNil(c.IDs)
		case UnknownCondition:
			out = append(out, conditionJSON{Type: c.Type(), Value: c.Value})
			continue
		default:
			return nil, fmt.Errorf("marshal condition: unsupported type %T", c)
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal %s condition: %w", c.Type(), err)
		}
		out = append(out, conditionJSON{Type: c.Type(), Value: raw})
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (cs *Conditions) UnmarshalJSON(data []byte) error {
	var raw []conditionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode conditions: %w", err)
	}

	out := make(Conditions, 0, len(raw))
	for _, r := range raw {
		c, err := decodeCondition(r)
		if err != nil {
			return err
		}
		out = append(out, c)
	}
	*cs = out
	return nil
}

func decodeCondition(r conditionJSON) (Condition, error) {
	switch r.Type {
	case ConditionMinOrderAmount:
		var v float64
		if err := json.Unmarshal(r.Value, &v); err != nil {
			return nil, fmt.Errorf("decode %s condition: %w", r.Type, err)
		}
		return MinOrderAmount{Amount: int64(v)}, nil
	case ConditionMinItemsCount:
		var v float64
		if err := json.Unmarshal(r.Value, &v); err != nil {
			return nil, fmt.Errorf("decode %s condition: %w", r.Type, err)
		}
		return MinItemsCount{Count: int(v)}, nil
	case ConditionProductIDs:
		var ids []string
		if err := json.Unmarshal(r.Value, &ids); err != nil {
			return nil, fmt.Errorf("decode %s condition: %w", r.Type, err)
		}
		return ProductIDs{IDs: ids}, nil
	case ConditionCategoryIDs:
		var ids []string
		if err := json.Unmarshal(r.Value, &ids); err != nil {
			return nil, fmt.Errorf("decode %s condition: %w", r.Type, err)
		}
		return CategoryIDs{IDs: ids}, nil
	default:
		return UnknownCondition{Kind: string(r.Type), Value: r.Value}, nil
	}
}

// ProductTargets returns the product IDs of the first product_ids condition.
func (cs Conditions) ProductTargets() ([]string, bool) {
	for _, c := range cs {
		if p, ok := c.(ProductIDs); ok {
			return p.IDs, true
		}
	}
	return nil, false
}

// CategoryTargets returns the category IDs of the first category_ids condition.
func (cs Conditions) CategoryTargets() ([]string, bool) {
	for _, c := range cs {
		if cat, ok := c.(CategoryIDs); ok {
			return cat.IDs, true
		}
	}
	return nil, false
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
