package models

import (
	"fmt"
	"strings"
)

// Side identifies one of the two servers being kept in sync.
type Side int

const (
	LHS Side = iota
	RHS
)

// Sides lists both sides in processing order.
var Sides = [2]Side{LHS, RHS}

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == LHS {
		return RHS
	}
	return LHS
}

func (s Side) String() string {
	switch s {
	case LHS:
		return "lhs"
	case RHS:
		return "rhs"
	default:
		return ""
	}
}

// ParseSide converts "lhs" or "rhs" (any case) to a [Side].
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "lhs", "left":
		return LHS, nil
	case "rhs", "right":
		return RHS, nil
	}
	return LHS, fmt.Errorf("unknown side %q (want lhs or rhs)", v)
}
