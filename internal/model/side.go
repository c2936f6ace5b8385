package model

// Side is the direction of a trader or liquidity position.
type Side int32

const (
	SideLong Side = iota + 1
	SideShort
)

// Flip returns the opposite side.
func (s Side) Flip() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

func (s Side) IsLong() bool { return s == SideLong }

func (s Side) String() string {
	switch s {
	case SideLong:
		return "Long"
	case SideShort:
		return "Short"
	default:
		return "Unknown"
	}
}
