package domain

import (
	"encoding/json"
	"fmt"
)

// WalletOf returns the owning wallet recorded on the concrete position.
func WalletOf(p Position) string {
	switch v := p.(type) {
	case StakingPosition:
		return v.Wallet
	case LoopingPosition:
		return v.Wallet
	case DeltaNeutralPosition:
		return v.Wallet
	default:
		return ""
	}
}

// ValidatePosition runs the construction-time invariant checks of the
// concrete position record.
func ValidatePosition(p Position) error {
	switch v := p.(type) {
	case StakingPosition:
		return v.Validate()
	case LoopingPosition:
		return v.Validate()
	case DeltaNeutralPosition:
		return v.Validate()
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedKind, p.Kind())
	}
}

// UnmarshalPosition decodes data into the concrete position record named by
// kind. It is the inverse of json.Marshal on the concrete type and is used by
// the stores and the HTTP layer, which carry the kind tag out of band.
func UnmarshalPosition(kind PositionKind, data []byte) (Position, error) {
	switch kind {
	case KindStaking:
		var p StakingPosition
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode staking position: %w", err)
		}
		return p, nil
	case KindLooping:
		var p LoopingPosition
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode looping position: %w", err)
		}
		return p, nil
	case KindDeltaNeutral:
		var p DeltaNeutralPosition
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode delta-neutral position: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}
}
