package ledger

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopePool
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota

	// Pool sub-types
	SubTypeLendVault
	SubTypeBorrowVault

	// System sub-types
	SubTypeSystemFees

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalPayouts
	SubTypeExternalSwap
)

// AccountKey is the in-memory key for balance tracking. Assets are
// dynamic per pool, so the key carries the symbol itself rather than a
// numeric ID.
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for users, pool index for pool vaults
	SubType  AccountSubType
	Asset    string
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(userID uuid.UUID, subType AccountSubType, asset string) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  subType,
		Asset:    asset,
	}
}

// NewPoolAccountKey creates a key for a pool vault
func NewPoolAccountKey(pool uint64, subType AccountSubType, asset string) AccountKey {
	var entityID [16]byte
	binary.LittleEndian.PutUint64(entityID[:8], pool)
	return AccountKey{
		Scope:    AccountScopePool,
		EntityID: entityID,
		SubType:  subType,
		Asset:    asset,
	}
}

// NewSystemAccountKey creates a key for system accounts
func NewSystemAccountKey(name string, subType AccountSubType, asset string) AccountKey {
	var entityID [16]byte
	copy(entityID[:], []byte(name))
	return AccountKey{
		Scope:    AccountScopeSystem,
		EntityID: entityID,
		SubType:  subType,
		Asset:    asset,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, asset string) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		Asset:   asset,
	}
}

// PoolIndex decodes the pool index from a pool-scoped key.
func (k AccountKey) PoolIndex() uint64 {
	return binary.LittleEndian.Uint64(k.EntityID[:8])
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.subTypeName(), k.Asset)
	case AccountScopePool:
		return fmt.Sprintf("pool:%d:%s:%s", k.PoolIndex(), k.subTypeName(), k.Asset)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), k.Asset)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), k.Asset)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeLendVault:
		return "lend_vault"
	case SubTypeBorrowVault:
		return "borrow_vault"
	case SubTypeSystemFees:
		return "fees"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalPayouts:
		return "payouts"
	case SubTypeExternalSwap:
		return "swap"
	default:
		return "unknown"
	}
}

// ParseAccountPath reconstructs an AccountKey from its string form.
// Inverse of AccountPath; used when restoring balances from snapshots.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")

	switch {
	case len(parts) == 4 && parts[0] == "user":
		userID, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("parse account path %q: %w", path, err)
		}
		subType, err := subTypeFromName(parts[2])
		if err != nil {
			return AccountKey{}, fmt.Errorf("parse account path %q: %w", path, err)
		}
		return NewUserAccountKey(userID, subType, parts[3]), nil

	case len(parts) == 4 && parts[0] == "pool":
		var index uint64
		if _, err := fmt.Sscanf(parts[1], "%d", &index); err != nil {
			return AccountKey{}, fmt.Errorf("parse account path %q: %w", path, err)
		}
		subType, err := subTypeFromName(parts[2])
		if err != nil {
			return AccountKey{}, fmt.Errorf("parse account path %q: %w", path, err)
		}
		return NewPoolAccountKey(index, subType, parts[3]), nil

	case len(parts) == 3 && parts[0] == "system":
		subType, err := subTypeFromName(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("parse account path %q: %w", path, err)
		}
		return NewSystemAccountKey("protocol", subType, parts[2]), nil

	case len(parts) == 3 && parts[0] == "external":
		subType, err := subTypeFromName(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("parse account path %q: %w", path, err)
		}
		return NewExternalAccountKey(subType, parts[2]), nil
	}

	return AccountKey{}, fmt.Errorf("malformed account path %q", path)
}

func subTypeFromName(name string) (AccountSubType, error) {
	switch name {
	case "wallet":
		return SubTypeWallet, nil
	case "lend_vault":
		return SubTypeLendVault, nil
	case "borrow_vault":
		return SubTypeBorrowVault, nil
	case "fees":
		return SubTypeSystemFees, nil
	case "deposits":
		return SubTypeExternalDeposits, nil
	case "payouts":
		return SubTypeExternalPayouts, nil
	case "swap":
		return SubTypeExternalSwap, nil
	}
	return 0, fmt.Errorf("unknown account sub-type %q", name)
}
