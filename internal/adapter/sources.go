package adapter

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/activity-scorer/internal/types"
)

// Common error types for explorer and identity clients
var (
	// ErrRateLimited indicates the upstream answered 429
	ErrRateLimited = errors.New("upstream rate limited")

	// ErrNotFound indicates the upstream has no such resource (404/422)
	ErrNotFound = errors.New("upstream resource not found")

	// ErrInvalidAddress indicates the address format is invalid
	ErrInvalidAddress = errors.New("invalid address format")
)

// TransactionSource retrieves the raw transaction history of one address
type TransactionSource interface {
	// FetchAllTransactions pages newest-first up to maxPages (<=0 uses the
	// client default). A failure after the first page truncates the result
	// and is not reported as an error.
	FetchAllTransactions(ctx context.Context, address string, maxPages int) ([]*types.Transaction, error)
}

// TokenTransferSource retrieves fungible token transfers scoped to one contract
type TokenTransferSource interface {
	FetchTokenTransfers(ctx context.Context, address, tokenContract string, maxPages int) ([]*types.TokenTransfer, error)
}

// NFTSource enumerates NFT instances held by an address
type NFTSource interface {
	FetchNFTHoldings(ctx context.Context, address string) ([]types.NFTHolding, error)
}

// DomainResolver reverse-resolves an address to a human-readable name.
// An address without a name returns ("", nil).
type DomainResolver interface {
	ReverseResolve(ctx context.Context, address string) (string, error)
}

// SocialProfile is a linked social-identity account
type SocialProfile struct {
	FID      int64  `json:"fid"`
	Username string `json:"username"`
}

// SocialResolver resolves social-identity accounts linked to an address.
// An address without a linked account returns (nil, nil).
type SocialResolver interface {
	LookupByAddress(ctx context.Context, address string) (*SocialProfile, error)
}

// NormalizeAddress validates a hex address and returns its lowercase form
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) || !strings.HasPrefix(strings.ToLower(address), "0x") {
		return "", ErrInvalidAddress
	}
	return strings.ToLower(common.HexToAddress(address).Hex()), nil
}
