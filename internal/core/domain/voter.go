package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Voter struct {
	Address       common.Address `json:"address"`
	CreditBalance uint64         `json:"credit_balance"`
	RegisteredAt  time.Time      `json:"registered_at"`
}

// ParseAddress accepts a 20-byte hex address with or without the 0x prefix.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}
