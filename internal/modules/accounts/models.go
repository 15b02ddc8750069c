// Package accounts provides the Account Store: the singleton Registry record and
// one Strategy record per owner, each kept at its derived address.
package accounts

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/shadowtrade/internal/domain"
)

// Fixed persisted sizes, discriminator included.
const (
	DiscriminatorSize = 8
	RegistrySize      = DiscriminatorSize + 32 + 1 + 8 + 8 + 8
	StrategySize      = DiscriminatorSize + 32 + 1 + 8 + 2 + 4 + 4 + 8
)

// MaxWinRate is 100% in basis points.
const MaxWinRate = 10000

var (
	registryDiscriminator = discriminator("MXE")
	strategyDiscriminator = discriminator("Strategy")
)

func discriminator(name string) [DiscriminatorSize]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [DiscriminatorSize]byte
	copy(d[:], sum[:DiscriminatorSize])
	return d
}

// Registry is the singleton root record.
type Registry struct {
	Address                domain.Pubkey `json:"address"`
	Authority              domain.Pubkey `json:"authority"`
	Bump                   uint8         `json:"bump"`
	TotalComputations      uint64        `json:"total_computations"`
	SuccessfulComputations uint64        `json:"successful_computations"`
	CreatedAt              int64         `json:"created_at"`
}

// Strategy holds the settled performance of one owner.
type Strategy struct {
	Address     domain.Pubkey `json:"address"`
	Owner       domain.Pubkey `json:"owner"`
	Bump        uint8         `json:"bump"`
	TotalReturn int64         `json:"total_return"` // basis points, signed
	WinRate     uint16        `json:"win_rate"`     // basis points, [0, 10000]
	TotalTrades uint32        `json:"total_trades"`
	WinTrades   uint32        `json:"win_trades"`
	LastUpdated int64         `json:"last_updated"`
	CreatedAt   int64         `json:"created_at"`
}

// MarshalBinary returns the fixed layout: discriminator, authority, bump,
// total_computations, successful_computations, created_at (little-endian).
func (r *Registry) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, RegistrySize)
	buf = append(buf, registryDiscriminator[:]...)
	buf = append(buf, r.Authority[:]...)
	buf = append(buf, r.Bump)
	buf = binary.LittleEndian.AppendUint64(buf, r.TotalComputations)
	buf = binary.LittleEndian.AppendUint64(buf, r.SuccessfulComputations)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(r.CreatedAt))
	return buf, nil
}

// UnmarshalBinary parses the fixed layout. Address is not part of it.
func (r *Registry) UnmarshalBinary(b []byte) error {
	if len(b) != RegistrySize {
		return fmt.Errorf("registry account: expected %d bytes, got %d", RegistrySize, len(b))
	}
	if [DiscriminatorSize]byte(b[:DiscriminatorSize]) != registryDiscriminator {
		return fmt.Errorf("registry account: discriminator mismatch")
	}
	b = b[DiscriminatorSize:]
	copy(r.Authority[:], b[:32])
	r.Bump = b[32]
	r.TotalComputations = binary.LittleEndian.Uint64(b[33:41])
	r.SuccessfulComputations = binary.LittleEndian.Uint64(b[41:49])
	r.CreatedAt = int64(binary.LittleEndian.Uint64(b[49:57]))
	return nil
}

// MarshalBinary returns the fixed layout: discriminator, owner, bump,
// total_return, win_rate, total_trades, win_trades, last_updated (little-endian).
func (s *Strategy) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, StrategySize)
	buf = append(buf, strategyDiscriminator[:]...)
	buf = append(buf, s.Owner[:]...)
	buf = append(buf, s.Bump)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(s.TotalReturn))
	buf = binary.LittleEndian.AppendUint16(buf, s.WinRate)
	buf = binary.LittleEndian.AppendUint32(buf, s.TotalTrades)
	buf = binary.LittleEndian.AppendUint32(buf, s.WinTrades)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(s.LastUpdated))
	return buf, nil
}

// UnmarshalBinary parses the fixed layout. Address and CreatedAt are not part of it.
func (s *Strategy) UnmarshalBinary(b []byte) error {
	if len(b) != StrategySize {
		return fmt.Errorf("strategy account: expected %d bytes, got %d", StrategySize, len(b))
	}
	if [DiscriminatorSize]byte(b[:DiscriminatorSize]) != strategyDiscriminator {
		return fmt.Errorf("strategy account: discriminator mismatch")
	}
	b = b[DiscriminatorSize:]
	copy(s.Owner[:], b[:32])
	s.Bump = b[32]
	s.TotalReturn = int64(binary.LittleEndian.Uint64(b[33:41]))
	s.WinRate = binary.LittleEndian.Uint16(b[41:43])
	s.TotalTrades = binary.LittleEndian.Uint32(b[43:47])
	s.WinTrades = binary.LittleEndian.Uint32(b[47:51])
	s.LastUpdated = int64(binary.LittleEndian.Uint64(b[51:59]))
	return nil
}

// AccountKind names the record type behind a raw account.
func AccountKind(b []byte) string {
	if len(b) < DiscriminatorSize {
		return ""
	}
	switch [DiscriminatorSize]byte(b[:DiscriminatorSize]) {
	case registryDiscriminator:
		return "registry"
	case strategyDiscriminator:
		return "strategy"
	}
	return ""
}

// StrategyView is the JSON snapshot served to clients, with basis points also
// rendered as percentages.
type StrategyView struct {
	Strategy
	TotalReturnPercent string `json:"total_return_percent"`
	WinRatePercent     string `json:"win_rate_percent"`
	LastUpdatedAt      string `json:"last_updated_at,omitempty"`
}

// View renders s for clients.
func (s *Strategy) View() StrategyView {
	v := StrategyView{
		Strategy:           *s,
		TotalReturnPercent: BasisPointsToPercent(s.TotalReturn),
		WinRatePercent:     BasisPointsToPercent(int64(s.WinRate)),
	}
	if s.LastUpdated > 0 {
		v.LastUpdatedAt = time.Unix(s.LastUpdated, 0).UTC().Format(time.RFC3339)
	}
	return v
}

// BasisPointsToPercent renders bps as a percentage with two decimals (250 -> "2.50").
func BasisPointsToPercent(bps int64) string {
	return decimal.New(bps, -2).StringFixed(2)
}
