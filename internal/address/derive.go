// Package address computes deterministic record addresses.
//
// An address is the sha256 of the seeds, a bump byte, the program id and a fixed
// marker, chosen so that it is not a valid ed25519 point and therefore has no
// private key. Anyone who knows the program id can recompute the address of the
// registry or of a given owner's strategy without consulting an index.
package address

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	lru "github.com/hashicorp/golang-lru"

	"github.com/aristath/shadowtrade/internal/domain"
)

const (
	// MaxSeeds is the maximum number of seeds, bump included.
	MaxSeeds = 16
	// MaxSeedLength is the maximum length of a single seed.
	MaxSeedLength = 32

	pdaMarker = "ProgramDerivedAddress"
)

// Seed namespaces for each record kind.
var (
	RegistrySeed = []byte("shadow-trade-mxe")
	StrategySeed = []byte("strategy")
)

var (
	// ErrOnCurve means the candidate address is a valid curve point.
	ErrOnCurve = errors.New("derived address lies on the ed25519 curve")
	// ErrNoViableBump means no bump in [0,255] produced an off-curve address.
	ErrNoViableBump = errors.New("unable to find a viable bump seed")
	// ErrSeedTooLong is returned for seeds longer than MaxSeedLength.
	ErrSeedTooLong = errors.New("seed exceeds maximum length")
	// ErrTooManySeeds is returned when more than MaxSeeds seeds are given.
	ErrTooManySeeds = errors.New("too many seeds")
)

// Create derives the address for seeds that already include the bump.
func Create(seeds [][]byte, programID domain.Pubkey) (domain.Pubkey, error) {
	var addr domain.Pubkey
	if len(seeds) > MaxSeeds {
		return addr, ErrTooManySeeds
	}

	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return addr, fmt.Errorf("%w: %d bytes", ErrSeedTooLong, len(seed))
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte(pdaMarker))
	copy(addr[:], h.Sum(nil))

	if IsOnCurve(addr) {
		return domain.Pubkey{}, ErrOnCurve
	}
	return addr, nil
}

// Find searches bumps from 255 downward and returns the first off-curve address.
func Find(seeds [][]byte, programID domain.Pubkey) (domain.Pubkey, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return domain.Pubkey{}, 0, ErrTooManySeeds
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{uint8(bump)}
		addr, err := Create(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return domain.Pubkey{}, 0, err
		}
	}
	return domain.Pubkey{}, 0, ErrNoViableBump
}

// IsOnCurve reports whether b decodes to an ed25519 point.
func IsOnCurve(b domain.Pubkey) bool {
	_, err := new(edwards25519.Point).SetBytes(b[:])
	return err == nil
}

// Derivation is a derived address together with its bump.
type Derivation struct {
	Address domain.Pubkey `json:"address"`
	Bump    uint8         `json:"bump"`
}

// Deriver derives record addresses for one program and caches the results.
type Deriver struct {
	programID domain.Pubkey
	cache     *lru.Cache
}

// NewDeriver creates a deriver with an LRU of cacheSize strategy derivations.
func NewDeriver(programID domain.Pubkey, cacheSize int) (*Deriver, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create derivation cache: %w", err)
	}
	return &Deriver{programID: programID, cache: cache}, nil
}

// ProgramID returns the program the deriver is bound to.
func (d *Deriver) ProgramID() domain.Pubkey {
	return d.programID
}

// Registry derives the singleton registry address.
func (d *Deriver) Registry() (Derivation, error) {
	return d.derive("registry", RegistrySeed)
}

// Strategy derives the strategy address of owner.
func (d *Deriver) Strategy(owner domain.Pubkey) (Derivation, error) {
	return d.derive("strategy:"+owner.String(), StrategySeed, owner[:])
}

// VerifyRegistry checks that addr and bump are the canonical registry derivation.
func (d *Deriver) VerifyRegistry(addr domain.Pubkey, bump uint8) error {
	want, err := d.Registry()
	if err != nil {
		return err
	}
	return want.check(addr, bump)
}

// VerifyStrategy checks that addr and bump are owner's canonical strategy derivation.
func (d *Deriver) VerifyStrategy(owner, addr domain.Pubkey, bump uint8) error {
	want, err := d.Strategy(owner)
	if err != nil {
		return err
	}
	return want.check(addr, bump)
}

func (d *Deriver) derive(key string, seeds ...[]byte) (Derivation, error) {
	if cached, ok := d.cache.Get(key); ok {
		return cached.(Derivation), nil
	}
	addr, bump, err := Find(seeds, d.programID)
	if err != nil {
		return Derivation{}, err
	}
	result := Derivation{Address: addr, Bump: bump}
	d.cache.Add(key, result)
	return result, nil
}

func (want Derivation) check(addr domain.Pubkey, bump uint8) error {
	if want.Address != addr || want.Bump != bump {
		return fmt.Errorf("%w: expected %s/%d, got %s/%d",
			domain.ErrInvalidDerivation, want.Address, want.Bump, addr, bump)
	}
	return nil
}
