// Package wallet keeps ed25519 keypair files on disk and exposes them as
// request signers.
package wallet

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/aristath/shadowtrade/internal/auth"
	"github.com/aristath/shadowtrade/internal/domain"
)

// DefaultNetwork is recorded in new wallet files.
const DefaultNetwork = "devnet"

// Export formats
const (
	FormatJSON   = "json"
	FormatBase64 = "base64"
)

var (
	// ErrWalletNotFound is returned when no file exists for a name.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrWalletExists is returned when a name is already taken.
	ErrWalletExists = errors.New("wallet already exists")
	// ErrInvalidWallet is returned for malformed or inconsistent wallet files.
	ErrInvalidWallet = errors.New("invalid wallet")

	namePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)
)

// File is the on-disk layout. SecretKey is the 64-byte ed25519 private key
// written as a JSON array of numbers.
type File struct {
	Name      string `json:"name"`
	PublicKey string `json:"publicKey"`
	SecretKey []int  `json:"secretKey"`
	CreatedAt string `json:"created_at"`
	Network   string `json:"network"`
}

// Wallet is a loaded keypair.
type Wallet struct {
	Name      string
	Network   string
	CreatedAt time.Time
	Signer    *auth.Signer
}

// Pubkey returns the wallet's public key.
func (w *Wallet) Pubkey() domain.Pubkey {
	return w.Signer.Pubkey()
}

// Info is the public part of a wallet, safe to print.
type Info struct {
	Name      string        `json:"name"`
	PublicKey domain.Pubkey `json:"public_key"`
	CreatedAt time.Time     `json:"created_at"`
	Network   string        `json:"network"`
}

// Info returns the public part of w.
func (w *Wallet) Info() Info {
	return Info{Name: w.Name, PublicKey: w.Pubkey(), CreatedAt: w.CreatedAt, Network: w.Network}
}

func (w *Wallet) file() *File {
	priv := w.Signer.PrivateKey()
	secret := make([]int, len(priv))
	for i, b := range priv {
		secret[i] = int(b)
	}
	return &File{
		Name:      w.Name,
		PublicKey: w.Pubkey().String(),
		SecretKey: secret,
		CreatedAt: w.CreatedAt.UTC().Format(time.RFC3339),
		Network:   w.Network,
	}
}

// Decode parses and checks a wallet file. The public key must match the
// secret key.
func Decode(data []byte) (*Wallet, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWallet, err)
	}
	if len(f.SecretKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: secret key has %d bytes", ErrInvalidWallet, len(f.SecretKey))
	}
	priv := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	for i, v := range f.SecretKey {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("%w: secret key byte %d out of range", ErrInvalidWallet, i)
		}
		priv[i] = byte(v)
	}
	signer, err := auth.NewSigner(priv)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWallet, err)
	}
	// The trailing 32 bytes of an ed25519 private key are its public key.
	if !bytes.Equal(priv[32:], ed25519.NewKeyFromSeed(priv[:32])[32:]) {
		return nil, fmt.Errorf("%w: secret key is inconsistent", ErrInvalidWallet)
	}
	if f.PublicKey != "" && f.PublicKey != signer.Pubkey().String() {
		return nil, fmt.Errorf("%w: public key does not match secret key", ErrInvalidWallet)
	}

	created, err := time.Parse(time.RFC3339, f.CreatedAt)
	if err != nil {
		created = time.Time{}
	}
	network := f.Network
	if network == "" {
		network = DefaultNetwork
	}
	return &Wallet{Name: f.Name, Network: network, CreatedAt: created, Signer: signer}, nil
}

// Store manages wallet files in a directory, one <name>.json per wallet.
type Store struct {
	dir     string
	network string
	clock   clockwork.Clock
	log     zerolog.Logger

	mu      sync.RWMutex
	keyring map[domain.Pubkey]*Wallet
	loaded  bool
}

// NewStore creates a store rooted at dir. The directory is created on first write.
func NewStore(dir string, clock clockwork.Clock, log zerolog.Logger) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		dir:     dir,
		network: DefaultNetwork,
		clock:   clock,
		log:     log.With().Str("component", "wallet").Logger(),
	}
}

// Dir returns the wallet directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Generate creates a fresh keypair under name. An empty name picks a
// timestamped default.
func (s *Store) Generate(name string) (*Wallet, error) {
	if name == "" {
		name = "shadowtrade_wallet_" + s.clock.Now().Format("20060102_150405")
	}
	signer, err := auth.GenerateSigner()
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}
	w := &Wallet{
		Name:      name,
		Network:   s.network,
		CreatedAt: s.clock.Now().UTC().Truncate(time.Second),
		Signer:    signer,
	}
	if err := s.write(w); err != nil {
		return nil, err
	}
	s.log.Info().Str("wallet", name).Str("pubkey", w.Pubkey().String()).Msg("Generated wallet")
	return w, nil
}

// Load reads the wallet stored under name.
func (s *Store) Load(name string) (*Wallet, error) {
	if !namePattern.MatchString(name) {
		return nil, fmt.Errorf("%w: bad name %q", ErrInvalidWallet, name)
	}
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrWalletNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read wallet %s: %w", name, err)
	}
	w, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("wallet %s: %w", name, err)
	}
	w.Name = name
	return w, nil
}

// List returns every readable wallet, sorted by name. Unreadable files are
// skipped with a warning.
func (s *Store) List() ([]*Wallet, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read wallet dir: %w", err)
	}

	var wallets []*Wallet
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		w, err := s.Load(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			s.log.Warn().Err(err).Str("file", e.Name()).Msg("Skipping unreadable wallet")
			continue
		}
		wallets = append(wallets, w)
	}
	sort.Slice(wallets, func(i, j int) bool { return wallets[i].Name < wallets[j].Name })
	return wallets, nil
}

// Export returns the wallet file for name in the given format.
func (s *Store) Export(name, format string) ([]byte, error) {
	w, err := s.Load(name)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(w.file(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode wallet: %w", err)
	}
	switch format {
	case "", FormatJSON:
		return data, nil
	case FormatBase64:
		return []byte(base64.StdEncoding.EncodeToString(data)), nil
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

// Import stores an exported wallet under name.
func (s *Store) Import(data []byte, name, format string) (*Wallet, error) {
	switch format {
	case "", FormatJSON:
	case FormatBase64:
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidWallet, err)
		}
		data = decoded
	default:
		return nil, fmt.Errorf("unknown import format %q", format)
	}

	w, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if name != "" {
		w.Name = name
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = s.clock.Now().UTC().Truncate(time.Second)
	}
	if err := s.write(w); err != nil {
		return nil, err
	}
	s.log.Info().Str("wallet", w.Name).Str("pubkey", w.Pubkey().String()).Msg("Imported wallet")
	return w, nil
}

func (s *Store) write(w *Wallet) error {
	if !namePattern.MatchString(w.Name) {
		return fmt.Errorf("%w: bad name %q", ErrInvalidWallet, w.Name)
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create wallet dir: %w", err)
	}
	data, err := json.MarshalIndent(w.file(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode wallet: %w", err)
	}

	f, err := os.OpenFile(s.path(w.Name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%s: %w", w.Name, ErrWalletExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create wallet file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write wallet file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close wallet file: %w", err)
	}

	s.mu.Lock()
	if s.loaded {
		s.keyring[w.Pubkey()] = w
	}
	s.mu.Unlock()
	return nil
}

// SignerFor returns the signer for pubkey if one of the stored wallets holds
// its private key.
func (s *Store) SignerFor(pubkey domain.Pubkey) (*auth.Signer, bool) {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if !loaded {
		if err := s.Reload(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to load keyring")
			return nil, false
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.keyring[pubkey]
	if !ok {
		return nil, false
	}
	return w.Signer, true
}

// Reload rereads the wallet directory into the keyring.
func (s *Store) Reload() error {
	wallets, err := s.List()
	if err != nil {
		return err
	}
	ring := make(map[domain.Pubkey]*Wallet, len(wallets))
	for _, w := range wallets {
		ring[w.Pubkey()] = w
	}

	s.mu.Lock()
	s.keyring = ring
	s.loaded = true
	s.mu.Unlock()
	return nil
}
