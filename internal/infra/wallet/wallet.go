package wallet

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"

	"github.com/totegamma/attendance-tracker/internal/usecase"
)

var logger = log.New("wallet")

var ErrUnknownAccount = errors.New("account not held by this wallet")

// KeyWallet holds signing keys for one or more identities and exposes
// exactly one of them as active at a time.
type KeyWallet struct {
	chainID *big.Int

	mu       sync.Mutex
	keys     map[common.Address]*ecdsa.PrivateKey
	ks       *keystore.KeyStore
	accounts []common.Address
	active   common.Address

	feed event.Feed
}

func New(chainID *big.Int) *KeyWallet {
	return &KeyWallet{
		chainID: chainID,
		keys:    make(map[common.Address]*ecdsa.PrivateKey),
	}
}

// AddPrivateKey registers a raw hex key, with or without 0x prefix.
func (w *KeyWallet) AddPrivateKey(hexKey string) (common.Address, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return common.Address{}, errors.Wrap(err, "parse private key")
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.keys[addr]; !ok {
		w.accounts = append(w.accounts, addr)
	}
	w.keys[addr] = key
	return addr, nil
}

// OpenKeystore loads every account in dir and unlocks it with passphrase.
func (w *KeyWallet) OpenKeystore(dir, passphrase string) error {
	ks := keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP)
	for _, acc := range ks.Accounts() {
		if err := ks.Unlock(acc, passphrase); err != nil {
			return errors.Wrapf(err, "unlock %s", acc.Address.Hex())
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.ks = ks
	for _, acc := range ks.Accounts() {
		if !w.holdsLocked(acc.Address) {
			w.accounts = append(w.accounts, acc.Address)
		}
	}
	logger.Infof("keystore %s opened with %d accounts", dir, len(ks.Accounts()))
	return nil
}

func (w *KeyWallet) holdsLocked(addr common.Address) bool {
	for _, a := range w.accounts {
		if a == addr {
			return true
		}
	}
	return false
}

func (w *KeyWallet) Accounts() []common.Address {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]common.Address(nil), w.accounts...)
}

func (w *KeyWallet) Active() common.Address {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// RequestActiveIdentity returns the active identity, choosing hint or else
// the first held account when none is active yet. It returns the zero
// address when the wallet holds no account.
func (w *KeyWallet) RequestActiveIdentity(ctx context.Context, hint *common.Address) (common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.accounts) == 0 {
		return common.Address{}, nil
	}
	if w.active == (common.Address{}) {
		w.active = w.accounts[0]
		if hint != nil && w.holdsLocked(*hint) {
			w.active = *hint
		}
	}
	return w.active, nil
}

// Select switches the active identity and announces it to subscribers.
func (w *KeyWallet) Select(addr common.Address) error {
	w.mu.Lock()
	if !w.holdsLocked(addr) {
		w.mu.Unlock()
		return errors.Wrap(ErrUnknownAccount, addr.Hex())
	}
	changed := w.active != addr
	w.active = addr
	w.mu.Unlock()

	if changed {
		logger.Infof("active account switched to %s", addr.Hex())
		w.feed.Send(addr)
	}
	return nil
}

// Disconnect clears the active identity. Subscribers receive the zero
// address.
func (w *KeyWallet) Disconnect() {
	w.mu.Lock()
	changed := w.active != (common.Address{})
	w.active = common.Address{}
	w.mu.Unlock()

	if changed {
		w.feed.Send(common.Address{})
	}
}

func (w *KeyWallet) SubscribeIdentityChanged(ch chan<- common.Address) event.Subscription {
	return w.feed.Subscribe(ch)
}

// Transactor returns signing options for from.
func (w *KeyWallet) Transactor(ctx context.Context, from common.Address) (*bind.TransactOpts, error) {
	w.mu.Lock()
	key, ok := w.keys[from]
	ks := w.ks
	w.mu.Unlock()

	if ok {
		opts, err := bind.NewKeyedTransactorWithChainID(key, w.chainID)
		if err != nil {
			return nil, errors.Wrap(err, "keyed transactor")
		}
		opts.Context = ctx
		return opts, nil
	}
	if ks != nil && ks.HasAddress(from) {
		opts, err := bind.NewKeyStoreTransactorWithChainID(ks, accounts.Account{Address: from}, w.chainID)
		if err != nil {
			return nil, errors.Wrap(err, "keystore transactor")
		}
		opts.Context = ctx
		return opts, nil
	}
	return nil, errors.Wrap(ErrUnknownAccount, from.Hex())
}

var _ usecase.Wallet = (*KeyWallet)(nil)
