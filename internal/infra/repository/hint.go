package repository

import (
	"context"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/totegamma/attendance-tracker"
	"github.com/totegamma/attendance-tracker/internal/usecase"
)

// HintRepository keeps the last connected identity in memcached, keyed per
// contract so two deployments do not share a hint.
type HintRepository struct {
	mc  *memcache.Client
	key string
}

func NewHintRepository(mc *memcache.Client, contract common.Address) *HintRepository {
	return &HintRepository{
		mc:  mc,
		key: "tracker:hint:" + contract.Hex(),
	}
}

func (r *HintRepository) LoadHint(ctx context.Context) (common.Address, bool, error) {
	item, err := r.mc.Get(r.key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return common.Address{}, false, nil
	}
	if err != nil {
		return common.Address{}, false, errors.Wrap(err, "load identity hint")
	}
	addr, err := tracker.ParseAddress(string(item.Value))
	if err != nil {
		// Corrupt hints are treated as absent.
		return common.Address{}, false, nil
	}
	return addr, true, nil
}

func (r *HintRepository) SaveHint(ctx context.Context, addr common.Address) error {
	err := r.mc.Set(&memcache.Item{
		Key:   r.key,
		Value: []byte(addr.Hex()),
	})
	return errors.Wrap(err, "save identity hint")
}

var _ usecase.IdentityHintStore = (*HintRepository)(nil)
