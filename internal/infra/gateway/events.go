package gateway

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/totegamma/attendance-tracker"
)

type profileCreated struct {
	User common.Address
	Name string
}

type attendanceMarked struct {
	User common.Address
	Date *big.Int
}

type attendanceModified struct {
	User   common.Address
	Date   *big.Int
	Status bool
}

type userEvicted struct {
	User common.Address
}

var watchedEvents = []tracker.EventKind{
	tracker.EventProfileCreated,
	tracker.EventAttendanceMarked,
	tracker.EventAttendanceModified,
	tracker.EventUserEvicted,
}

func (g *Gateway) filterQuery() ethereum.FilterQuery {
	ids := make([]common.Hash, 0, len(watchedEvents))
	for _, kind := range watchedEvents {
		ids = append(ids, g.abi.Events[string(kind)].ID)
	}
	return ethereum.FilterQuery{
		Addresses: []common.Address{g.address},
		Topics:    [][]common.Hash{ids},
	}
}

// Decode turns a contract log into a LedgerEvent. ok is false for logs that
// are not one of the watched events.
func (g *Gateway) Decode(l types.Log) (ev tracker.LedgerEvent, ok bool, err error) {
	if len(l.Topics) == 0 {
		return ev, false, nil
	}

	var kind tracker.EventKind
	for _, k := range watchedEvents {
		if g.abi.Events[string(k)].ID == l.Topics[0] {
			kind = k
			break
		}
	}
	if kind == "" {
		return ev, false, nil
	}

	ev = tracker.LedgerEvent{
		Kind:        kind,
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash,
		LogIndex:    l.Index,
	}

	switch kind {
	case tracker.EventProfileCreated:
		var out profileCreated
		if err := g.contract.UnpackLog(&out, string(kind), l); err != nil {
			return ev, false, errors.Wrap(err, "unpack ProfileCreated")
		}
		ev.Subject = out.User
		ev.Profile = tracker.Profile(out.Name)
	case tracker.EventAttendanceMarked:
		var out attendanceMarked
		if err := g.contract.UnpackLog(&out, string(kind), l); err != nil {
			return ev, false, errors.Wrap(err, "unpack AttendanceMarked")
		}
		ev.Subject = out.User
		ev.Timestamp = out.Date.Int64()
	case tracker.EventAttendanceModified:
		var out attendanceModified
		if err := g.contract.UnpackLog(&out, string(kind), l); err != nil {
			return ev, false, errors.Wrap(err, "unpack AttendanceModified")
		}
		present := out.Status
		ev.Subject = out.User
		ev.Timestamp = out.Date.Int64()
		ev.Present = &present
	case tracker.EventUserEvicted:
		var out userEvicted
		if err := g.contract.UnpackLog(&out, string(kind), l); err != nil {
			return ev, false, errors.Wrap(err, "unpack UserEvicted")
		}
		ev.Subject = out.User
	}
	return ev, true, nil
}

// Watch delivers contract events to handle until ctx is done. When
// fromBlock is non-zero, past events from that block are delivered first;
// handle may see an event twice around the switch-over.
func (g *Gateway) Watch(ctx context.Context, fromBlock uint64, handle func(context.Context, tracker.LedgerEvent)) error {
	query := g.filterQuery()

	ch := make(chan types.Log, 64)
	sub, err := g.logs.SubscribeFilterLogs(ctx, query, ch)
	if err != nil {
		return errors.Wrap(err, "subscribe to contract logs")
	}
	defer sub.Unsubscribe()

	if fromBlock > 0 {
		past := query
		past.FromBlock = new(big.Int).SetUint64(fromBlock)
		logs, err := g.logs.FilterLogs(ctx, past)
		if err != nil {
			return errors.Wrap(err, "filter past contract logs")
		}
		for _, l := range logs {
			g.dispatch(ctx, l, handle)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				return nil
			}
			return errors.Wrap(err, "contract log subscription")
		case l := <-ch:
			g.dispatch(ctx, l, handle)
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, l types.Log, handle func(context.Context, tracker.LedgerEvent)) {
	if l.Removed {
		return
	}
	ev, ok, err := g.Decode(l)
	if err != nil {
		logger.Warnf("decode log %s/%d: %v", l.TxHash.Hex(), l.Index, err)
		return
	}
	if !ok {
		return
	}
	handle(ctx, ev)
}
