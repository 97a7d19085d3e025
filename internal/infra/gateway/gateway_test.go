package gateway

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"

	"github.com/totegamma/attendance-tracker"
	"github.com/totegamma/attendance-tracker/internal/domain"
)

var (
	contractAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	adminAddr    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	aliceAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

type call struct {
	method string
	params []interface{}
}

type mockContract struct {
	*bind.BoundContract
	results  map[string][]interface{}
	callErr  error
	sendErr  error
	calls    []call
	sent     []call
	lastOpts *bind.TransactOpts
}

func (c *mockContract) Call(opts *bind.CallOpts, results *[]interface{}, method string, params ...interface{}) error {
	c.calls = append(c.calls, call{method, params})
	if c.callErr != nil {
		return c.callErr
	}
	*results = c.results[method]
	return nil
}

func (c *mockContract) Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error) {
	c.sent = append(c.sent, call{method, params})
	c.lastOpts = opts
	if c.sendErr != nil {
		return nil, c.sendErr
	}
	return types.NewTx(&types.LegacyTx{Nonce: uint64(len(c.sent))}), nil
}

type mockReceipts struct {
	status  uint64
	pending bool
}

func (r *mockReceipts) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if r.pending {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: r.status, TxHash: hash, BlockNumber: big.NewInt(7)}, nil
}

func (r *mockReceipts) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

type mockSigner struct {
	err error
}

func (s *mockSigner) Transactor(ctx context.Context, from common.Address) (*bind.TransactOpts, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &bind.TransactOpts{From: from}, nil
}

func parsedABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(AttendanceABI))
	if err != nil {
		t.Fatalf("abi.JSON: %v", err)
	}
	return parsed
}

func newTestGateway(t *testing.T) (*Gateway, *mockContract, *mockReceipts, *mockSigner) {
	t.Helper()
	parsed := parsedABI(t)
	c := &mockContract{
		BoundContract: bind.NewBoundContract(contractAddr, parsed, nil, nil, nil),
		results:       map[string][]interface{}{},
	}
	r := &mockReceipts{status: types.ReceiptStatusSuccessful}
	s := &mockSigner{}
	g := &Gateway{
		address:  contractAddr,
		abi:      parsed,
		contract: c,
		receipts: r,
		signer:   s,
	}
	return g, c, r, s
}

func TestABIPacksContractMethods(t *testing.T) {
	parsed := parsedABI(t)

	tests := []struct {
		method string
		args   []interface{}
	}{
		{"createProfile", []interface{}{"Alice (alice@example.com)"}},
		{"markAttendance", []interface{}{big.NewInt(1704326400)}},
		{"checkAttendance", []interface{}{aliceAddr, big.NewInt(1704326400)}},
		{"modifyAttendance", []interface{}{aliceAddr, big.NewInt(1704326400), true}},
		{"evictUser", []interface{}{aliceAddr}},
		{"users", []interface{}{aliceAddr}},
		{"admin", nil},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			data, err := parsed.Pack(tt.method, tt.args...)
			if err != nil {
				t.Fatalf("Pack: %v", err)
			}
			if len(data) < 4 {
				t.Fatalf("packed data too short: %x", data)
			}
		})
	}
}

func TestReads(t *testing.T) {
	ctx := context.Background()
	g, c, _, _ := newTestGateway(t)
	c.results["admin"] = []interface{}{adminAddr}
	c.results["users"] = []interface{}{"Alice", true}
	c.results["checkAttendance"] = []interface{}{true}

	admin, err := g.Admin(ctx)
	if err != nil || admin != adminAddr {
		t.Fatalf("Admin = %s, %v", admin.Hex(), err)
	}

	user, err := g.User(ctx, aliceAddr)
	if err != nil {
		t.Fatalf("User: %v", err)
	}
	if user.Profile != "Alice" || !user.Registered {
		t.Fatalf("User = %+v", user)
	}

	present, err := g.CheckAttendance(ctx, aliceAddr, 1704326400)
	if err != nil || !present {
		t.Fatalf("CheckAttendance = %v, %v", present, err)
	}
	last := c.calls[len(c.calls)-1]
	if ts, ok := last.params[1].(*big.Int); !ok || ts.Int64() != 1704326400 {
		t.Fatalf("timestamp not passed as uint256: %#v", last.params)
	}
}

func TestReadFailure(t *testing.T) {
	g, c, _, _ := newTestGateway(t)
	c.callErr = errors.New("dial tcp: connection refused")

	_, err := g.Admin(context.Background())
	if !errors.Is(err, domain.ErrRemoteRead) {
		t.Fatalf("err = %v, want RemoteReadError", err)
	}
	if domain.Reason(err) != "ledger unavailable" {
		t.Fatalf("Reason = %q", domain.Reason(err))
	}
}

func TestWrites(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		run    func(g *Gateway) error
		method string
	}{
		{"create profile", func(g *Gateway) error { return g.CreateProfile(ctx, aliceAddr, "Alice") }, "createProfile"},
		{"mark", func(g *Gateway) error { return g.MarkAttendance(ctx, aliceAddr, 1704326400) }, "markAttendance"},
		{"modify", func(g *Gateway) error { return g.ModifyAttendance(ctx, adminAddr, aliceAddr, 1704326400, false) }, "modifyAttendance"},
		{"evict", func(g *Gateway) error { return g.EvictUser(ctx, adminAddr, aliceAddr) }, "evictUser"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, c, _, _ := newTestGateway(t)
			if err := tt.run(g); err != nil {
				t.Fatalf("write: %v", err)
			}
			if len(c.sent) != 1 || c.sent[0].method != tt.method {
				t.Fatalf("sent = %+v", c.sent)
			}
			if c.lastOpts.Context == nil {
				t.Fatalf("transact opts carry no context")
			}
		})
	}
}

func TestWriteFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("signer", func(t *testing.T) {
		g, c, _, s := newTestGateway(t)
		s.err = errors.New("no key for account")
		err := g.MarkAttendance(ctx, aliceAddr, 1)
		var we domain.RemoteWriteError
		if !errors.As(err, &we) || we.Stage != domain.StageSubmit {
			t.Fatalf("err = %v", err)
		}
		if len(c.sent) != 0 {
			t.Fatalf("sent without a signer")
		}
	})

	t.Run("submission", func(t *testing.T) {
		g, c, _, _ := newTestGateway(t)
		c.sendErr = errors.New("execution reverted: not registered")
		err := g.MarkAttendance(ctx, aliceAddr, 1)
		if domain.Reason(err) != "submission rejected" {
			t.Fatalf("Reason = %q (%v)", domain.Reason(err), err)
		}
	})

	t.Run("reverted", func(t *testing.T) {
		g, _, r, _ := newTestGateway(t)
		r.status = types.ReceiptStatusFailed
		err := g.MarkAttendance(ctx, aliceAddr, 1)
		if !errors.Is(err, domain.ErrReverted) {
			t.Fatalf("err = %v, want ErrReverted", err)
		}
		if domain.Reason(err) != "rejected by ledger" {
			t.Fatalf("Reason = %q", domain.Reason(err))
		}
	})

	t.Run("confirmation timeout", func(t *testing.T) {
		g, _, r, _ := newTestGateway(t)
		r.pending = true
		g.confirmTimeout = 50 * time.Millisecond
		err := g.MarkAttendance(ctx, aliceAddr, 1)
		var we domain.RemoteWriteError
		if !errors.As(err, &we) || we.Stage != domain.StageConfirm {
			t.Fatalf("err = %v", err)
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v, want deadline exceeded", err)
		}
	})
}

func makeLog(t *testing.T, parsed abi.ABI, name string, subject common.Address, data ...interface{}) types.Log {
	t.Helper()
	ev := parsed.Events[name]
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		t.Fatalf("pack %s: %v", name, err)
	}
	return types.Log{
		Address:     contractAddr,
		Topics:      []common.Hash{ev.ID, common.BytesToHash(subject.Bytes())},
		Data:        packed,
		BlockNumber: 12,
		TxHash:      common.HexToHash("0x01"),
		Index:       3,
	}
}

func TestDecode(t *testing.T) {
	g, _, _, _ := newTestGateway(t)
	parsed := g.abi

	ev, ok, err := g.Decode(makeLog(t, parsed, "ProfileCreated", aliceAddr, "Alice"))
	if err != nil || !ok {
		t.Fatalf("ProfileCreated: ok=%v err=%v", ok, err)
	}
	if ev.Kind != tracker.EventProfileCreated || ev.Subject != aliceAddr || ev.Profile != "Alice" {
		t.Fatalf("ProfileCreated = %+v", ev)
	}
	if ev.BlockNumber != 12 || ev.LogIndex != 3 {
		t.Fatalf("position not carried: %+v", ev)
	}

	ev, _, err = g.Decode(makeLog(t, parsed, "AttendanceMarked", aliceAddr, big.NewInt(1704326400)))
	if err != nil || ev.Kind != tracker.EventAttendanceMarked || ev.Timestamp != 1704326400 {
		t.Fatalf("AttendanceMarked = %+v, %v", ev, err)
	}

	ev, _, err = g.Decode(makeLog(t, parsed, "AttendanceModified", aliceAddr, big.NewInt(1704326400), false))
	if err != nil || ev.Present == nil || *ev.Present {
		t.Fatalf("AttendanceModified = %+v, %v", ev, err)
	}

	ev, _, err = g.Decode(makeLog(t, parsed, "UserEvicted", aliceAddr))
	if err != nil || ev.Kind != tracker.EventUserEvicted || ev.Subject != aliceAddr {
		t.Fatalf("UserEvicted = %+v, %v", ev, err)
	}

	_, ok, err = g.Decode(types.Log{Topics: []common.Hash{common.HexToHash("0xdead")}})
	if ok || err != nil {
		t.Fatalf("unknown topic: ok=%v err=%v", ok, err)
	}
}

type mockFilterer struct {
	past []types.Log
	ch   chan<- types.Log
	subs chan struct{}
}

func (f *mockFilterer) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return f.past, nil
}

func (f *mockFilterer) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.ch = ch
	close(f.subs)
	return event.NewSubscription(func(quit <-chan struct{}) error {
		<-quit
		return nil
	}), nil
}

func TestWatch(t *testing.T) {
	g, _, _, _ := newTestGateway(t)
	f := &mockFilterer{
		past: []types.Log{makeLog(t, g.abi, "ProfileCreated", aliceAddr, "Alice")},
		subs: make(chan struct{}),
	}
	g.logs = f

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan tracker.LedgerEvent, 4)
	done := make(chan error, 1)
	go func() {
		done <- g.Watch(ctx, 1, func(_ context.Context, ev tracker.LedgerEvent) { got <- ev })
	}()

	<-f.subs
	removed := makeLog(t, g.abi, "UserEvicted", aliceAddr)
	removed.Removed = true
	f.ch <- removed
	f.ch <- makeLog(t, g.abi, "AttendanceMarked", aliceAddr, big.NewInt(1704326400))

	first := <-got
	second := <-got
	if first.Kind != tracker.EventProfileCreated || second.Kind != tracker.EventAttendanceMarked {
		t.Fatalf("events = %v, %v", first.Kind, second.Kind)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Watch returned %v", err)
	}
	select {
	case ev := <-got:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}
