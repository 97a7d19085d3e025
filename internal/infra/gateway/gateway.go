package gateway

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/attendance-tracker"
	"github.com/totegamma/attendance-tracker/internal/domain"
	"github.com/totegamma/attendance-tracker/internal/usecase"
)

var tracer = otel.Tracer("gateway")

var logger = log.New("gateway")

// Backend is what the gateway needs from a node connection.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Signer produces transaction options for an identity it holds keys for.
type Signer interface {
	Transactor(ctx context.Context, from common.Address) (*bind.TransactOpts, error)
}

// contract is the subset of *bind.BoundContract the gateway calls.
type contract interface {
	Call(opts *bind.CallOpts, results *[]interface{}, method string, params ...interface{}) error
	Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error)
	UnpackLog(out interface{}, event string, log types.Log) error
}

type Gateway struct {
	address        common.Address
	abi            abi.ABI
	contract       contract
	receipts       bind.DeployBackend
	logs           bind.ContractFilterer
	signer         Signer
	confirmTimeout time.Duration
}

// NewGateway binds the attendance contract at address. A zero
// confirmTimeout waits for confirmation indefinitely.
func NewGateway(address common.Address, backend Backend, signer Signer, confirmTimeout time.Duration) (*Gateway, error) {
	parsed, err := abi.JSON(strings.NewReader(AttendanceABI))
	if err != nil {
		return nil, errors.Wrap(err, "parse attendance abi")
	}
	return &Gateway{
		address:        address,
		abi:            parsed,
		contract:       bind.NewBoundContract(address, parsed, backend, backend, backend),
		receipts:       backend,
		logs:           backend,
		signer:         signer,
		confirmTimeout: confirmTimeout,
	}, nil
}

func (g *Gateway) Address() common.Address {
	return g.address
}

func (g *Gateway) call(ctx context.Context, method string, params ...interface{}) ([]interface{}, error) {
	var out []interface{}
	err := g.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...)
	if err != nil {
		return nil, domain.RemoteReadError{Op: method, Err: errors.Wrap(err, "call")}
	}
	return out, nil
}

func (g *Gateway) Admin(ctx context.Context) (common.Address, error) {
	ctx, span := tracer.Start(ctx, "Ledger.Gateway.Admin")
	defer span.End()

	out, err := g.call(ctx, "admin")
	if err != nil {
		span.RecordError(err)
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

func (g *Gateway) User(ctx context.Context, addr common.Address) (tracker.UserRecord, error) {
	ctx, span := tracer.Start(ctx, "Ledger.Gateway.User")
	defer span.End()

	out, err := g.call(ctx, "users", addr)
	if err != nil {
		span.RecordError(err)
		return tracker.UserRecord{}, err
	}
	return tracker.UserRecord{
		Profile:    tracker.Profile(*abi.ConvertType(out[0], new(string)).(*string)),
		Registered: *abi.ConvertType(out[1], new(bool)).(*bool),
	}, nil
}

func (g *Gateway) CheckAttendance(ctx context.Context, subject common.Address, timestamp int64) (bool, error) {
	ctx, span := tracer.Start(ctx, "Ledger.Gateway.CheckAttendance")
	defer span.End()

	out, err := g.call(ctx, "checkAttendance", subject, big.NewInt(timestamp))
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (g *Gateway) CreateProfile(ctx context.Context, from common.Address, profile tracker.Profile) error {
	return g.transact(ctx, from, "createProfile", string(profile))
}

func (g *Gateway) MarkAttendance(ctx context.Context, from common.Address, timestamp int64) error {
	return g.transact(ctx, from, "markAttendance", big.NewInt(timestamp))
}

func (g *Gateway) ModifyAttendance(ctx context.Context, from, subject common.Address, timestamp int64, present bool) error {
	return g.transact(ctx, from, "modifyAttendance", subject, big.NewInt(timestamp), present)
}

func (g *Gateway) EvictUser(ctx context.Context, from, subject common.Address) error {
	return g.transact(ctx, from, "evictUser", subject)
}

// transact submits method and blocks until the transaction is mined.
func (g *Gateway) transact(ctx context.Context, from common.Address, method string, params ...interface{}) error {
	ctx, span := tracer.Start(ctx, "Ledger.Gateway.Transact")
	defer span.End()
	span.SetAttributes(attribute.String("method", method), attribute.String("from", from.Hex()))

	opts, err := g.signer.Transactor(ctx, from)
	if err != nil {
		span.RecordError(err)
		return domain.RemoteWriteError{Op: method, Stage: domain.StageSubmit, Err: errors.Wrap(err, "signer")}
	}
	opts.Context = ctx

	tx, err := g.contract.Transact(opts, method, params...)
	if err != nil {
		span.RecordError(err)
		return domain.RemoteWriteError{Op: method, Stage: domain.StageSubmit, Err: errors.Wrap(err, "send transaction")}
	}
	span.SetAttributes(attribute.String("tx", tx.Hash().Hex()))
	logger.Infof("%s submitted by %s: %s", method, from.Hex(), tx.Hash().Hex())

	waitCtx := ctx
	if g.confirmTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, g.confirmTimeout)
		defer cancel()
	}

	receipt, err := bind.WaitMined(waitCtx, g.receipts, tx)
	if err != nil {
		span.RecordError(err)
		return domain.RemoteWriteError{Op: method, Stage: domain.StageConfirm, Err: errors.Wrapf(err, "wait for %s", tx.Hash().Hex())}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		err := errors.Wrapf(domain.ErrReverted, "%s in block %d", tx.Hash().Hex(), receipt.BlockNumber)
		span.RecordError(err)
		return domain.RemoteWriteError{Op: method, Stage: domain.StageConfirm, Err: err}
	}
	return nil
}

var _ usecase.LedgerGateway = (*Gateway)(nil)
