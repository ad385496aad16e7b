package escrow

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"chainrails/internal/contracts"
)

// EthBackend implements Backend over a JSON-RPC provider. It makes no
// assumption about the provider vendor beyond standard method availability.
type EthBackend struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	abi      abi.ABI
	address  common.Address
	chainID  *big.Int
}

// NewEthBackend dials the RPC endpoint and binds the escrow contract.
func NewEthBackend(ctx context.Context, rpcURL, contractAddr string) (*EthBackend, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(contractAddr) {
		return nil, fmt.Errorf("invalid escrow contract address %q", contractAddr)
	}

	cli, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(contracts.EscrowABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	address := common.HexToAddress(contractAddr)
	return &EthBackend{
		client:   cli,
		contract: bind.NewBoundContract(address, parsedABI, cli, cli, cli),
		abi:      parsedABI,
		address:  address,
		chainID:  chainID,
	}, nil
}

// Reader exposes the underlying client for the gas estimator.
func (b *EthBackend) Reader() *ethclient.Client {
	return b.client
}

// Close releases the RPC connection.
func (b *EthBackend) Close() {
	b.client.Close()
}

func (b *EthBackend) transactOpts(ctx context.Context, key *ecdsa.PrivateKey, gasLimit uint64, value *big.Int) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(key, b.chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	opts.Context = ctx
	opts.GasLimit = gasLimit
	opts.Value = value
	return opts, nil
}

func (b *EthBackend) SubmitCreate(ctx context.Context, key *ecdsa.PrivateKey, receiver common.Address, amountWei *big.Int, gasLimit uint64) (common.Hash, error) {
	opts, err := b.transactOpts(ctx, key, gasLimit, amountWei)
	if err != nil {
		return common.Hash{}, err
	}
	tx, err := b.contract.Transact(opts, "createEscrow", receiver)
	if err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

func (b *EthBackend) SubmitClaim(ctx context.Context, key *ecdsa.PrivateKey, escrowID uint64, gasLimit uint64) (common.Hash, error) {
	opts, err := b.transactOpts(ctx, key, gasLimit, nil)
	if err != nil {
		return common.Hash{}, err
	}
	tx, err := b.contract.Transact(opts, "claim", new(big.Int).SetUint64(escrowID))
	if err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

func (b *EthBackend) SubmitRefund(ctx context.Context, key *ecdsa.PrivateKey, escrowID uint64, gasLimit uint64) (common.Hash, error) {
	opts, err := b.transactOpts(ctx, key, gasLimit, nil)
	if err != nil {
		return common.Hash{}, err
	}
	tx, err := b.contract.Transact(opts, "refund", new(big.Int).SetUint64(escrowID))
	if err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

func (b *EthBackend) EscrowDetails(ctx context.Context, escrowID uint64) (Details, error) {
	var out []interface{}
	err := b.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getEscrowDetails", new(big.Int).SetUint64(escrowID))
	if err != nil {
		return Details{}, err
	}
	if len(out) != 7 {
		return Details{}, fmt.Errorf("getEscrowDetails returned %d values", len(out))
	}
	return Details{
		Sender:     out[0].(common.Address),
		Receiver:   out[1].(common.Address),
		Amount:     out[2].(*big.Int),
		Status:     out[3].(uint8),
		CreatedAt:  out[4].(*big.Int).Uint64(),
		ClaimedAt:  out[5].(*big.Int).Uint64(),
		RefundedAt: out[6].(*big.Int).Uint64(),
	}, nil
}

func (b *EthBackend) PendingActions(ctx context.Context, addr common.Address) (PendingActionSet, error) {
	var out []interface{}
	err := b.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getPendingActions", addr)
	if err != nil {
		return PendingActionSet{}, err
	}
	if len(out) != 2 {
		return PendingActionSet{}, fmt.Errorf("getPendingActions returned %d values", len(out))
	}
	return PendingActionSet{
		Claimable:  toUint64s(out[0].([]*big.Int)),
		Refundable: toUint64s(out[1].([]*big.Int)),
	}, nil
}

func (b *EthBackend) EscrowCount(ctx context.Context) (uint64, error) {
	var out []interface{}
	err := b.contract.Call(&bind.CallOpts{Context: ctx}, &out, "escrowCount")
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("escrowCount returned %d values", len(out))
	}
	return out[0].(*big.Int).Uint64(), nil
}

// WaitMined polls for the transaction receipt until the context ends.
func (b *EthBackend) WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := b.client.TransactionReceipt(ctx, txHash)
		if receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// CreatedID extracts the escrow id from the EscrowCreated event in the
// receipt's logs.
func (b *EthBackend) CreatedID(receipt *types.Receipt) (uint64, error) {
	eventID := b.abi.Events["EscrowCreated"].ID
	for _, lg := range receipt.Logs {
		if lg.Address != b.address || len(lg.Topics) < 2 || lg.Topics[0] != eventID {
			continue
		}
		return new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64(), nil
	}
	return 0, fmt.Errorf("no EscrowCreated event in receipt %s", receipt.TxHash.Hex())
}

// CallMsg packs the call data for gas estimation of the exact operation.
func (b *EthBackend) CallMsg(op Op, sender common.Address, escrowID uint64, receiver common.Address, value *big.Int) (ethereum.CallMsg, error) {
	var (
		data []byte
		err  error
	)
	switch op {
	case OpCreate:
		data, err = b.abi.Pack(string(OpCreate), receiver)
	case OpClaim, OpRefund:
		data, err = b.abi.Pack(string(op), new(big.Int).SetUint64(escrowID))
		value = nil
	default:
		return ethereum.CallMsg{}, fmt.Errorf("unknown operation %q", op)
	}
	if err != nil {
		return ethereum.CallMsg{}, fmt.Errorf("pack %s: %w", op, err)
	}
	return ethereum.CallMsg{
		From:  sender,
		To:    &b.address,
		Value: value,
		Data:  data,
	}, nil
}

func toUint64s(in []*big.Int) []uint64 {
	out := make([]uint64, 0, len(in))
	for _, v := range in {
		out = append(out, v.Uint64())
	}
	return out
}
