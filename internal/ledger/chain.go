package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"flowai/internal/domain"
	"flowai/internal/logging"
)

const (
	DefaultClaimGas       = 200_000
	DefaultCompleteGas    = 300_000
	defaultReceiptTimeout = 2 * time.Minute
)

type ChainConfig struct {
	RPCURL         string
	PrivateKey     string
	TaskContract   string
	ClaimGas       uint64
	CompleteGas    uint64
	ReceiptTimeout time.Duration
}

// Chain talks to the task contract over JSON-RPC. Writes are signed locally
// and awaited until mined.
type Chain struct {
	client   *ethclient.Client
	abi      abi.ABI
	contract common.Address
	key      *ecdsa.PrivateKey
	account  common.Address
	chainID  *big.Int
	log      logging.Logger

	claimGas, completeGas uint64
	receiptTimeout        time.Duration

	// nonce allocation
	sendMu sync.Mutex
}

var _ Gateway = (*Chain)(nil)

func parseTaskABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(taskContractABI))
}

// DialChain connects, derives the account from the key and reads the chain id.
func DialChain(ctx context.Context, cfg ChainConfig, log logging.Logger) (*Chain, error) {
	if !common.IsHexAddress(cfg.TaskContract) {
		return nil, fmt.Errorf("task contract %q is not an address", cfg.TaskContract)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	parsed, err := parseTaskABI()
	if err != nil {
		return nil, fmt.Errorf("parse task abi: %w", err)
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("read chain id: %w", err)
	}
	c := &Chain{
		client:         client,
		abi:            parsed,
		contract:       common.HexToAddress(cfg.TaskContract),
		key:            key,
		account:        crypto.PubkeyToAddress(key.PublicKey),
		chainID:        chainID,
		log:            logging.OrDefault(log),
		claimGas:       cfg.ClaimGas,
		completeGas:    cfg.CompleteGas,
		receiptTimeout: cfg.ReceiptTimeout,
	}
	if c.claimGas == 0 {
		c.claimGas = DefaultClaimGas
	}
	if c.completeGas == 0 {
		c.completeGas = DefaultCompleteGas
	}
	if c.receiptTimeout <= 0 {
		c.receiptTimeout = defaultReceiptTimeout
	}
	c.log.Infof("ledger: connected to chain %s as %s", chainID, c.account.Hex())
	return c, nil
}

func (c *Chain) Close() {
	c.client.Close()
}

func (c *Chain) Account() string { return c.account.Hex() }

func (c *Chain) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.client.CallContract(ctx, ethereum.CallMsg{From: c.account, To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func (c *Chain) ListAvailable(ctx context.Context) ([]uint64, error) {
	values, err := c.call(ctx, "getAvailableTasks")
	if err != nil {
		return nil, err
	}
	return decodeIDs(values)
}

// WorkerTasks lists every task id the contract associates with account.
func (c *Chain) WorkerTasks(ctx context.Context, account string) ([]uint64, error) {
	values, err := c.call(ctx, "getWorkerTasks", common.HexToAddress(account))
	if err != nil {
		return nil, err
	}
	return decodeIDs(values)
}

func (c *Chain) Task(ctx context.Context, id uint64) (domain.Task, error) {
	values, err := c.call(ctx, "getTask", new(big.Int).SetUint64(id))
	if err != nil {
		return domain.Task{}, err
	}
	t, err := decodeTask(values)
	if err != nil {
		return domain.Task{}, err
	}
	if t.ID == 0 {
		return domain.Task{}, ErrTaskNotFound
	}
	if err := Validate(t); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Claim checks the task is still open before spending gas.
func (c *Chain) Claim(ctx context.Context, id uint64) (bool, error) {
	t, err := c.Task(ctx, id)
	if err != nil {
		return false, err
	}
	if t.IsClaimed || t.IsCompleted {
		return false, nil
	}
	return c.transact(ctx, c.claimGas, "claimTask", new(big.Int).SetUint64(id))
}

func (c *Chain) Complete(ctx context.Context, id uint64, result string) (bool, error) {
	t, err := c.Task(ctx, id)
	if err != nil {
		return false, err
	}
	if !t.IsClaimed || t.IsCompleted || !strings.EqualFold(t.Worker, c.account.Hex()) {
		return false, nil
	}
	return c.transact(ctx, c.completeGas, "completeTask", new(big.Int).SetUint64(id), result)
}

// transact signs, sends and waits for the receipt. A reverted transaction is
// reported as false.
func (c *Chain) transact(ctx context.Context, gas uint64, method string, args ...any) (bool, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return false, fmt.Errorf("pack %s: %w", method, err)
	}
	signed, err := c.signAndSend(ctx, gas, data)
	if err != nil {
		return false, fmt.Errorf("send %s: %w", method, err)
	}
	c.log.Infof("ledger: %s sent tx %s", method, signed.Hash().Hex())
	waitCtx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, c.client, signed)
	if err != nil {
		return false, fmt.Errorf("wait %s receipt: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		c.log.Warnf("ledger: %s tx %s reverted in block %s", method, signed.Hash().Hex(), receipt.BlockNumber)
		return false, nil
	}
	return true, nil
}

func (c *Chain) signAndSend(ctx context.Context, gas uint64, data []byte) (*types.Transaction, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	nonce, err := c.client.PendingNonceAt(ctx, c.account)
	if err != nil {
		return nil, err
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Value:    new(big.Int),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, err
	}
	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return nil, err
	}
	return signed, nil
}

// WorkerStats falls back to the baseline record for accounts the contract has
// never seen.
func (c *Chain) WorkerStats(ctx context.Context, account string) (domain.WorkerStats, error) {
	if !common.IsHexAddress(account) {
		return domain.WorkerStats{}, fmt.Errorf("invalid account %q", account)
	}
	values, err := c.call(ctx, "getWorker", common.HexToAddress(account))
	if err != nil {
		return domain.WorkerStats{}, err
	}
	stats, err := decodeWorker(values)
	if err != nil {
		return domain.WorkerStats{}, err
	}
	if domain.IsZeroAddress(stats.Address) {
		s := domain.NewWorkerStats(account)
		s.IsActive = false
		return s, nil
	}
	return stats, nil
}

func (c *Chain) Balance(ctx context.Context, account string) (*big.Int, error) {
	if !common.IsHexAddress(account) {
		return nil, fmt.Errorf("invalid account %q", account)
	}
	return c.client.BalanceAt(ctx, common.HexToAddress(account), nil)
}

// NetworkStatus never fails; an unreachable node reports Connected=false.
func (c *Chain) NetworkStatus(ctx context.Context) (domain.NetworkStatus, error) {
	status := domain.NetworkStatus{ChainID: c.chainID.Uint64()}
	block, err := c.client.BlockNumber(ctx)
	if err != nil {
		c.log.Warnf("ledger: block number: %v", err)
		return status, nil
	}
	price, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		c.log.Warnf("ledger: gas price: %v", err)
		return status, nil
	}
	status.LatestBlock = block
	status.FeeEstimate = price
	status.Connected = true
	return status, nil
}

var errDecode = errors.New("unexpected contract output")

func decodeIDs(values []any) ([]uint64, error) {
	if len(values) != 1 {
		return nil, errDecode
	}
	raw, ok := values[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: id list is %T", errDecode, values[0])
	}
	ids := make([]uint64, 0, len(raw))
	for _, v := range raw {
		if v.Sign() > 0 && v.IsUint64() {
			ids = append(ids, v.Uint64())
		}
	}
	return ids, nil
}

func decodeTask(values []any) (domain.Task, error) {
	if len(values) != 12 {
		return domain.Task{}, fmt.Errorf("%w: getTask returned %d values", errDecode, len(values))
	}
	id, ok0 := values[0].(*big.Int)
	publisher, ok1 := values[1].(common.Address)
	title, ok2 := values[2].(string)
	desc, ok3 := values[3].(string)
	reward, ok4 := values[4].(*big.Int)
	completed, ok5 := values[5].(bool)
	claimed, ok6 := values[6].(bool)
	worker, ok7 := values[7].(common.Address)
	created, ok8 := values[8].(*big.Int)
	deadline, ok9 := values[9].(*big.Int)
	kind, ok10 := values[10].(string)
	reqs, ok11 := values[11].(string)
	if !(ok0 && ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7 && ok8 && ok9 && ok10 && ok11) {
		return domain.Task{}, fmt.Errorf("%w: getTask types", errDecode)
	}
	return domain.Task{
		ID:           id.Uint64(),
		Publisher:    publisher.Hex(),
		Title:        domain.ParseText(title),
		Description:  domain.ParseText(desc),
		Requirements: domain.ParseText(reqs),
		Reward:       reward,
		Category:     kind,
		CreatedAt:    created.Int64(),
		Deadline:     deadline.Int64(),
		Worker:       worker.Hex(),
		IsClaimed:    claimed,
		IsCompleted:  completed,
	}, nil
}

func decodeWorker(values []any) (domain.WorkerStats, error) {
	if len(values) != 5 {
		return domain.WorkerStats{}, fmt.Errorf("%w: getWorker returned %d values", errDecode, len(values))
	}
	addr, ok1 := values[0].(common.Address)
	rep, ok2 := values[1].(*big.Int)
	done, ok3 := values[2].(*big.Int)
	earned, ok4 := values[3].(*big.Int)
	active, ok5 := values[4].(bool)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return domain.WorkerStats{}, fmt.Errorf("%w: getWorker types", errDecode)
	}
	return domain.WorkerStats{
		Address:        addr.Hex(),
		Reputation:     rep.Int64(),
		CompletedTasks: done.Uint64(),
		TotalEarnings:  earned,
		IsActive:       active,
	}, nil
}
