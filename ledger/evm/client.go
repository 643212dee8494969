// Package evm implements the ledger client for EVM chains with a
// minimal ERC-20 surface (balanceOf, transfer) submitted as EIP-1559
// transactions.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mark3labs/agentwallet-go/ledger"
	"github.com/mark3labs/agentwallet-go/x402"
)

const (
	// erc20GasLimit is a fixed ceiling for plain ERC-20 transfers.
	erc20GasLimit = 100_000

	// defaultReceiptTimeout bounds the confirmation wait after submission.
	defaultReceiptTimeout = 60 * time.Second

	receiptPollInterval = 2 * time.Second
)

// erc20ABI is the minimal token surface the wallet calls.
const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

// NodeClient is the subset of the Ethereum JSON-RPC surface the client
// uses. *ethclient.Client satisfies it; tests substitute their own.
type NodeClient interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// DialNode connects to an Ethereum node. Overridable in tests.
var DialNode = func(rpcURL string) (NodeClient, error) {
	node, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to node at %s: %w", rpcURL, err)
	}
	return node, nil
}

// Client talks to one chain's USDC contract on behalf of one account.
type Client struct {
	node           NodeClient
	chainID        *big.Int
	token          common.Address
	decimals       int32
	privateKey     *ecdsa.PrivateKey
	address        common.Address
	erc20          abi.ABI
	receiptTimeout time.Duration
	logger         *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithReceiptTimeout overrides the confirmation wait.
func WithReceiptTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.receiptTimeout = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New dials rpcURL and returns a client for the chain's USDC asset.
// privateKeyHex is the account's key with or without 0x prefix.
func New(rpcURL, privateKeyHex string, chain x402.ChainConfig, opts ...Option) (*Client, error) {
	node, err := DialNode(rpcURL)
	if err != nil {
		return nil, err
	}
	return NewWithNode(node, privateKeyHex, chain, opts...)
}

// NewWithNode builds a client over an existing node connection.
func NewWithNode(node NodeClient, privateKeyHex string, chain x402.ChainConfig, opts ...Option) (*Client, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidKey, err)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse erc20 abi: %w", err)
	}

	c := &Client{
		node:           node,
		chainID:        chain.ChainIDBig(),
		token:          common.HexToAddress(chain.USDCAddress),
		decimals:       chain.Decimals,
		privateKey:     privateKey,
		address:        crypto.PubkeyToAddress(privateKey.PublicKey),
		erc20:          parsed,
		receiptTimeout: defaultReceiptTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Address returns the account the client signs with.
func (c *Client) Address() common.Address {
	return c.address
}

// Balance returns the USDC balance of address in smallest units.
func (c *Client) Balance(ctx context.Context, address string) (ledger.Balance, error) {
	data, err := c.erc20.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return ledger.Balance{}, fmt.Errorf("failed to pack balanceOf: %w", err)
	}

	out, err := c.node.CallContract(ctx, ethereum.CallMsg{To: &c.token, Data: data}, nil)
	if err != nil {
		return ledger.Balance{}, fmt.Errorf("balanceOf call failed: %w", err)
	}

	results, err := c.erc20.Unpack("balanceOf", out)
	if err != nil {
		return ledger.Balance{}, fmt.Errorf("failed to decode balanceOf result: %w", err)
	}
	amount, ok := results[0].(*big.Int)
	if !ok {
		return ledger.Balance{}, fmt.Errorf("unexpected balanceOf result type %T", results[0])
	}

	return ledger.Balance{Amount: amount, Decimals: c.decimals}, nil
}

// NativeBalance returns the account's gas-token balance in wei.
func (c *Client) NativeBalance(ctx context.Context) (*big.Int, error) {
	return c.node.BalanceAt(ctx, c.address, nil)
}

// Transfer sends amount (smallest units) of USDC to the recipient and
// waits for the receipt. A receipt with a failed status maps to
// ledger.ErrTransferReverted.
func (c *Client) Transfer(ctx context.Context, to string, amount *big.Int) (ledger.TransferResult, error) {
	have, err := c.Balance(ctx, c.address.Hex())
	if err != nil {
		return ledger.TransferResult{}, err
	}
	if have.Amount.Cmp(amount) < 0 {
		return ledger.TransferResult{}, fmt.Errorf("%w: have %s, need %s",
			ledger.ErrInsufficientFunds, have.Amount, amount)
	}

	data, err := c.erc20.Pack("transfer", common.HexToAddress(to), amount)
	if err != nil {
		return ledger.TransferResult{}, fmt.Errorf("failed to pack transfer: %w", err)
	}

	tx, err := c.buildDynamicFeeTx(ctx, data)
	if err != nil {
		return ledger.TransferResult{}, err
	}

	signedTx, err := ethtypes.SignTx(tx, ethtypes.NewLondonSigner(c.chainID), c.privateKey)
	if err != nil {
		return ledger.TransferResult{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.node.SendTransaction(ctx, signedTx); err != nil {
		return ledger.TransferResult{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	txHash := signedTx.Hash()
	c.logger.Info("submitted usdc transfer",
		"tx_hash", txHash.Hex(),
		"to", to,
		"amount", amount.String(),
		"chain_id", c.chainID.String())

	receipt, err := c.waitForReceipt(ctx, txHash)
	if err != nil {
		return ledger.TransferResult{}, err
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return ledger.TransferResult{}, fmt.Errorf("%w: tx %s", ledger.ErrTransferReverted, txHash.Hex())
	}

	return ledger.TransferResult{TxID: txHash.Hex(), Confirmed: true}, nil
}

// buildDynamicFeeTx assembles an EIP-1559 transaction calling the
// token contract with data. The fee cap follows 2*baseFee + tip.
func (c *Client) buildDynamicFeeTx(ctx context.Context, data []byte) (*ethtypes.Transaction, error) {
	nonce, err := c.node.PendingNonceAt(ctx, c.address)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	tipCap, err := c.node.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas tip cap: %w", err)
	}

	head, err := c.node.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain head: %w", err)
	}
	if head.BaseFee == nil {
		return nil, fmt.Errorf("chain %s does not report a base fee", c.chainID)
	}

	feeCap := new(big.Int).Add(
		new(big.Int).Mul(head.BaseFee, big.NewInt(2)),
		tipCap,
	)

	return ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       erc20GasLimit,
		To:        &c.token,
		Data:      data,
	}), nil
}

// waitForReceipt polls for the transaction receipt until it lands or
// the receipt timeout elapses.
func (c *Client) waitForReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.node.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for receipt of %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
