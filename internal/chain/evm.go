package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

const defaultTransferGas = 100_000

var transferSelector = gethcrypto.Keccak256([]byte("transfer(address,uint256)"))[:4]

// EVMClient is the subset of the Ethereum RPC needed to submit token transfers.
type EVMClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
}

// DialEVMClient initialises an EVM RPC client for the provided endpoint.
func DialEVMClient(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// EVMConfig describes the seed token contract and the treasury account paying out of it.
type EVMConfig struct {
	TokenAddress  string
	Decimals      int32
	PrivateKeyHex string
	ChainID       int64
	GasLimit      uint64
}

// EVMTransferer sends seed tokens by calling transfer(address,uint256) on the
// ERC-20 contract from the treasury account.
type EVMTransferer struct {
	client   EVMClient
	token    common.Address
	decimals int32
	key      *ecdsa.PrivateKey
	from     common.Address
	signer   gethtypes.Signer
	gasLimit uint64

	// nonce allocation and submission happen under mu so concurrent deposits
	// do not reuse a nonce
	mu sync.Mutex
}

// NewEVMTransferer validates cfg and builds a transferer.
func NewEVMTransferer(client EVMClient, cfg EVMConfig) (*EVMTransferer, error) {
	if client == nil {
		return nil, fmt.Errorf("evm client is required")
	}
	if !common.IsHexAddress(cfg.TokenAddress) {
		return nil, fmt.Errorf("invalid token address %q", cfg.TokenAddress)
	}
	if cfg.ChainID <= 0 {
		return nil, fmt.Errorf("chain id must be positive")
	}
	if cfg.Decimals < 0 {
		return nil, fmt.Errorf("token decimals cannot be negative")
	}
	key, err := gethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse treasury key: %w", err)
	}
	gas := cfg.GasLimit
	if gas == 0 {
		gas = defaultTransferGas
	}
	return &EVMTransferer{
		client:   client,
		token:    common.HexToAddress(cfg.TokenAddress),
		decimals: cfg.Decimals,
		key:      key,
		from:     gethcrypto.PubkeyToAddress(key.PublicKey),
		signer:   gethtypes.LatestSignerForChainID(big.NewInt(cfg.ChainID)),
		gasLimit: gas,
	}, nil
}

// From returns the treasury address signing transfers.
func (t *EVMTransferer) From() common.Address { return t.from }

// Send implements Transferer.
func (t *EVMTransferer) Send(ctx context.Context, toAddress string, amount decimal.Decimal) (TransferReceipt, error) {
	if !common.IsHexAddress(toAddress) {
		return TransferReceipt{}, fmt.Errorf("%w: invalid recipient %q", ErrEffectFailed, toAddress)
	}
	if !amount.IsPositive() {
		return TransferReceipt{}, fmt.Errorf("%w: amount must be positive", ErrEffectFailed)
	}
	units := amount.Shift(t.decimals)
	if !units.Equal(units.Truncate(0)) {
		return TransferReceipt{}, fmt.Errorf("%w: amount %s exceeds %d token decimals", ErrEffectFailed, amount, t.decimals)
	}
	data := transferCallData(common.HexToAddress(toAddress), units.BigInt())

	t.mu.Lock()
	defer t.mu.Unlock()

	nonce, err := t.client.PendingNonceAt(ctx, t.from)
	if err != nil {
		return TransferReceipt{}, fmt.Errorf("%w: pending nonce: %v", ErrEffectFailed, err)
	}
	gasPrice, err := t.client.SuggestGasPrice(ctx)
	if err != nil {
		return TransferReceipt{}, fmt.Errorf("%w: gas price: %v", ErrEffectFailed, err)
	}

	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      t.gasLimit,
		To:       &t.token,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := gethtypes.SignTx(tx, t.signer, t.key)
	if err != nil {
		return TransferReceipt{}, fmt.Errorf("%w: sign transfer: %v", ErrEffectFailed, err)
	}
	if err := t.client.SendTransaction(ctx, signed); err != nil {
		return TransferReceipt{}, fmt.Errorf("%w: send transfer: %v", ErrEffectFailed, err)
	}
	return TransferReceipt{TxRef: signed.Hash().Hex()}, nil
}

func transferCallData(to common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, transferSelector...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}
