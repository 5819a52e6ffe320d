package ethchain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// wallet signs every transaction of the adapter and manages the nonce itself
// so that concurrent submissions do not collide.
type wallet struct {
	key     *ecdsa.PrivateKey
	client  Client
	chainID *big.Int

	mu    *sync.Mutex
	addr  common.Address
	nonce uint64
}

func newWallet(ctx context.Context, key *ecdsa.PrivateKey, client Client, chainID *big.Int) (*wallet, error) {
	addr := crypto.PubkeyToAddress(key.PublicKey)
	nonce, err := client.PendingNonceAt(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &wallet{
		key:     key,
		client:  client,
		chainID: chainID,
		mu:      new(sync.Mutex),
		addr:    addr,
		nonce:   nonce,
	}, nil
}

func (w *wallet) Address() common.Address {
	return w.addr
}

// send submits a contract call with the next nonce.
func (w *wallet) send(ctx context.Context, contract *bind.BoundContract, value *big.Int, method string, args ...interface{}) (*types.Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	transactor, err := w.transactor(ctx)
	if err != nil {
		return nil, err
	}
	transactor.Value = value

	tx, err := contract.Transact(transactor, method, args...)
	if err != nil {
		if strings.Contains(err.Error(), "nonce too low") {
			if inErr := w.calibrateNonce(); inErr != nil {
				return nil, fmt.Errorf("%s failed = %v, reset nonce failed = %v", method, err, inErr)
			}
		}
		return nil, err
	}
	w.nonce++
	return tx, nil
}

// approve grants spender the max allowance of token when the current one is
// below amount, and waits for the approval to be mined.
func (w *wallet) approve(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	erc20 := bind.NewBoundContract(token, erc20ABI, w.client, w.client, w.client)
	var out []interface{}
	if err := erc20.Call(&bind.CallOpts{Context: ctx}, &out, "allowance", w.addr, spender); err != nil {
		return err
	}
	allowance := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	if allowance.Cmp(amount) >= 0 {
		return nil
	}

	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	tx, err := w.send(ctx, erc20, nil, "approve", spender, max)
	if err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, w.client, tx)
	if err != nil {
		return err
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return fmt.Errorf("tx reverted, hash = %v", receipt.TxHash.Hex())
	}
	return nil
}

func (w *wallet) calibrateNonce() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	nonce, err := w.client.PendingNonceAt(ctx, w.addr)
	if err != nil {
		return err
	}
	w.nonce = nonce
	return nil
}

func (w *wallet) transactor(ctx context.Context) (*bind.TransactOpts, error) {
	transactor, err := bind.NewKeyedTransactorWithChainID(w.key, w.chainID)
	if err != nil {
		return nil, err
	}
	transactor.Nonce = new(big.Int).SetUint64(w.nonce)
	transactor.Context = ctx
	return transactor, nil
}
