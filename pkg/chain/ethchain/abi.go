package ethchain

import (
	"math/big"
	"strings"

	"github.com/catalogfi/xswap/pkg/swap"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const immutablesComponents = `[
	{"name":"orderHash","type":"bytes32"},
	{"name":"hashlock","type":"bytes32"},
	{"name":"maker","type":"uint256"},
	{"name":"taker","type":"uint256"},
	{"name":"token","type":"uint256"},
	{"name":"amount","type":"uint256"},
	{"name":"safetyDeposit","type":"uint256"},
	{"name":"timelocks","type":"uint256"}
]`

const factoryJSON = `[
	{"type":"function","name":"createDstEscrow","stateMutability":"payable","inputs":[
		{"name":"dstImmutables","type":"tuple","components":IMMUTABLES},
		{"name":"srcCancellationTimestamp","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"addressOfEscrowSrc","stateMutability":"view","inputs":[
		{"name":"immutables","type":"tuple","components":IMMUTABLES}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"addressOfEscrowDst","stateMutability":"view","inputs":[
		{"name":"immutables","type":"tuple","components":IMMUTABLES}],"outputs":[{"name":"","type":"address"}]},
	{"type":"event","name":"SrcEscrowCreated","anonymous":false,"inputs":[
		{"name":"srcImmutables","type":"tuple","indexed":false,"components":IMMUTABLES},
		{"name":"dstImmutablesComplement","type":"tuple","indexed":false,"components":[
			{"name":"maker","type":"uint256"},
			{"name":"amount","type":"uint256"},
			{"name":"token","type":"uint256"},
			{"name":"safetyDeposit","type":"uint256"}]}]},
	{"type":"event","name":"DstEscrowCreated","anonymous":false,"inputs":[
		{"name":"escrow","type":"address","indexed":false},
		{"name":"hashlock","type":"bytes32","indexed":false},
		{"name":"taker","type":"uint256","indexed":false}]}
]`

const escrowJSON = `[
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[
		{"name":"secret","type":"bytes32"},
		{"name":"immutables","type":"tuple","components":IMMUTABLES}],"outputs":[]},
	{"type":"function","name":"cancel","stateMutability":"nonpayable","inputs":[
		{"name":"immutables","type":"tuple","components":IMMUTABLES}],"outputs":[]},
	{"type":"event","name":"EscrowWithdrawal","anonymous":false,"inputs":[
		{"name":"secret","type":"bytes32","indexed":false}]},
	{"type":"event","name":"EscrowCancelled","anonymous":false,"inputs":[]}
]`

const resolverJSON = `[
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[
		{"name":"escrow","type":"address"},
		{"name":"secret","type":"bytes32"},
		{"name":"immutables","type":"tuple","components":IMMUTABLES}],"outputs":[]},
	{"type":"function","name":"cancel","stateMutability":"nonpayable","inputs":[
		{"name":"escrow","type":"address"},
		{"name":"immutables","type":"tuple","components":IMMUTABLES}],"outputs":[]}
]`

const erc20JSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
		{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[
		{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[
		{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var (
	factoryABI  = mustParse(factoryJSON)
	escrowABI   = mustParse(escrowJSON)
	resolverABI = mustParse(resolverJSON)
	erc20ABI    = mustParse(erc20JSON)

	srcCreatedID = factoryABI.Events["SrcEscrowCreated"].ID
	dstCreatedID = factoryABI.Events["DstEscrowCreated"].ID
	withdrawalID = escrowABI.Events["EscrowWithdrawal"].ID
	cancelledID  = escrowABI.Events["EscrowCancelled"].ID
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(strings.ReplaceAll(def, "IMMUTABLES", immutablesComponents)))
	if err != nil {
		panic(err)
	}
	return parsed
}

// immutables is the on-chain encoding of swap.Immutables. Addresses are
// packed into uint256 words.
type immutables struct {
	OrderHash     [32]byte
	Hashlock      [32]byte
	Maker         *big.Int
	Taker         *big.Int
	Token         *big.Int
	Amount        *big.Int
	SafetyDeposit *big.Int
	Timelocks     *big.Int
}

type complement struct {
	Maker         *big.Int
	Amount        *big.Int
	Token         *big.Int
	SafetyDeposit *big.Int
}

type srcCreated struct {
	Immutables immutables
	Complement complement
}

func encodeImmutables(im swap.Immutables) immutables {
	deposit := im.SafetyDeposit
	if deposit == nil {
		deposit = big.NewInt(0)
	}
	return immutables{
		OrderHash:     im.OrderHash,
		Hashlock:      im.Hashlock,
		Maker:         addressWord(im.Maker),
		Taker:         addressWord(im.Taker),
		Token:         addressWord(tokenAddress(im.Token).Hex()),
		Amount:        new(big.Int).Set(im.Amount),
		SafetyDeposit: new(big.Int).Set(deposit),
		Timelocks:     im.PackedTimelocks(),
	}
}

func decodeImmutables(word immutables) swap.Immutables {
	timelocks, deployedAt := swap.UnpackTimelocks(word.Timelocks)
	token := wordAddress(word.Token)
	return swap.Immutables{
		OrderHash:     word.OrderHash,
		Hashlock:      word.Hashlock,
		Maker:         wordAddress(word.Maker).Hex(),
		Taker:         wordAddress(word.Taker).Hex(),
		Token:         tokenName(token),
		Amount:        new(big.Int).Set(word.Amount),
		SafetyDeposit: new(big.Int).Set(word.SafetyDeposit),
		Timelocks:     timelocks,
		DeployedAt:    deployedAt,
	}
}

func addressWord(addr string) *big.Int {
	return new(big.Int).SetBytes(common.HexToAddress(addr).Bytes())
}

func wordAddress(word *big.Int) common.Address {
	return common.BigToAddress(word)
}

// tokenAddress maps the native asset to the zero address.
func tokenAddress(token string) common.Address {
	switch strings.ToLower(token) {
	case "", "native", "eth":
		return common.Address{}
	default:
		return common.HexToAddress(token)
	}
}

func tokenName(addr common.Address) string {
	if addr == (common.Address{}) {
		return "native"
	}
	return addr.Hex()
}
