package utils_test

import (
	"crypto/ed25519"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/chain/movechain"
	"github.com/catalogfi/xswap/utils"
	"github.com/ethereum/go-ethereum/crypto"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const mnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon art"

var _ = Describe("Config", func() {
	var path string

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "config.json")
	})

	write := func(cfg map[string]interface{}) {
		data, err := json.Marshal(cfg)
		Expect(err).Should(BeNil())
		Expect(os.WriteFile(path, data, 0600)).Should(Succeed())
	}

	It("should read the chain registry and apply defaults", func() {
		write(map[string]interface{}{
			"mnemonic": mnemonic,
			"chains": map[string]interface{}{
				"ethereum_sepolia": map[string]interface{}{"kind": "evm", "rpc": "http://localhost:8545", "chainId": 11155111, "max": "1000"},
				"aptos_testnet":    map[string]interface{}{"kind": "move", "rpc": "http://localhost:8080/v1", "module": "0xcafe::swap_v3", "initLedger": true},
			},
		})

		cfg, err := utils.LoadConfig(path)
		Expect(err).Should(BeNil())
		Expect(cfg.RPCServer).Should(Equal("localhost:8080"))
		Expect(cfg.PollInterval).Should(Equal(15 * time.Second))
		Expect(cfg.Chains).Should(HaveLen(2))
		Expect(cfg.Chains["ethereum_sepolia"].Kind).Should(Equal(chain.KindEVM))
		Expect(cfg.Chains["ethereum_sepolia"].ChainID).Should(Equal(uint64(11155111)))
		Expect(cfg.Chains["aptos_testnet"].InitLedger).Should(BeTrue())

		min, max, err := cfg.Chains["ethereum_sepolia"].Limits()
		Expect(err).Should(BeNil())
		Expect(min).Should(BeNil())
		Expect(max.String()).Should(Equal("1000"))
	})

	It("should let the environment override the file", func() {
		write(map[string]interface{}{"mnemonic": mnemonic, "rpcPassword": "file"})
		GinkgoT().Setenv("XSWAP_RPCPASSWORD", "env")
		GinkgoT().Setenv("XSWAP_ALERTS_SLACKWEBHOOK", "https://hooks.slack.com/services/x")

		cfg, err := utils.LoadConfig(path)
		Expect(err).Should(BeNil())
		Expect(cfg.RpcPassword).Should(Equal("env"))
		Expect(cfg.Alerts.SlackWebhook).Should(Equal("https://hooks.slack.com/services/x"))
	})

	It("should generate and persist a mnemonic on first run", func() {
		GinkgoT().Setenv("XSWAP_RPCPASSWORD", "secret")
		cfg, err := utils.LoadConfig(path)
		Expect(err).Should(BeNil())
		Expect(strings.Fields(cfg.Mnemonic)).Should(HaveLen(24))

		again, err := utils.LoadConfig(path)
		Expect(err).Should(BeNil())
		Expect(again.Mnemonic).Should(Equal(cfg.Mnemonic))

		data, err := os.ReadFile(path)
		Expect(err).Should(BeNil())
		Expect(string(data)).ShouldNot(ContainSubstring("secret"))
	})

	It("should reject malformed limits", func() {
		_, _, err := utils.ChainConfig{Min: "ten"}.Limits()
		Expect(err).ShouldNot(BeNil())
	})
})

var _ = Describe("Keys", func() {
	var keys utils.Keys

	BeforeEach(func() {
		var err error
		keys, err = utils.LoadKeys(mnemonic)
		Expect(err).Should(BeNil())
	})

	It("should derive stable keys per account and selector", func() {
		a, err := keys.GetKey(chain.KindEVM, 0, 0)
		Expect(err).Should(BeNil())
		b, err := keys.GetKey(chain.KindEVM, 0, 0)
		Expect(err).Should(BeNil())
		c, err := keys.GetKey(chain.KindEVM, 0, 1)
		Expect(err).Should(BeNil())

		addrA, err := a.Address(chain.KindEVM)
		Expect(err).Should(BeNil())
		addrB, err := b.Address(chain.KindEVM)
		Expect(err).Should(BeNil())
		addrC, err := c.Address(chain.KindEVM)
		Expect(err).Should(BeNil())
		Expect(addrA).Should(Equal(addrB))
		Expect(addrA).ShouldNot(Equal(addrC))

		ecdsaKey, err := a.ECDSA()
		Expect(err).Should(BeNil())
		Expect(crypto.PubkeyToAddress(ecdsaKey.PublicKey).Hex()).Should(Equal(addrA))
	})

	It("should derive the Move account from its own coin index", func() {
		key, err := keys.GetKey(chain.KindMove, 0, 0)
		Expect(err).Should(BeNil())
		addr, err := key.Address(chain.KindMove)
		Expect(err).Should(BeNil())
		Expect(addr).Should(Equal(movechain.AddressOf(key.Ed25519().Public().(ed25519.PublicKey))))

		evm, err := keys.GetKey(chain.KindEVM, 0, 0)
		Expect(err).Should(BeNil())
		Expect(evm.Ed25519()).ShouldNot(Equal(key.Ed25519()))
	})

	It("should reject an invalid mnemonic", func() {
		_, err := utils.LoadKeys("not a mnemonic")
		Expect(err).ShouldNot(BeNil())
	})
})
