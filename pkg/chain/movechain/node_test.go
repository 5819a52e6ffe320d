package movechain_test

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/catalogfi/xswap/pkg/chain/movechain"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// fakeNode is an in-memory Move ledger serving the subset of the REST API the
// adapter uses. It verifies signatures and sequence numbers like a real node.
type fakeNode struct {
	mu sync.Mutex

	chainID uint8
	now     int64
	owner   string

	initialized bool
	counter     uint64
	orders      map[uint64]map[string]interface{}
	authorized  map[string]bool
	claims      []movechain.Event

	seq       map[string]uint64
	version   uint64
	txs       map[string]movechain.Transaction
	versions  map[uint64]string
	submitted []movechain.SignedTransaction

	// abort makes the next committed transaction fail with this vm status.
	abort string
	down  bool
}

func newFakeNode(owner string) *fakeNode {
	return &fakeNode{
		chainID:     4,
		now:         1700000000,
		owner:       owner,
		initialized: true,
		orders:      map[uint64]map[string]interface{}{},
		authorized:  map[string]bool{},
		seq:         map[string]uint64{},
		txs:         map[string]movechain.Transaction{},
		versions:    map[uint64]string{},
	}
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()

	path := r.URL.Path
	switch {
	case n.down:
		reply(w, http.StatusServiceUnavailable, map[string]string{"message": "node unavailable"})
	case path == "/":
		reply(w, http.StatusOK, movechain.LedgerInfo{
			ChainID:         n.chainID,
			LedgerVersion:   strconv.FormatUint(n.version, 10),
			BlockHeight:     strconv.FormatUint(100+n.version, 10),
			LedgerTimestamp: strconv.FormatInt(n.now*1000000, 10),
		})
	case r.Method == http.MethodPost && path == "/view":
		n.view(w, r)
	case r.Method == http.MethodPost && path == "/transactions/encode_submission":
		var raw movechain.RawTransaction
		_ = json.NewDecoder(r.Body).Decode(&raw)
		reply(w, http.StatusOK, hexutil.Encode(signingMessage(raw)))
	case r.Method == http.MethodPost && path == "/transactions":
		n.submit(w, r)
	case strings.HasPrefix(path, "/transactions/by_hash/"):
		tx, ok := n.txs[strings.TrimPrefix(path, "/transactions/by_hash/")]
		if !ok {
			reply(w, http.StatusNotFound, map[string]string{"message": "transaction not found", "error_code": "transaction_not_found"})
			return
		}
		reply(w, http.StatusOK, tx)
	case strings.HasPrefix(path, "/transactions/by_version/"):
		v, _ := strconv.ParseUint(strings.TrimPrefix(path, "/transactions/by_version/"), 10, 64)
		reply(w, http.StatusOK, n.txs[n.versions[v]])
	case strings.Contains(path, "/resource/"):
		if !n.initialized {
			reply(w, http.StatusNotFound, map[string]string{"message": "resource not found", "error_code": "resource_not_found"})
			return
		}
		reply(w, http.StatusOK, map[string]interface{}{
			"type": strings.SplitN(path, "/resource/", 2)[1],
			"data": map[string]string{"order_id_counter": strconv.FormatUint(n.counter, 10)},
		})
	case strings.Contains(path, "/events/"):
		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		page := []movechain.Event{}
		for i := start; i < len(n.claims) && len(page) < limit; i++ {
			page = append(page, n.claims[i])
		}
		reply(w, http.StatusOK, page)
	case strings.HasPrefix(path, "/accounts/"):
		addr := strings.TrimPrefix(path, "/accounts/")
		reply(w, http.StatusOK, movechain.AccountInfo{SequenceNumber: strconv.FormatUint(n.seq[addr], 10)})
	default:
		reply(w, http.StatusNotFound, map[string]string{"message": "no route " + path})
	}
}

func (n *fakeNode) view(w http.ResponseWriter, r *http.Request) {
	var payload movechain.ViewPayload
	_ = json.NewDecoder(r.Body).Decode(&payload)
	switch function(payload.Function) {
	case "get_order":
		id, _ := strconv.ParseUint(payload.Arguments[0].(string), 10, 64)
		order, ok := n.orders[id]
		if !ok {
			reply(w, http.StatusBadRequest, map[string]string{"message": "Move abort: EORDER_NOT_FOUND", "error_code": "invalid_input"})
			return
		}
		reply(w, http.StatusOK, []interface{}{order})
	case "is_resolver_authorized":
		reply(w, http.StatusOK, []interface{}{n.authorized[payload.Arguments[0].(string)]})
	default:
		reply(w, http.StatusBadRequest, map[string]string{"message": "unknown view " + payload.Function})
	}
}

func (n *fakeNode) submit(w http.ResponseWriter, r *http.Request) {
	var txn movechain.SignedTransaction
	_ = json.NewDecoder(r.Body).Decode(&txn)

	pub, _ := hexutil.Decode(txn.Signature.PublicKey)
	sig, _ := hexutil.Decode(txn.Signature.Signature)
	if len(pub) != ed25519.PublicKeySize || !ed25519.Verify(pub, signingMessage(txn.RawTransaction), sig) {
		reply(w, http.StatusBadRequest, map[string]string{"message": "Invalid transaction: INVALID_SIGNATURE", "error_code": "vm_error"})
		return
	}
	if movechain.AddressOf(pub) != txn.Sender {
		reply(w, http.StatusBadRequest, map[string]string{"message": "Invalid transaction: INVALID_AUTH_KEY", "error_code": "vm_error"})
		return
	}
	seq, _ := strconv.ParseUint(txn.SequenceNumber, 10, 64)
	if seq < n.seq[txn.Sender] {
		reply(w, http.StatusBadRequest, map[string]string{"message": "Invalid transaction: SEQUENCE_NUMBER_TOO_OLD", "error_code": "vm_error"})
		return
	}
	n.seq[txn.Sender] = seq + 1
	n.submitted = append(n.submitted, txn)

	n.version++
	hash := hexutil.Encode(sha256Sum(txn.Sender, txn.SequenceNumber))
	tx := movechain.Transaction{
		Type:      "user_transaction",
		Hash:      hash,
		Version:   strconv.FormatUint(n.version, 10),
		Success:   true,
		VMStatus:  "Executed successfully",
		Timestamp: strconv.FormatInt(n.now*1000000, 10),
	}
	if n.abort != "" {
		tx.Success, tx.VMStatus, n.abort = false, n.abort, ""
	} else if status := n.apply(txn); status != "" {
		tx.Success, tx.VMStatus = false, status
	}
	n.txs[hash] = tx
	n.versions[n.version] = hash
	reply(w, http.StatusAccepted, movechain.Transaction{Type: "pending_transaction", Hash: hash})
}

// apply executes the entry function and returns a vm status on abort.
func (n *fakeNode) apply(txn movechain.SignedTransaction) string {
	args := txn.Payload.Arguments
	switch function(txn.Payload.Function) {
	case "initialize_swap_ledger":
		n.initialized = true
	case "announce_order", "fund_dst_escrow":
		expiration := strconv.FormatInt(n.now+86400, 10)
		if function(txn.Payload.Function) == "fund_dst_escrow" {
			expiration = args[1].(string)
		}
		n.orders[n.counter] = map[string]interface{}{
			"depositor":  txn.Sender,
			"amount":     args[0],
			"hashlock":   args[len(args)-1],
			"expiration": expiration,
			"claimed":    false,
			"cancelled":  false,
		}
		n.counter++
	case "claim_funds":
		id, _ := strconv.ParseUint(args[0].(string), 10, 64)
		order, ok := n.orders[id]
		if !ok || order["claimed"].(bool) {
			return "Move abort in swap_v3: EINVALID_ORDER(0x1)"
		}
		order["claimed"] = true
		data, _ := json.Marshal(map[string]string{"order_id": args[0].(string), "secret": args[1].(string)})
		n.claims = append(n.claims, movechain.Event{
			SequenceNumber: strconv.Itoa(len(n.claims)),
			Type:           "swap_v3::SwapClaimedEvent",
			Version:        strconv.FormatUint(n.version, 10),
			Data:           data,
		})
	case "cancel_swap":
		id, _ := strconv.ParseUint(args[0].(string), 10, 64)
		n.orders[id]["cancelled"] = true
	case "authorize_resolver":
		if txn.Sender != n.owner {
			return "Move abort in swap_v3: ENOT_AUTHORIZED(0x50001)"
		}
		n.authorized[args[0].(string)] = true
	default:
		return fmt.Sprintf("FUNCTION_RESOLUTION_FAILURE %s", txn.Payload.Function)
	}
	return ""
}

func function(qualified string) string {
	parts := strings.Split(qualified, "::")
	return parts[len(parts)-1]
}

func signingMessage(raw movechain.RawTransaction) []byte {
	data, _ := json.Marshal(raw)
	sum := sha256.Sum256(data)
	return sum[:]
}

func sha256Sum(parts ...string) []byte {
	sum := sha256.Sum256([]byte(strings.Join(parts, "/")))
	return sum[:]
}

func reply(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
