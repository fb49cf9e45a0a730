package solanatest

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/code-payments/counter-client/pkg/solana"
)

const (
	codeMethodNotFound        = -32601
	codeInvalidParams         = -32602
	codeSignatureVerification = -32003

	genesisTime = 1_700_000_000
)

func (c *Chain) dispatch(req rpcRequest) (interface{}, *rpcError) {
	switch req.Method {
	case "getMinimumBalanceForRentExemption":
		return c.getMinimumBalanceForRentExemption(req)
	case "getBalance":
		return c.getBalance(req)
	case "getLatestBlockhash":
		return c.getLatestBlockhash()
	case "getAccountInfo":
		return c.getAccountInfo(req)
	case "sendTransaction":
		return c.sendTransaction(req)
	case "getSignatureStatuses":
		return c.getSignatureStatuses(req)
	case "getTransaction":
		return c.getTransaction(req)
	}
	return nil, &rpcError{Code: codeMethodNotFound, Message: "Method not found"}
}

func param(req rpcRequest, index int, out interface{}) *rpcError {
	if index >= len(req.Params) {
		return invalidParams(errors.Errorf("missing parameter %d", index))
	}
	if err := json.Unmarshal(req.Params[index], out); err != nil {
		return invalidParams(err)
	}
	return nil
}

func invalidParams(err error) *rpcError {
	return &rpcError{Code: codeInvalidParams, Message: fmt.Sprintf("Invalid params: %v", err)}
}

func (c *Chain) withContext(value interface{}) map[string]interface{} {
	return map[string]interface{}{
		"context": map[string]interface{}{"slot": c.slot},
		"value":   value,
	}
}

func (c *Chain) getMinimumBalanceForRentExemption(req rpcRequest) (interface{}, *rpcError) {
	var size uint64
	if err := param(req, 0, &size); err != nil {
		return nil, err
	}
	return RentExemption(size), nil
}

func (c *Chain) getBalance(req rpcRequest) (interface{}, *rpcError) {
	address, rpcErr := addressParam(req, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}

	var lamports uint64
	if a, ok := c.accounts[base58.Encode(address)]; ok {
		lamports = a.Lamports
	}
	return c.withContext(lamports), nil
}

func (c *Chain) getLatestBlockhash() (interface{}, *rpcError) {
	c.advance()
	return c.withContext(map[string]interface{}{
		"blockhash":            c.blockhash.String(),
		"lastValidBlockHeight": c.slot + 150,
	}), nil
}

func (c *Chain) getAccountInfo(req rpcRequest) (interface{}, *rpcError) {
	address, rpcErr := addressParam(req, 0)
	if rpcErr != nil {
		return nil, rpcErr
	}

	a, ok := c.accounts[base58.Encode(address)]
	if !ok {
		return c.withContext(nil), nil
	}
	return c.withContext(map[string]interface{}{
		"lamports":   a.Lamports,
		"owner":      base58.Encode(a.Owner),
		"data":       []string{base64.StdEncoding.EncodeToString(a.Data), "base64"},
		"executable": a.Executable,
		"rentEpoch":  0,
	}), nil
}

func (c *Chain) sendTransaction(req rpcRequest) (interface{}, *rpcError) {
	var encoded string
	if err := param(req, 0, &encoded); err != nil {
		return nil, err
	}

	var config struct {
		SkipPreflight bool   `json:"skipPreflight"`
		Encoding      string `json:"encoding"`
	}
	if len(req.Params) > 1 {
		if err := param(req, 1, &config); err != nil {
			return nil, err
		}
	}

	var raw []byte
	var err error
	if config.Encoding == "base64" {
		raw, err = base64.StdEncoding.DecodeString(encoded)
	} else {
		raw, err = base58.Decode(encoded)
	}
	if err != nil {
		return nil, invalidParams(errors.Wrap(err, "invalid transaction encoding"))
	}

	var txn solana.Transaction
	if err := txn.Unmarshal(raw); err != nil {
		return nil, invalidParams(errors.Wrap(err, "failed to deserialize transaction"))
	}
	if !verifySignatures(&txn) {
		return nil, &rpcError{Code: codeSignatureVerification, Message: "Transaction signature verification failure"}
	}

	sig := txn.Signature()
	if _, ok := c.transactions[sig.String()]; ok {
		return c.rejectOrDrop(config.SkipPreflight, sig, solana.NewTransactionError("AlreadyProcessed"), nil)
	}
	if _, ok := c.blockhashes[txn.Message.RecentBlockhash]; !ok {
		return c.rejectOrDrop(config.SkipPreflight, sig, solana.NewTransactionError(solana.TransactionErrorBlockhashNotFound), nil)
	}

	snapshot := c.snapshot()
	exec := c.execute(&txn)
	if exec.err != nil && !config.SkipPreflight {
		c.accounts = snapshot
		return c.rejectOrDrop(false, sig, exec.err, exec.logs)
	}

	c.slot++
	c.transactions[sig.String()] = &landedTransaction{
		slot: c.slot,
		raw:  raw,
		exec: exec,
	}
	return sig.String(), nil
}

// rejectOrDrop reports a preflight failure, or silently drops the
// transaction when preflight was skipped.
func (c *Chain) rejectOrDrop(skipPreflight bool, sig solana.Signature, txErr *solana.TransactionError, logs []string) (interface{}, *rpcError) {
	if skipPreflight {
		return sig.String(), nil
	}

	errJSON, err := txErr.JSONString()
	if err != nil {
		return nil, &rpcError{Code: -32603, Message: err.Error()}
	}
	if logs == nil {
		logs = []string{}
	}

	return nil, &rpcError{
		Code:    solana.SimulationFailedCode,
		Message: "Transaction simulation failed: " + txErr.Error(),
		Data: map[string]interface{}{
			"accounts":      nil,
			"err":           json.RawMessage(errJSON),
			"logs":          logs,
			"unitsConsumed": 0,
		},
	}
}

func (c *Chain) getSignatureStatuses(req rpcRequest) (interface{}, *rpcError) {
	var sigs []string
	if err := param(req, 0, &sigs); err != nil {
		return nil, err
	}

	statuses := make([]interface{}, len(sigs))
	for i, sig := range sigs {
		landed, ok := c.transactions[sig]
		if !ok {
			continue
		}
		landed.polls++

		status := map[string]interface{}{
			"slot": landed.slot,
			"err":  errValue(landed.exec.err),
		}
		switch {
		case c.neverConfirm || landed.polls < 2:
			status["confirmations"] = 0
			status["confirmationStatus"] = "processed"
		case landed.polls == 2:
			status["confirmations"] = 1
			status["confirmationStatus"] = "confirmed"
		default:
			status["confirmations"] = nil
			status["confirmationStatus"] = "finalized"
		}
		statuses[i] = status
	}

	return c.withContext(statuses), nil
}

func (c *Chain) getTransaction(req rpcRequest) (interface{}, *rpcError) {
	var sig string
	if err := param(req, 0, &sig); err != nil {
		return nil, err
	}

	landed, ok := c.transactions[sig]
	if !ok || c.noHistory {
		return nil, nil
	}

	// Transactions are only served once confirmed.
	landed.polls++
	if c.neverConfirm || landed.polls < 2 {
		return nil, nil
	}

	exec := landed.exec
	return map[string]interface{}{
		"slot":        landed.slot,
		"blockTime":   genesisTime + landed.slot,
		"transaction": []string{base64.StdEncoding.EncodeToString(landed.raw), "base64"},
		"meta": map[string]interface{}{
			"err":                  errValue(exec.err),
			"fee":                  exec.fee,
			"preBalances":          exec.preBalances,
			"postBalances":         exec.postBalances,
			"logMessages":          exec.logs,
			"computeUnitsConsumed": exec.unitsUsed,
		},
	}, nil
}

// snapshot copies the account state.
//
// Must be called with c.mu held.
func (c *Chain) snapshot() map[string]*Account {
	accounts := make(map[string]*Account, len(c.accounts))
	for k, v := range c.accounts {
		accounts[k] = v.clone()
	}
	return accounts
}

func addressParam(req rpcRequest, index int) (ed25519.PublicKey, *rpcError) {
	var encoded string
	if err := param(req, index, &encoded); err != nil {
		return nil, err
	}

	address, err := base58.Decode(encoded)
	if err != nil || len(address) != ed25519.PublicKeySize {
		return nil, invalidParams(errors.Errorf("invalid address: %s", encoded))
	}
	return address, nil
}

func errValue(txErr *solana.TransactionError) interface{} {
	if txErr == nil {
		return nil
	}

	errJSON, err := txErr.JSONString()
	if err != nil {
		return txErr.Error()
	}
	return json.RawMessage(errJSON)
}

func verifySignatures(txn *solana.Transaction) bool {
	m := txn.Message
	if len(txn.Signatures) != int(m.Header.NumSignatures) || len(m.Accounts) < len(txn.Signatures) {
		return false
	}

	message := m.Marshal()
	for i, sig := range txn.Signatures {
		if !ed25519.Verify(m.Accounts[i], message, sig[:]) {
			return false
		}
	}
	return true
}
