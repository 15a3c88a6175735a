// Package web3ledger publishes poll roots to an EVM chain. Each anchor is a
// self-addressed transaction whose calldata carries "pollId|rootHex", so
// anyone with the node's address can enumerate and timestamp-check anchors
// with a plain block explorer.
package web3ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/civicledger/referendum-node/log"
)

// Ledger submits anchor transactions to an EVM endpoint.
type Ledger struct {
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	chainID *big.Int
}

// New dials the endpoint and checks the chain id. privKeyHex is the anchor
// account's hex-encoded ECDSA key.
func New(ctx context.Context, endpoint, privKeyHex string) (*Ledger, error) {
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial anchor ledger: %w", err)
	}
	key, err := ethcrypto.HexToECDSA(privKeyHex)
	if err != nil {
		return nil, fmt.Errorf("anchor ledger key: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("anchor ledger chain id: %w", err)
	}
	log.Infow("anchor ledger connected", "endpoint", endpoint, "chainId", chainID.String())
	return &Ledger{client: client, key: key, chainID: chainID}, nil
}

// SubmitRoot sends one anchor transaction carrying "pollId|rootHex" and
// returns its hash. It does not wait for inclusion; the worker records the
// hash immediately and re-anchors only when the root advances.
func (l *Ledger) SubmitRoot(ctx context.Context, pollID, rootHex string) (string, error) {
	from := ethcrypto.PubkeyToAddress(l.key.PublicKey)
	nonce, err := l.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("anchor nonce: %w", err)
	}
	gasPrice, err := l.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("anchor gas price: %w", err)
	}
	data := []byte(pollID + "|" + rootHex)
	gasLimit, err := l.client.EstimateGas(ctx, ethereumCallMsg(from, data))
	if err != nil {
		return "", fmt.Errorf("anchor gas estimate: %w", err)
	}
	tx := gtypes.NewTransaction(nonce, from, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := gtypes.SignTx(tx, gtypes.LatestSignerForChainID(l.chainID), l.key)
	if err != nil {
		return "", fmt.Errorf("sign anchor tx: %w", err)
	}
	if err := l.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send anchor tx: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// Close releases the underlying RPC connection.
func (l *Ledger) Close() {
	l.client.Close()
}

// ethereumCallMsg builds the self-addressed estimate call for an anchor.
func ethereumCallMsg(from common.Address, data []byte) ethereum.CallMsg {
	to := from
	return ethereum.CallMsg{From: from, To: &to, Data: data}
}
