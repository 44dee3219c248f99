package chain

import (
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/mock"
)

// mockRPCClient mocks the rpcClient interface.
type mockRPCClient struct {
	mock.Mock
}

// Compile time assert the implementation.
var _ rpcClient = (*mockRPCClient)(nil)

func (m *mockRPCClient) GetTxOut(txHash *chainhash.Hash, index uint32,
	mempool bool) (*btcjson.GetTxOutResult, error) {

	args := m.Called(txHash, index, mempool)

	res := args.Get(0)
	if res == nil {
		return nil, args.Error(1)
	}

	return res.(*btcjson.GetTxOutResult), args.Error(1)
}

func (m *mockRPCClient) SendRawTransaction(tx *wire.MsgTx,
	allowHighFees bool) (*chainhash.Hash, error) {

	args := m.Called(tx, allowHighFees)

	txid := args.Get(0)
	if txid == nil {
		return nil, args.Error(1)
	}

	return txid.(*chainhash.Hash), args.Error(1)
}

func (m *mockRPCClient) Shutdown() {
	m.Called()
}
