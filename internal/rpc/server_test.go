package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/config"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/chain"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/consensus"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/mempool"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/miner"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/internal/storage"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/block"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/crypto"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/tx"
	"github.com/nurcahyapriantoro/PlatformAgriblock-sub003/pkg/types"
)

const genesisTime = int64(1_700_000_000_000)

// testEnv holds all components for an RPC test.
type testEnv struct {
	server    *Server
	chain     *chain.Chain
	pool      *mempool.Pool
	miner     *miner.Miner
	tracker   *consensus.ValidatorTracker
	validator *crypto.PrivateKey
	user      *crypto.PrivateKey
	url       string
	blockTime int64
}

func setupTestEnv(t *testing.T, apiCfg config.APIConfig) *testEnv {
	t.Helper()
	validator, err := crypto.GenerateKey()
	require.NoError(t, err)
	user, err := crypto.GenerateKey()
	require.NoError(t, err)
	genesisKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	store, err := storage.Open(config.BackendMemory, "")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine, err := consensus.NewPoS([]types.PublicKey{validator.PublicKey()})
	require.NoError(t, err)
	require.NoError(t, engine.SetSigner(validator))

	ch, err := chain.New(store, engine, chain.WithClock(func() time.Time {
		return time.UnixMilli(genesisTime).Add(time.Hour)
	}))
	require.NoError(t, err)
	require.NoError(t, ch.InitFromGenesis(&config.GenesisState{
		ChainID:    "rpc-test",
		Timestamp:  genesisTime,
		GenesisKey: genesisKey.PublicKey(),
		Balances:   map[types.PublicKey]*uint256.Int{user.PublicKey(): uint256.NewInt(1000)},
		Stakes:     map[types.PublicKey]*uint256.Int{validator.PublicKey(): uint256.NewInt(10)},
	}, genesisKey))

	pool := mempool.New(ch, 100, nil)
	tracker := consensus.NewValidatorTracker(time.Minute)

	srv := New("127.0.0.1:0", ch, pool, nil, apiCfg)
	srv.SetChainID("rpc-test")
	srv.SetValidatorTracker(tracker)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	return &testEnv{
		server:    srv,
		chain:     ch,
		pool:      pool,
		miner:     miner.New(ch, engine, pool, validator.PublicKey()),
		tracker:   tracker,
		validator: validator,
		user:      user,
		url:       "http://" + srv.Addr(),
		blockTime: genesisTime,
	}
}

// mine produces and commits one block containing the pool's transactions.
func (e *testEnv) mine(t *testing.T) *block.Block {
	t.Helper()
	e.blockTime += 1000
	blk, err := e.miner.ProduceBlockAt(e.blockTime)
	require.NoError(t, err)
	res, err := e.chain.ProcessBlock(blk)
	require.NoError(t, err)
	for _, b := range res.Connected {
		e.pool.RemoveConfirmed(b.Transactions)
		e.tracker.RecordBlock(b.Producer)
	}
	return blk
}

func (e *testEnv) transfer(t *testing.T, nonce, amount uint64) *tx.Transaction {
	t.Helper()
	transaction, err := tx.NewBuilder(tx.TypeTransfer).
		To(e.validator.PublicKey()).
		Nonce(nonce).
		Amount(uint256.NewInt(amount)).
		Sign(e.user)
	require.NoError(t, err)
	return transaction
}

func (e *testEnv) register(t *testing.T, nonce uint64, p tx.RegisterPayload) *tx.Transaction {
	t.Helper()
	transaction, err := tx.NewBuilder(tx.TypeRegister).
		Nonce(nonce).
		Payload(p).
		Sign(e.user)
	require.NoError(t, err)
	return transaction
}

// call posts a JSON-RPC request and decodes the result into out.
func (e *testEnv) call(t *testing.T, method string, params, out interface{}) *Error {
	t.Helper()
	req, err := NewRequest(method, params, 1)
	require.NoError(t, err)
	resp := e.post(t, *req)
	if resp.Error != nil {
		return resp.Error
	}
	if out != nil {
		data, err := json.Marshal(resp.Result)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, out))
	}
	return nil
}

func (e *testEnv) post(t *testing.T, req Request) Response {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	httpResp, err := http.Post(e.url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer httpResp.Body.Close()
	var resp Response
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&resp))
	return resp
}

func TestChainGetTip(t *testing.T) {
	env := setupTestEnv(t, config.APIConfig{})
	blk := env.mine(t)

	var tip TipResult
	require.Nil(t, env.call(t, "chain_getTip", nil, &tip))
	assert.Equal(t, "rpc-test", tip.ChainID)
	assert.Equal(t, uint64(1), tip.Height)
	assert.Equal(t, blk.Hash, tip.Hash)
	assert.Equal(t, env.chain.GenesisHash(), tip.GenesisHash)
	assert.Equal(t, "10", tip.Weight)
}

func TestChainGetBlock(t *testing.T) {
	env := setupTestEnv(t, config.APIConfig{})
	blk := env.mine(t)

	var byHeight block.Block
	require.Nil(t, env.call(t, "chain_getBlockByHeight", HeightParam{Height: 1}, &byHeight))
	assert.Equal(t, blk.Hash, byHeight.Hash)

	var byHash block.Block
	require.Nil(t, env.call(t, "chain_getBlockByHash", HashParam{Hash: blk.Hash.String()}, &byHash))
	assert.Equal(t, uint64(1), byHash.Height)
	assert.Equal(t, env.validator.PublicKey(), byHash.Producer)

	rpcErr := env.call(t, "chain_getBlockByHeight", HeightParam{Height: 42}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeNotFound, rpcErr.Code)

	rpcErr = env.call(t, "chain_getBlockByHash", HashParam{Hash: "zz"}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeInvalidParams, rpcErr.Code)
}

func TestTxSubmitAndGet(t *testing.T) {
	env := setupTestEnv(t, config.APIConfig{})
	transfer := env.transfer(t, 1, 25)

	var submitted TxSubmitResult
	require.Nil(t, env.call(t, "tx_submit", transfer, &submitted))
	assert.Equal(t, transfer.ID, submitted.TxID)

	var pending chain.TxRecord
	require.Nil(t, env.call(t, "tx_get", HashParam{Hash: transfer.ID.String()}, &pending))
	assert.Equal(t, -1, pending.Index)

	var info MempoolInfoResult
	require.Nil(t, env.call(t, "mempool_info", nil, &info))
	assert.Equal(t, 1, info.Count)
	assert.Equal(t, []types.Hash{transfer.ID}, info.Hashes)

	var queued MempoolPendingResult
	require.Nil(t, env.call(t, "mempool_pending", KeyParam{PublicKey: env.user.PublicKey().String()}, &queued))
	assert.Equal(t, uint64(0), queued.AccountNonce)
	assert.Equal(t, uint64(1), queued.PendingNonce)
	assert.Equal(t, uint64(2), queued.NextNonce)
	require.Len(t, queued.Transactions, 1)
	assert.Equal(t, transfer.ID, queued.Transactions[0].ID)

	env.mine(t)

	var rec chain.TxRecord
	require.Nil(t, env.call(t, "tx_get", HashParam{Hash: transfer.ID.String()}, &rec))
	assert.Equal(t, uint64(1), rec.Height)
	assert.Equal(t, 0, rec.Index)

	var acct chain.Account
	require.Nil(t, env.call(t, "account_get", KeyParam{PublicKey: env.user.PublicKey().String()}, &acct))
	assert.Equal(t, uint64(1), acct.Nonce)
	assert.Equal(t, "975", acct.Balance.Dec())
}

func TestTxSubmitErrorCodes(t *testing.T) {
	env := setupTestEnv(t, config.APIConfig{})
	first := env.transfer(t, 1, 10)
	require.Nil(t, env.call(t, "tx_submit", first, nil))

	// Same nonce without a higher fee.
	dup := env.transfer(t, 1, 11)
	rpcErr := env.call(t, "tx_submit", dup, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeNonceConflict, rpcErr.Code)

	tampered := env.transfer(t, 2, 10)
	tampered.Signature[0] ^= 0xff
	rpcErr = env.call(t, "tx_submit", tampered, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeMalformedTx, rpcErr.Code)
}

func TestTxSubmitUsesSubmitter(t *testing.T) {
	env := setupTestEnv(t, config.APIConfig{})
	var got *tx.Transaction
	env.server.SetSubmitter(func(_ context.Context, submitted *tx.Transaction) error {
		got = submitted
		return errors.New("node stopped")
	})

	transfer := env.transfer(t, 1, 5)
	rpcErr := env.call(t, "tx_submit", transfer, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeInternalError, rpcErr.Code)
	require.NotNil(t, got)
	assert.Equal(t, transfer.ID, got.ID)
	assert.Zero(t, env.pool.Count())
}

func TestStakeEndpoints(t *testing.T) {
	env := setupTestEnv(t, config.APIConfig{})

	var st chain.Stake
	require.Nil(t, env.call(t, "stake_get", KeyParam{PublicKey: env.validator.PublicKey().String()}, &st))
	assert.Equal(t, "10", st.Amount.Dec())
	assert.Equal(t, chain.StakeActive, st.Status)

	var list []chain.Stake
	require.Nil(t, env.call(t, "stake_list", nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, env.validator.PublicKey(), list[0].Validator)

	rpcErr := env.call(t, "stake_get", KeyParam{PublicKey: env.user.PublicKey().String()}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeNotFound, rpcErr.Code)

	rpcErr = env.call(t, "stake_get", KeyParam{PublicKey: "nothex"}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeInvalidParams, rpcErr.Code)
}

func TestUserLookups(t *testing.T) {
	env := setupTestEnv(t, config.APIConfig{})
	reg := env.register(t, 1, tx.RegisterPayload{
		UserID:   "farmer-01",
		Email:    "siti@example.com",
		GoogleID: "g-123",
		Name:     "Siti",
		Role:     tx.RoleFarmer,
	})
	require.Nil(t, env.call(t, "tx_submit", reg, nil))
	env.mine(t)

	var byID, byEmail, byGoogle chain.User
	require.Nil(t, env.call(t, "user_get", UserParam{UserID: "farmer-01"}, &byID))
	require.Nil(t, env.call(t, "user_getByEmail", EmailParam{Email: "siti@example.com"}, &byEmail))
	require.Nil(t, env.call(t, "user_getByGoogle", GoogleParam{GoogleID: "g-123"}, &byGoogle))
	for _, u := range []chain.User{byID, byEmail, byGoogle} {
		assert.Equal(t, "farmer-01", u.UserID)
		assert.Equal(t, tx.RoleFarmer, u.Role)
		assert.Equal(t, env.user.PublicKey(), u.Address)
		assert.Equal(t, reg.ID, u.TxID)
	}

	rpcErr := env.call(t, "user_get", UserParam{UserID: "nobody"}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeNotFound, rpcErr.Code)

	rpcErr = env.call(t, "user_getByEmail", EmailParam{}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeInvalidParams, rpcErr.Code)

	var found SearchResult
	require.Nil(t, env.call(t, "store_searchTxKeys", SearchParam{Prefix: chain.UserPrefix}, &found))
	assert.Equal(t, []string{chain.UserPrefix + "farmer-01"}, found.Keys)

	require.Nil(t, env.call(t, "store_searchTxKeys", SearchParam{Prefix: "nomatch:"}, &found))
	assert.Empty(t, found.Keys)
}

func TestTxSubmitKeepsPayloadBytes(t *testing.T) {
	env := setupTestEnv(t, config.APIConfig{})

	// Keys deliberately out of sorted order.
	reg, err := tx.NewBuilder(tx.TypeRegister).
		Nonce(1).
		Payload(json.RawMessage(`{"userId":"u1","email":"a@b.co","role":"farmer"}`)).
		Sign(env.user)
	require.NoError(t, err)
	txJSON, err := json.Marshal(reg)
	require.NoError(t, err)

	body := `{"jsonrpc":"2.0","method":"tx_submit","params":` + string(txJSON) + `,"id":7}`
	httpResp, err := http.Post(env.url, "application/json", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	defer httpResp.Body.Close()
	var resp Response
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&resp))
	require.Nil(t, resp.Error)
	assert.True(t, env.pool.Has(reg.ID))

	env.mine(t)
	var u chain.User
	require.Nil(t, env.call(t, "user_getByEmail", EmailParam{Email: "a@b.co"}, &u))
	assert.Equal(t, "u1", u.UserID)
}

func TestTxSubmitLargeNonce(t *testing.T) {
	env := setupTestEnv(t, config.APIConfig{})

	// Above 2^53 the nonce must survive decoding exactly, so the id still
	// matches and the rejection is about the nonce, not the encoding.
	far := env.transfer(t, 1<<60+1, 5)
	rpcErr := env.call(t, "tx_submit", far, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeNonceConflict, rpcErr.Code)
}

func TestNetPeersWithoutNetwork(t *testing.T) {
	env := setupTestEnv(t, config.APIConfig{})
	var peers PeersResult
	require.Nil(t, env.call(t, "net_peers", nil, &peers))
	assert.Zero(t, peers.Count)
	assert.Empty(t, peers.Peers)
}

func TestValidatorStats(t *testing.T) {
	env := setupTestEnv(t, config.APIConfig{})
	env.mine(t)
	env.mine(t)

	var all []consensus.ValidatorStats
	require.Nil(t, env.call(t, "validator_stats", nil, &all))
	require.Len(t, all, 1)
	assert.Equal(t, uint64(2), all[0].BlockCount)

	var one consensus.ValidatorStats
	require.Nil(t, env.call(t, "validator_stats", KeyParam{PublicKey: env.validator.PublicKey().String()}, &one))
	assert.Equal(t, env.validator.PublicKey(), one.Validator)

	rpcErr := env.call(t, "validator_stats", KeyParam{PublicKey: env.user.PublicKey().String()}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeNotFound, rpcErr.Code)
}

func TestProtocolErrors(t *testing.T) {
	env := setupTestEnv(t, config.APIConfig{})

	resp := env.post(t, Request{JSONRPC: "1.0", Method: "chain_getTip", ID: 1})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)

	resp = env.post(t, Request{JSONRPC: "2.0", Method: "wallet_send", ID: 2})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)

	rpcErr := env.call(t, "tx_get", nil, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, CodeInvalidParams, rpcErr.Code)

	httpResp, err := http.Get(env.url)
	require.NoError(t, err)
	defer httpResp.Body.Close()
	var getResp Response
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&getResp))
	require.NotNil(t, getResp.Error)
	assert.Equal(t, CodeInvalidRequest, getResp.Error.Code)
}

func TestIPFilter(t *testing.T) {
	env := setupTestEnv(t, config.APIConfig{AllowedIPs: []string{"10.0.0.0/8"}})
	body, _ := json.Marshal(Request{JSONRPC: "2.0", Method: "chain_getTip", ID: 1})
	resp, err := http.Post(env.url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	env := setupTestEnv(t, config.APIConfig{RateLimit: 1})
	require.Nil(t, env.call(t, "chain_getTip", nil, nil))

	resp := env.post(t, Request{JSONRPC: "2.0", Method: "chain_getTip", ID: 2})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeRateLimited, resp.Error.Code)
}

func TestEngineErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{storage.ErrNotFound, CodeNotFound},
		{chain.ErrBadNonce, CodeNonceConflict},
		{chain.ErrBadPrevHash, CodeInvalidBlock},
		{chain.ErrInsufficientBalance, CodeInvalidState},
		{chain.ErrReorgTooDeep, CodeForkResolution},
		{types.ErrBatchFailure, CodeBatchFailure},
		{types.ErrPeerUnauthorized, CodePeerUnauthorized},
		{mempool.ErrPoolFull, CodePoolRejected},
		{context.DeadlineExceeded, CodeUnavailable},
		{errors.New("boom"), CodeInternalError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, engineError(tt.err).Code, tt.err.Error())
	}
}
