package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"poolgov/core/custody"
	"poolgov/core/state"
	"poolgov/crypto"
	"poolgov/native/votes"
	"poolgov/storage"
)

type testEnv struct {
	server *httptest.Server
	engine *votes.Engine
	tokens *custody.TokenLedger
	db     *storage.MemDB
	pool   crypto.Address
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	var pool crypto.Address
	copy(pool[:], bytes.Repeat([]byte{0xF0}, 20))
	tokens := custody.NewTokenLedger(pool)
	nfts := custody.NewNFTRegistry(pool)
	engine := votes.NewEngine(votes.Config{
		DomainName:    "poolgov",
		DomainVersion: "1",
		Pool:          pool,
	}, tokens, nfts, custody.NewStaticOracle())
	nfts.SetReceiver(engine)

	db := storage.NewMemDB()
	server := httptest.NewServer(NewServer(engine, state.NewManager(db), nil).Router())
	t.Cleanup(server.Close)
	return &testEnv{server: server, engine: engine, tokens: tokens, db: db, pool: pool}
}

func (env *testEnv) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(env.server.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func (env *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(env.server.URL + path)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func newStaker(t *testing.T, env *testEnv, amount int64) crypto.Address {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	addr := key.PubKey().Address()
	env.tokens.Mint(addr, big.NewInt(amount))
	return addr
}

func TestStakeAndQuery(t *testing.T) {
	env := newTestEnv(t)
	staker := newStaker(t, env, 500)

	resp := env.post(t, "/v1/stakes/stake", map[string]interface{}{
		"caller":   staker.String(),
		"duration": 86400,
		"amount":   500,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "stake rejected")
	decodeBody(t, resp)

	resp = env.get(t, "/v1/pool")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pool := decodeBody(t, resp)
	require.Equal(t, "500", pool["totalPower"])
	require.Equal(t, float64(1), pool["activeStakers"])

	resp = env.get(t, "/v1/stakes/"+staker.String())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	record := decodeBody(t, resp)
	require.Equal(t, "500", record["amount"])
	require.Equal(t, "500", record["votingPower"])

	// The mutation was persisted.
	ok, err := env.db.Has([]byte("gov/engine/state"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestStakeErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	staker := newStaker(t, env, 0)

	resp := env.post(t, "/v1/stakes/stake", map[string]interface{}{
		"caller":   staker.String(),
		"duration": 86400,
		"amount":   0,
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Contains(t, body["error"], "amount")

	resp = env.post(t, "/v1/stakes/stake", map[string]interface{}{
		"caller":   staker.String(),
		"duration": 86400,
		"amount":   -100,
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body = decodeBody(t, resp)
	require.Contains(t, body["error"], "negative")
}

func TestUnstakeConflictWhileLocked(t *testing.T) {
	env := newTestEnv(t)
	staker := newStaker(t, env, 100)
	resp := env.post(t, "/v1/stakes/stake", map[string]interface{}{
		"caller":   staker.String(),
		"duration": 86400,
		"amount":   100,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp)

	resp = env.post(t, "/v1/stakes/unstake", map[string]interface{}{
		"caller": staker.String(),
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	decodeBody(t, resp)
}

func TestBatchRowSurfacesInResponse(t *testing.T) {
	env := newTestEnv(t)
	staker := newStaker(t, env, 100)

	resp := env.post(t, "/v1/votes/transfers", map[string]interface{}{
		"payloads": []map[string]interface{}{{
			"from":   staker.String(),
			"to":     staker.String(),
			"amount": 1,
			"nonces": []uint64{1},
			"signer": staker.String(),
		}},
		"signatures": []string{"0xdeadbeef"},
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Equal(t, float64(0), body["row"])
}

func batchRejectedCount(t *testing.T) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	var total float64
	for _, family := range families {
		if family.GetName() != "gov_batch_rejected_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func TestBatchRejectedCountsOnlyBatches(t *testing.T) {
	env := newTestEnv(t)
	staker := newStaker(t, env, 100)

	// A failed stake-lifecycle call is not a relayer batch.
	before := batchRejectedCount(t)
	resp := env.post(t, "/v1/stakes/unstake", map[string]interface{}{
		"caller": staker.String(),
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	decodeBody(t, resp)
	require.Equal(t, before, batchRejectedCount(t), "stake failures must not count as rejected batches")

	resp = env.post(t, "/v1/votes/transfers", map[string]interface{}{
		"payloads": []map[string]interface{}{{
			"from":   staker.String(),
			"to":     staker.String(),
			"amount": 1,
			"nonces": []uint64{1},
			"signer": staker.String(),
		}},
		"signatures": []string{"0xdeadbeef"},
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	decodeBody(t, resp)
	require.Equal(t, before+1, batchRejectedCount(t))
}

func TestTopicQueryValidation(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/v1/topics/zz")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	decodeBody(t, resp)

	resp = env.get(t, fmt.Sprintf("/v1/topics/%064x", 1))
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	decodeBody(t, resp)
}

func TestParamsQuery(t *testing.T) {
	env := newTestEnv(t)
	resp := env.get(t, "/v1/params")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Equal(t, float64(votes.DefaultThresholdPct), body["thresholdPct"])
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	env := newTestEnv(t)
	resp := env.post(t, "/v1/stakes/stake", map[string]interface{}{
		"caller":  crypto.ZeroAddress.String(),
		"unknown": true,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	decodeBody(t, resp)
}
