package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"p2plend/core"
	"p2plend/crypto"
	"p2plend/rpc/middleware"
	"p2plend/storage"
)

const testSecret = "rpc-test-secret"

func units(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), big.NewInt(10_000_000))
}

func testAddress(prefix crypto.AddressPrefix, suffix byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(prefix, raw)
}

type rpcFixture struct {
	t        *testing.T
	ctx      context.Context
	node     *core.Node
	server   *Server
	http     *httptest.Server
	genesis  core.Genesis
	operator crypto.Address
	lender   *crypto.PrivateKey
	borrower *crypto.PrivateKey
	nonce    uint64
}

type rpcReply struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func newRPCFixture(t *testing.T, mutate func(*ServerConfig)) *rpcFixture {
	t.Helper()
	lender, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	borrower, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	f := &rpcFixture{
		t:        t,
		ctx:      context.Background(),
		operator: testAddress(crypto.LendPrefix, 0xA9),
		lender:   lender,
		borrower: borrower,
	}

	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	node, err := core.NewNode(db, core.Options{})
	require.NoError(t, err)
	t.Cleanup(node.Close)
	f.node = node

	f.genesis = core.Genesis{
		Admin:    testAddress(crypto.LendPrefix, 0xA0),
		Operator: f.operator,
		USDC:     core.TokenSpec{Address: testAddress(crypto.ContractPrefix, 0x10), Name: "USD Coin", Symbol: "USDC"},
		XLM:      core.TokenSpec{Address: testAddress(crypto.ContractPrefix, 0x11), Name: "Stellar Lumens", Symbol: "XLM"},
		Oracle:   testAddress(crypto.ContractPrefix, 0x12),
	}
	require.NoError(t, node.Bootstrap(f.ctx, f.genesis))
	f.fund(f.genesis.USDC.Address, f.lender.PubKey().Address(), 100_000)
	f.fund(f.genesis.XLM.Address, f.borrower.PubKey().Address(), 10_000)
	// $2.00 on the 14-decimal feed scale.
	price := new(big.Int).Mul(big.NewInt(200), new(big.Int).Exp(big.NewInt(10), big.NewInt(12), nil))
	require.NoError(t, node.SetPrice(f.ctx, f.operator, f.genesis.Oracle, "XLM", price, 0))

	cfg := ServerConfig{
		Auth:     middleware.AuthConfig{Enabled: true, HMACSecret: testSecret},
		Operator: f.operator,
		Oracle:   f.genesis.Oracle,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := NewServer(node, cfg, nil)
	require.NoError(t, err)
	f.server = srv
	f.http = httptest.NewServer(srv.Handler())
	t.Cleanup(f.http.Close)
	return f
}

func (f *rpcFixture) fund(token, to crypto.Address, whole int64) {
	f.t.Helper()
	require.NoError(f.t, f.node.Mint(f.ctx, f.operator, token, to, units(whole)))
	require.NoError(f.t, f.node.Approve(f.ctx, to, token, f.node.Contract(), units(1_000_000)))
}

func (f *rpcFixture) post(method string, params interface{}, bearer string) (int, rpcReply) {
	f.t.Helper()
	req := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		req["params"] = []interface{}{params}
	}
	body, err := json.Marshal(req)
	require.NoError(f.t, err)
	httpReq, err := http.NewRequest(http.MethodPost, f.http.URL+"/rpc", bytes.NewReader(body))
	require.NoError(f.t, err)
	httpReq.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := f.http.Client().Do(httpReq)
	require.NoError(f.t, err)
	defer resp.Body.Close()
	var reply rpcReply
	require.NoError(f.t, json.NewDecoder(resp.Body).Decode(&reply))
	return resp.StatusCode, reply
}

func (f *rpcFixture) sign(key *crypto.PrivateKey, method string, params interface{}) *Envelope {
	f.t.Helper()
	f.nonce++
	env, err := SignEnvelope(key, method, f.nonce, time.Now().Add(time.Minute), params)
	require.NoError(f.t, err)
	return env
}

func (f *rpcFixture) operatorToken(scopes ...string) string {
	f.t.Helper()
	auth := middleware.NewAuthenticator(middleware.AuthConfig{Enabled: true, HMACSecret: testSecret}, nil)
	token, err := auth.IssueToken("ops", scopes, time.Hour)
	require.NoError(f.t, err)
	return token
}

func offerParams() map[string]interface{} {
	return map[string]interface{}{
		"usdcAmount":           units(10_000).String(),
		"weeklyInterestRate":   500,
		"minCollateralRatio":   20_000,
		"liquidationThreshold": 12_500,
		"maxDurationWeeks":     52,
	}
}

func TestServerSignedOfferFlow(t *testing.T) {
	f := newRPCFixture(t, nil)
	lender := f.lender.PubKey().Address()

	status, reply := f.post("lend_create_offer", f.sign(f.lender, "lend_create_offer", offerParams()), "")
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, reply.Error)
	var created idResult
	require.NoError(t, json.Unmarshal(reply.Result, &created))
	require.Equal(t, uint64(1), created.ID)

	status, reply = f.post("lend_get_offer", map[string]interface{}{"offerId": created.ID}, "")
	require.Equal(t, http.StatusOK, status)
	var offer struct {
		Lender string `json:"lender"`
	}
	require.NoError(t, json.Unmarshal(reply.Result, &offer))
	require.Equal(t, lender.String(), offer.Lender)

	status, reply = f.post("lend_token_balance", map[string]interface{}{
		"token":   f.genesis.USDC.Address.String(),
		"address": lender.String(),
	}, "")
	require.Equal(t, http.StatusOK, status)
	var bal amountResult
	require.NoError(t, json.Unmarshal(reply.Result, &bal))
	require.Equal(t, units(90_000).String(), bal.Amount)

	borrow := map[string]interface{}{
		"offerId":          created.ID,
		"collateralAmount": units(1_000).String(),
		"borrowAmount":     units(100).String(),
	}
	status, reply = f.post("lend_borrow", f.sign(f.borrower, "lend_borrow", borrow), "")
	require.Equal(t, http.StatusOK, status, "%+v", reply.Error)

	status, reply = f.post("lend_get_user_loans_as_borrower", map[string]interface{}{
		"address": f.borrower.PubKey().Address().String(),
	}, "")
	require.Equal(t, http.StatusOK, status)
	var loans idsResult
	require.NoError(t, json.Unmarshal(reply.Result, &loans))
	require.Equal(t, []uint64{1}, loans.IDs)
}

func TestServerRejectsReplayedEnvelope(t *testing.T) {
	f := newRPCFixture(t, nil)
	env := f.sign(f.lender, "lend_create_offer", offerParams())

	status, _ := f.post("lend_create_offer", env, "")
	require.Equal(t, http.StatusOK, status)

	status, reply := f.post("lend_create_offer", env, "")
	require.Equal(t, http.StatusConflict, status)
	require.NotNil(t, reply.Error)
	require.Equal(t, codeDuplicateCall, reply.Error.Code)

	offers, err := f.node.GetActiveOffers(f.ctx)
	require.NoError(t, err)
	require.Len(t, offers, 1)
}

func TestServerRejectsForeignSignature(t *testing.T) {
	f := newRPCFixture(t, nil)
	env := f.sign(f.borrower, "lend_create_offer", offerParams())
	env.Caller = f.lender.PubKey().Address().String()

	status, reply := f.post("lend_create_offer", env, "")
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, reply.Error.Code)
}

func TestServerRejectsEnvelopeForOtherMethod(t *testing.T) {
	f := newRPCFixture(t, nil)
	env := f.sign(f.lender, "lend_cancel_offer", map[string]interface{}{"offerId": 1})

	status, reply := f.post("lend_withdraw_from_offer", env, "")
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, reply.Error.Code)
}

func TestServerRejectsExpiredEnvelope(t *testing.T) {
	f := newRPCFixture(t, nil)
	env, err := SignEnvelope(f.lender, "lend_create_offer", 1, time.Now().Add(-time.Hour), offerParams())
	require.NoError(t, err)

	status, _ := f.post("lend_create_offer", env, "")
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestServerLendingErrorCarriesCode(t *testing.T) {
	f := newRPCFixture(t, nil)
	status, _ := f.post("lend_create_offer", f.sign(f.lender, "lend_create_offer", offerParams()), "")
	require.Equal(t, http.StatusOK, status)

	status, reply := f.post("lend_cancel_offer", f.sign(f.borrower, "lend_cancel_offer", map[string]interface{}{"offerId": 1}), "")
	require.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, reply.Error)
	require.Equal(t, codeLendingError, reply.Error.Code)
	data, ok := reply.Error.Data.(map[string]interface{})
	require.True(t, ok)
	require.EqualValues(t, 12, data["code"])
	require.Equal(t, "OnlyLender", data["name"])
}

func TestServerOperatorMethodsRequireScope(t *testing.T) {
	f := newRPCFixture(t, nil)
	holder := testAddress(crypto.LendPrefix, 0xB1)
	params := map[string]interface{}{
		"token":  f.genesis.USDC.Address.String(),
		"to":     holder.String(),
		"amount": units(5).String(),
	}

	status, _ := f.post("lend_token_mint", params, "")
	require.Equal(t, http.StatusUnauthorized, status)

	status, _ = f.post("lend_token_mint", params, f.operatorToken("read"))
	require.Equal(t, http.StatusForbidden, status)

	status, reply := f.post("lend_token_mint", params, f.operatorToken("operator"))
	require.Equal(t, http.StatusOK, status, "%+v", reply.Error)

	bal, err := f.node.Balance(f.ctx, f.genesis.USDC.Address, holder)
	require.NoError(t, err)
	require.Equal(t, units(5), bal)
}

func TestServerModulePauseBlocksTokenCalls(t *testing.T) {
	f := newRPCFixture(t, nil)
	token := f.operatorToken("operator")

	status, _ := f.post("lend_set_module_paused", map[string]interface{}{"module": "token", "paused": true}, token)
	require.Equal(t, http.StatusOK, status)

	params := map[string]interface{}{
		"token":  f.genesis.USDC.Address.String(),
		"to":     f.borrower.PubKey().Address().String(),
		"amount": units(1).String(),
	}
	status, reply := f.post("lend_token_transfer", f.sign(f.lender, "lend_token_transfer", params), "")
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, codeDomainError, reply.Error.Code)
}

func TestServerUnknownMethod(t *testing.T) {
	f := newRPCFixture(t, nil)
	status, reply := f.post("lend_does_not_exist", nil, "")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeMethodNotFound, reply.Error.Code)

	status, _ = f.post("get_offer", map[string]interface{}{"offerId": 1}, "")
	require.Equal(t, http.StatusNotFound, status)
}

func TestServerInvalidParams(t *testing.T) {
	f := newRPCFixture(t, nil)
	status, reply := f.post("lend_get_offer", map[string]interface{}{"offer": 1}, "")
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, reply.Error.Code)
}

func TestServerRateLimit(t *testing.T) {
	f := newRPCFixture(t, func(cfg *ServerConfig) {
		cfg.RateLimit = middleware.RateLimit{RequestsPerMinute: 1, Burst: 1}
	})
	status, _ := f.post("lend_admin", nil, "")
	require.Equal(t, http.StatusOK, status)

	body := []byte(`{"jsonrpc":"2.0","id":2,"method":"lend_admin"}`)
	resp, err := f.http.Client().Post(f.http.URL+"/rpc", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestServerRequestIDEchoed(t *testing.T) {
	f := newRPCFixture(t, nil)
	resp, err := f.http.Client().Post(f.http.URL+"/rpc", "application/json",
		bytes.NewReader([]byte(`{"jsonrpc":"2.0","id":1,"method":"lend_is_paused"}`)))
	require.NoError(t, err)
	resp.Body.Close()
	require.NotEmpty(t, resp.Header.Get(middleware.HeaderRequestID))
}

func TestClientCall(t *testing.T) {
	f := newRPCFixture(t, nil)
	client := NewClient(f.http.URL, "")

	var admin addressResult
	require.NoError(t, client.Call(f.ctx, "admin", nil, &admin))
	require.Equal(t, f.genesis.Admin.String(), admin.Address)

	err := client.Call(f.ctx, "lend_get_offer", map[string]interface{}{"offerId": 42}, nil)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, codeLendingError, rpcErr.Code)
}

func TestMethodKindsMatchServer(t *testing.T) {
	f := newRPCFixture(t, nil)
	kinds := MethodKinds()
	require.Len(t, kinds, len(f.server.Methods()))
	for _, name := range f.server.Methods() {
		require.Contains(t, kinds, name)
	}
	require.Equal(t, "signed", kinds["lend_borrow"])
	require.Equal(t, "read", kinds["lend_get_loan"])
	require.Equal(t, "operator", kinds["lend_token_mint"])
}
