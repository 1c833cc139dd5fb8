package router

import (
	"context"
	"crypto/ed25519"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/berkmancenter/podpair/credential"
	"github.com/berkmancenter/podpair/exchange"
	"github.com/berkmancenter/podpair/mpc/mpctest"
	"github.com/berkmancenter/podpair/policy"
	"github.com/berkmancenter/podpair/transport"
	"github.com/berkmancenter/podpair/types"
)

func startRelay(t *testing.T, mutate ...func(*Config)) (*testRouter, string) {
	t.Helper()

	// Relay handlers outlive the test on hijacked connections, so they must
	// not log through t.
	quiet := func(c *Config) { c.Logger = zap.NewNop() }

	r := setupTestRouter(t, append([]func(*Config){quiet}, mutate...)...)
	srv := httptest.NewServer(r.echo)
	t.Cleanup(srv.Close)

	return r, srv.URL
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	return ctx
}

type dialed struct {
	ch    transport.Channel
	ready types.ReadySignal
	err   error
}

// dialPair connects two parties under one code, the first strictly before the
// second.
func dialPair(t *testing.T, r *testRouter, url string) (dialed, dialed) {
	t.Helper()

	ctx := testContext(t)

	code, err := transport.NewJoinCode()
	require.NoError(t, err)

	firstCh := make(chan dialed, 1)
	go func() {
		ch, ready, err := transport.DialRelay(ctx, url, code, transport.WithMaxRetries(0))
		firstCh <- dialed{ch, ready, err}
	}()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(r.server.metrics.waiting) == 1
	}, 2*time.Second, 5*time.Millisecond)

	ch, ready, err := transport.DialRelay(ctx, url, code, transport.WithMaxRetries(0))
	second := dialed{ch, ready, err}
	first := <-firstCh

	for _, d := range []dialed{first, second} {
		if d.ch != nil {
			t.Cleanup(func() { _ = d.ch.Close() })
		}
	}

	return first, second
}

func TestRelayPairsAndPreservesFrameKinds(t *testing.T) {
	r, url := startRelay(t)
	ctx := testContext(t)

	a, b := dialPair(t, r, url)
	require.NoError(t, a.err)
	require.NoError(t, b.err)

	assert.Equal(t, "alice", a.ready.Party)
	assert.Equal(t, "bob", b.ready.Party)

	require.NoError(t, a.ch.Send(ctx, transport.Frame{Kind: transport.FrameText, Data: []byte(`{"type":"DATA"}`)}))
	require.NoError(t, a.ch.Send(ctx, transport.Frame{Kind: transport.FrameBinary, Data: []byte{1, 2, 3}}))
	require.NoError(t, b.ch.Send(ctx, transport.Frame{Kind: transport.FrameBinary, Data: []byte{4}}))

	f, err := b.ch.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, transport.FrameText, f.Kind)
	assert.Equal(t, `{"type":"DATA"}`, string(f.Data))

	f, err = b.ch.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, transport.FrameBinary, f.Kind)
	assert.Equal(t, []byte{1, 2, 3}, f.Data)

	f, err = a.ch.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{4}, f.Data)

	assert.Equal(t, float64(1), testutil.ToFloat64(r.server.metrics.paired))
	assert.Equal(t, float64(0), testutil.ToFloat64(r.server.metrics.waiting))
}

func TestRelayClosesPeerOnDisconnect(t *testing.T) {
	r, url := startRelay(t)
	ctx := testContext(t)

	a, b := dialPair(t, r, url)
	require.NoError(t, a.err)
	require.NoError(t, b.err)

	require.NoError(t, a.ch.Close())

	_, err := b.ch.Recv(ctx)
	var terr *transport.TransportError
	assert.ErrorAs(t, err, &terr)
}

func TestRelayExpiresLonelyParty(t *testing.T) {
	r, url := startRelay(t, func(c *Config) { c.PairTTL = 50 * time.Millisecond })

	code, err := transport.NewJoinCode()
	require.NoError(t, err)

	_, _, err = transport.DialRelay(testContext(t), url, code, transport.WithMaxRetries(0))

	var terr *transport.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, float64(1), testutil.ToFloat64(r.server.metrics.expired))
}

func TestRelayDisclosureEndToEnd(t *testing.T) {
	r, url := startRelay(t)
	ctx := testContext(t)

	code, err := transport.NewJoinCode()
	require.NoError(t, err)

	type connected struct {
		t   *transport.Transport
		err error
	}

	verifierCh := make(chan connected, 1)
	go func() {
		tr, _, err := transport.Connect(ctx, url, code, transport.WithDialLogger(zaptest.NewLogger(t)))
		verifierCh <- connected{tr, err}
	}()

	holderT, _, err := transport.Connect(ctx, url, code, transport.WithDialLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = holderT.Close() })

	vc := <-verifierCh
	require.NoError(t, vc.err)
	t.Cleanup(func() { _ = vc.t.Close() })

	record, err := credential.Issue(r.issuer, credential.IdentityEntries(types.IssueRequest{Age: 30, Residency: "USA", Name: "Alice"}))
	require.NoError(t, err)

	issuerKey := credential.EncodePublicKey(r.issuer.Public().(ed25519.PublicKey))

	holderCtx, stop := context.WithCancel(ctx)
	defer stop()

	go func() {
		_ = exchange.NewHolder(record, issuerKey, &mpctest.Engine{}).Serve(holderCtx, holderT)
	}()

	trust := policy.NewTrustList(policy.TrustStrict)
	require.NoError(t, trust.Add("relay issuer", issuerKey))

	v := exchange.NewVerifier(&mpctest.Engine{}, exchange.WithTrustList(trust))

	out, err := v.RequestPresentation(ctx, vc.t, []string{"age"}, policy.AtLeast("age", 21))
	require.NoError(t, err)
	assert.True(t, out.Accepted(), "reason: %v", out.Reason)
	assert.NotContains(t, out.Revealed, "name")

	res, err := v.RequestPrivateCheck(ctx, vc.t, exchange.PrivateCheck{MinAge: 21, Name: "Alice"})
	require.NoError(t, err)
	assert.True(t, res.AgeValid)
	assert.True(t, res.NameValid)
}
