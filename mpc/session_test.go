package mpc_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/berkmancenter/podpair/mpc"
	"github.com/berkmancenter/podpair/mpc/mpctest"
	"github.com/berkmancenter/podpair/transport"
)

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	return ctx
}

func pairedTransports(t *testing.T) (*transport.Transport, *transport.Transport) {
	a, b := transport.Pipe()

	ta := transport.New(a, transport.WithLogger(zaptest.NewLogger(t)))
	tb := transport.New(b, transport.WithLogger(zaptest.NewLogger(t)))

	t.Cleanup(func() {
		_ = ta.Close()
		_ = tb.Close()
	})

	return ta, tb
}

type runResult struct {
	res mpc.Result
	err error
}

// runBoth runs the requirement side and the subject side concurrently.
func runBoth(t *testing.T, engine mpc.Engine, req, subj mpc.Inputs) (runResult, runResult) {
	t.Helper()

	ctx := testContext(t)
	ta, tb := pairedTransports(t)

	var wg sync.WaitGroup
	var alice, bob runResult

	wg.Add(2)

	go func() {
		defer wg.Done()

		s := mpc.NewSession(engine, mpc.WithLogger(zaptest.NewLogger(t)))
		alice.res, alice.err = s.Run(ctx, mpc.RoleRequirement, req, ta)
	}()

	go func() {
		defer wg.Done()

		s := mpc.NewSession(engine, mpc.WithLogger(zaptest.NewLogger(t)))
		bob.res, bob.err = s.Run(ctx, mpc.RoleSubject, subj, tb)
	}()

	wg.Wait()

	return alice, bob
}

func TestAgeThreshold(t *testing.T) {
	req := mpc.Inputs{MinAge: 21}

	tests := []struct {
		name string
		age  int64
		want bool
	}{
		{"under", 19, false},
		{"exact", 21, true},
		{"over", 25, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alice, bob := runBoth(t, &mpctest.Engine{}, req, mpc.Inputs{Age: tt.age})
			require.NoError(t, alice.err)
			require.NoError(t, bob.err)

			assert.Equal(t, tt.want, alice.res.AgeValid)
			assert.Equal(t, alice.res, bob.res)
		})
	}
}

func TestNameMatch(t *testing.T) {
	req := mpc.Inputs{RequiredNameHash: mpc.NameHash("Alice")}

	alice, bob := runBoth(t, &mpctest.Engine{}, req, mpc.Inputs{NameHash: mpc.NameHash("Alice")})
	require.NoError(t, alice.err)
	require.NoError(t, bob.err)
	assert.True(t, alice.res.NameValid)
	assert.True(t, bob.res.NameValid)

	alice, bob = runBoth(t, &mpctest.Engine{}, req, mpc.Inputs{NameHash: mpc.NameHash("Bob")})
	require.NoError(t, alice.err)
	require.NoError(t, bob.err)
	assert.False(t, alice.res.NameValid)
	assert.False(t, bob.res.NameValid)
}

func TestChunkedMessagesArriveInOrder(t *testing.T) {
	req := mpc.Inputs{MinAge: 18, RequiredResidency: mpc.NameHash("USA")}
	subj := mpc.Inputs{Age: 30, Residency: mpc.NameHash("USA")}

	alice, bob := runBoth(t, &mpctest.Engine{Chunks: 7}, req, subj)
	require.NoError(t, alice.err)
	require.NoError(t, bob.err)
	assert.True(t, alice.res.AgeValid)
	assert.True(t, alice.res.ResidencyValid)
	assert.True(t, bob.res.All())
}

func TestWrongCounterpartIsProtocolError(t *testing.T) {
	ta, _ := pairedTransports(t)

	s := mpc.NewSession(&mpctest.Engine{Recipient: "carol"})
	_, err := s.Run(testContext(t), mpc.RoleRequirement, mpc.Inputs{}, ta)

	var perr *mpc.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, mpc.Role("carol"), perr.Peer)
	assert.Equal(t, mpc.StateFailed, s.State())
}

func TestUnexpectedOutputShape(t *testing.T) {
	for _, out := range []any{
		"nope",
		map[string]any{"ageValid": 1},
		map[string]any{"ageValid": 1, "residencyValid": 0, "nameValid": 2},
		map[string]any{"ageValid": 1, "residencyValid": 0, "nameValid": "yes"},
	} {
		alice, bob := runBoth(t, &mpctest.Engine{Output: out}, mpc.Inputs{}, mpc.Inputs{})

		var shape *mpc.OutputShapeError
		assert.ErrorAs(t, alice.err, &shape)
		assert.ErrorAs(t, bob.err, &shape)
	}
}

func TestEngineErrorPropagates(t *testing.T) {
	alice, bob := runBoth(t, &mpctest.Engine{OutputErr: mpctest.ErrEngine}, mpc.Inputs{}, mpc.Inputs{})
	assert.ErrorIs(t, alice.err, mpctest.ErrEngine)
	assert.ErrorIs(t, bob.err, mpctest.ErrEngine)

	ta, _ := pairedTransports(t)
	s := mpc.NewSession(&mpctest.Engine{JoinErr: mpctest.ErrEngine})
	_, err := s.Run(testContext(t), mpc.RoleSubject, mpc.Inputs{}, ta)
	assert.ErrorIs(t, err, mpctest.ErrEngine)
}

func TestProgressIsReported(t *testing.T) {
	ctx := testContext(t)
	ta, tb := pairedTransports(t)

	var mu sync.Mutex
	var seen []float64

	s := mpc.NewSession(&mpctest.Engine{Chunks: 3},
		mpc.WithExpectedBytes(100),
		mpc.WithProgress(func(p float64) {
			mu.Lock()
			seen = append(seen, p)
			mu.Unlock()
		}))

	peer := mpc.NewSession(&mpctest.Engine{})
	go func() { _, _ = peer.Run(ctx, mpc.RoleSubject, mpc.Inputs{Age: 40}, tb) }()

	_, err := s.Run(ctx, mpc.RoleRequirement, mpc.Inputs{MinAge: 18}, ta)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	require.GreaterOrEqual(t, len(seen), 4)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}

	assert.InDelta(t, float64(s.BytesTransferred())/100, seen[len(seen)-1], 1e-9)
	assert.InDelta(t, s.Progress(), seen[len(seen)-1], 1e-9)
}

func TestSessionIsSingleUse(t *testing.T) {
	_, bob := runBoth(t, &mpctest.Engine{}, mpc.Inputs{}, mpc.Inputs{})
	require.NoError(t, bob.err)

	ta, _ := pairedTransports(t)
	s := mpc.NewSession(&mpctest.Engine{Recipient: "carol"})
	_, _ = s.Run(testContext(t), mpc.RoleRequirement, mpc.Inputs{}, ta)

	_, err := s.Run(testContext(t), mpc.RoleRequirement, mpc.Inputs{}, ta)
	assert.ErrorIs(t, err, mpc.ErrSessionUsed)
}

func TestProtocolQueueHasOneConsumer(t *testing.T) {
	ta, _ := pairedTransports(t)

	sub, err := ta.ClaimProtocol()
	require.NoError(t, err)
	defer sub.Release()

	s := mpc.NewSession(&mpctest.Engine{})
	_, err = s.Run(testContext(t), mpc.RoleRequirement, mpc.Inputs{}, ta)
	assert.ErrorIs(t, err, transport.ErrAlreadyClaimed)
}

func TestPeerDisconnectIsTransportError(t *testing.T) {
	ta, tb := pairedTransports(t)

	errCh := make(chan error, 1)
	go func() {
		s := mpc.NewSession(&mpctest.Engine{}, mpc.WithCloseGrace(50*time.Millisecond))
		_, err := s.Run(testContext(t), mpc.RoleRequirement, mpc.Inputs{}, ta)
		errCh <- err
	}()

	require.NoError(t, tb.Close())

	err := <-errCh

	var terr *transport.TransportError
	assert.True(t, errors.As(err, &terr), "got %v", err)
}

// opaqueEngine hides Finished from the driver and delays Output, like an
// engine that keeps computing after its last message.
type opaqueEngine struct {
	inner mpc.Engine
	delay time.Duration
}

type opaqueSession struct {
	inner mpc.EngineSession
	delay time.Duration
}

func (e opaqueEngine) Join(role mpc.Role, input map[string]int64, send mpc.SendFunc) (mpc.EngineSession, error) {
	es, err := e.inner.Join(role, input, send)
	if err != nil {
		return nil, err
	}

	return opaqueSession{inner: es, delay: e.delay}, nil
}

func (s opaqueSession) HandleMessage(from mpc.Role, msg []byte) error {
	return s.inner.HandleMessage(from, msg)
}

func (s opaqueSession) Output(ctx context.Context) (any, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return s.inner.Output(ctx)
}

func TestOutputSurvivesPeerHangingUpAfterItsRun(t *testing.T) {
	ctx := testContext(t)
	ta, tb := pairedTransports(t)

	aliceCh := make(chan runResult, 1)
	go func() {
		s := mpc.NewSession(opaqueEngine{inner: &mpctest.Engine{}, delay: 100 * time.Millisecond},
			mpc.WithLogger(zaptest.NewLogger(t)))
		res, err := s.Run(ctx, mpc.RoleRequirement, mpc.Inputs{MinAge: 21}, ta)
		aliceCh <- runResult{res, err}
	}()

	bob := mpc.NewSession(&mpctest.Engine{})
	res, err := bob.Run(ctx, mpc.RoleSubject, mpc.Inputs{Age: 30}, tb)
	require.NoError(t, err)
	assert.True(t, res.AgeValid)

	require.NoError(t, tb.Close())

	alice := <-aliceCh
	require.NoError(t, alice.err)
	assert.True(t, alice.res.AgeValid)
}

func TestOutputFailureAfterHangUpIsTransportError(t *testing.T) {
	ta, tb := pairedTransports(t)

	errCh := make(chan error, 1)
	go func() {
		engine := opaqueEngine{inner: &mpctest.Engine{OutputErr: mpctest.ErrEngine}, delay: 100 * time.Millisecond}
		s := mpc.NewSession(engine, mpc.WithCloseGrace(time.Second))
		_, err := s.Run(testContext(t), mpc.RoleRequirement, mpc.Inputs{}, ta)
		errCh <- err
	}()

	// The subject's input arrives, then the channel drops before anything else.
	require.NoError(t, tb.SendProtocol(testContext(t), []byte(`{"age":30}`)))
	require.NoError(t, tb.Close())

	err := <-errCh

	var terr *transport.TransportError
	assert.True(t, errors.As(err, &terr), "got %v", err)
}

func TestTimeout(t *testing.T) {
	ta, _ := pairedTransports(t)

	s := mpc.NewSession(&mpctest.Engine{}, mpc.WithTimeout(50*time.Millisecond))
	_, err := s.Run(testContext(t), mpc.RoleRequirement, mpc.Inputs{}, ta)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInvalidRole(t *testing.T) {
	ta, _ := pairedTransports(t)

	s := mpc.NewSession(&mpctest.Engine{})
	_, err := s.Run(testContext(t), mpc.Role("carol"), mpc.Inputs{}, ta)
	assert.ErrorIs(t, err, mpc.ErrInvalidRole)
}

func TestNameHash(t *testing.T) {
	assert.Equal(t, int64(0), mpc.NameHash(""))
	assert.Equal(t, int64(177670), mpc.NameHash("a"))
	assert.Equal(t, int64(215236003), mpc.NameHash("Alice"))
	assert.Equal(t, int64(1348683048), mpc.NameHash("Alice Smith"))
	assert.NotEqual(t, mpc.NameHash("Alice"), mpc.NameHash("alice"))
}

func TestNameHashUsesUTF16CodeUnits(t *testing.T) {
	// U+1F600 is the surrogate pair D83D DE00.
	assert.Equal(t, int64(7743522), mpc.NameHash("\U0001F600"))
	assert.Equal(t, int64(721951630), mpc.NameHash("Zoë \U0001F600x"))
}
