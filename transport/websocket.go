package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/berkmancenter/podpair/types"
)

const defaultReadLimit = 16 << 20

type wsChannel struct {
	conn *websocket.Conn
}

// NewWebsocketChannel adapts an established websocket connection.
func NewWebsocketChannel(conn *websocket.Conn, readLimit int64) Channel {
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}

	conn.SetReadLimit(readLimit)

	return &wsChannel{conn: conn}
}

func (w *wsChannel) Send(ctx context.Context, f Frame) error {
	typ := websocket.MessageBinary
	if f.Kind == FrameText {
		typ = websocket.MessageText
	}

	if err := w.conn.Write(ctx, typ, f.Data); err != nil {
		return fmt.Errorf("websocket write message : %w", err)
	}

	return nil
}

func (w *wsChannel) Recv(ctx context.Context) (Frame, error) {
	typ, data, err := w.conn.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return Frame{}, ErrClosed
		}

		return Frame{}, fmt.Errorf("websocket read message : %w", err)
	}

	if typ == websocket.MessageText {
		return Frame{Kind: FrameText, Data: data}, nil
	}

	return Frame{Kind: FrameBinary, Data: data}, nil
}

func (w *wsChannel) Close() error {
	err := w.conn.Close(websocket.StatusNormalClosure, "closing the connection")
	if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		return err
	}

	return nil
}

type dialOptions struct {
	maxRetries uint64
	readLimit  int64
	logger     *zap.Logger
	insecure   bool
}

type DialOpt func(*dialOptions)

func WithMaxRetries(n uint64) DialOpt { return func(o *dialOptions) { o.maxRetries = n } }

func WithReadLimit(n int64) DialOpt { return func(o *dialOptions) { o.readLimit = n } }

func WithDialLogger(l *zap.Logger) DialOpt { return func(o *dialOptions) { o.logger = l } }

// WithoutEncryption skips the secure handshake in Connect.
func WithoutEncryption() DialOpt { return func(o *dialOptions) { o.insecure = true } }

func pairURL(relayURL, code string) (string, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported relay scheme %q", u.Scheme)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/pair/" + url.PathEscape(code)

	return u.String(), nil
}

// DialRelay connects to the rendezvous relay in the room derived from code
// (see RoomID; the code itself is never sent) and blocks until the
// relay reports that the counterpart has joined. Connection attempts are
// retried with exponential backoff; nothing after the ready signal is.
func DialRelay(ctx context.Context, relayURL, code string, opts ...DialOpt) (Channel, types.ReadySignal, error) {
	o := &dialOptions{maxRetries: 5, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	target, err := pairURL(relayURL, RoomID(code))
	if err != nil {
		return nil, types.ReadySignal{}, err
	}

	var conn *websocket.Conn

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), o.maxRetries), ctx)

	err = backoff.RetryNotify(func() error {
		c, _, dialErr := websocket.Dial(ctx, target, nil) //nolint:bodyclose
		if dialErr != nil {
			return dialErr
		}

		conn = c

		return nil
	}, b, func(err error, wait time.Duration) {
		o.logger.Debug("relay dial failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	})
	if err != nil {
		return nil, types.ReadySignal{}, &TransportError{Op: "dial", Err: err}
	}

	ch := NewWebsocketChannel(conn, o.readLimit)

	ready, err := awaitReady(ctx, ch)
	if err != nil {
		_ = ch.Close()
		return nil, types.ReadySignal{}, err
	}

	return ch, ready, nil
}

func awaitReady(ctx context.Context, ch Channel) (types.ReadySignal, error) {
	f, err := ch.Recv(ctx)
	if err != nil {
		return types.ReadySignal{}, &TransportError{Op: "await ready", Err: err}
	}

	var ready types.ReadySignal
	if f.Kind != FrameText || json.Unmarshal(f.Data, &ready) != nil || ready.Type != types.RelayReady {
		return types.ReadySignal{}, &TransportError{Op: "await ready", Err: errors.New("unexpected frame before ready signal")}
	}

	return ready, nil
}

// Connect dials the relay, secures the channel and returns a running Transport.
func Connect(ctx context.Context, relayURL, code string, opts ...DialOpt) (*Transport, types.ReadySignal, error) {
	o := &dialOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	ch, ready, err := DialRelay(ctx, relayURL, code, opts...)
	if err != nil {
		return nil, ready, err
	}

	if !o.insecure {
		secured, err := Secure(ctx, ch, code)
		if err != nil {
			_ = ch.Close()
			return nil, ready, err
		}

		ch = secured
	}

	o.logger.Info("paired", zap.String("party", ready.Party))

	return New(ch, WithLogger(o.logger)), ready, nil
}
