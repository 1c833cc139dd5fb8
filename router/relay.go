package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/berkmancenter/podpair/transport"
	"github.com/berkmancenter/podpair/types"
)

const (
	partyFirst  = "alice"
	partySecond = "bob"
)

// getPair upgrades to a websocket and relays frames between the two parties
// that present the same join code. Frame kinds are preserved.
func (s *Server) getPair(c echo.Context) error {
	code := c.Param("code")
	if !transport.ValidJoinCode(code) {
		return c.String(http.StatusBadRequest, "invalid join code")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: s.cfg.OriginPatterns,
	})
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return nil
	}

	conn.SetReadLimit(s.cfg.ReadLimit)

	log := s.logger.With(zap.String("peer", c.RealIP()))
	s.annotate(c.RealIP(), log)

	ctx := c.Request().Context()

	w, first := s.room.join(code, conn)
	if !first {
		log.Info("pair complete")
		s.metrics.paired.Inc()

		if err := s.announce(ctx, w.conn, conn); err != nil {
			log.Debug("announce failed", zap.Error(err))
			closeBoth(w.conn, conn, websocket.StatusInternalError, "peer unavailable")
			w.peer <- nil

			return nil
		}

		w.peer <- conn
		s.forward(ctx, conn, w.conn, log)

		return nil
	}

	s.metrics.waiting.Inc()
	log.Debug("waiting for peer")

	peer, ok := s.await(ctx, code, w)

	s.metrics.waiting.Dec()

	if !ok {
		log.Info("no peer arrived")
		s.metrics.expired.Inc()
		_ = conn.Close(websocket.StatusTryAgainLater, "no peer")

		return nil
	}

	if peer != nil {
		s.forward(ctx, conn, peer, log)
	}

	return nil
}

// await blocks until w is claimed and announced. ok is false when the code
// expired unclaimed; a nil peer with ok means announcing failed.
func (s *Server) await(ctx context.Context, code string, w *waiter) (peer *websocket.Conn, ok bool) {
	timer := time.NewTimer(s.cfg.PairTTL)
	defer timer.Stop()

	select {
	case peer = <-w.peer:
		return peer, true
	case <-w.gone:
	case <-timer.C:
	case <-ctx.Done():
	}

	if !s.room.leave(code, w) {
		return nil, false
	}

	return <-w.peer, true
}

// announce tells both parties they are paired before any frame is relayed.
func (s *Server) announce(ctx context.Context, first, second *websocket.Conn) error {
	conns := []*websocket.Conn{first, second}

	for i, party := range []string{partyFirst, partySecond} {
		msg, err := json.Marshal(types.ReadySignal{Type: types.RelayReady, Party: party})
		if err != nil {
			return err
		}

		if err := conns[i].Write(ctx, websocket.MessageText, msg); err != nil {
			return err
		}
	}

	return nil
}

// forward copies frames from src to dst until either side goes away, then
// closes both.
func (s *Server) forward(ctx context.Context, src, dst *websocket.Conn, log *zap.Logger) {
	for {
		typ, data, err := src.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == -1 {
				status = websocket.StatusGoingAway
			}

			if !errors.Is(err, context.Canceled) && status != websocket.StatusNormalClosure {
				log.Debug("relay read ended", zap.Error(err))
			}

			closeBoth(src, dst, status, "peer left")

			return
		}

		if err := dst.Write(ctx, typ, data); err != nil {
			log.Debug("relay write failed", zap.Error(err))
			closeBoth(src, dst, websocket.StatusGoingAway, "peer left")

			return
		}

		s.metrics.frames.WithLabelValues(typ.String()).Inc()
		s.metrics.bytes.Add(float64(len(data)))
	}
}

func closeBoth(a, b *websocket.Conn, status websocket.StatusCode, reason string) {
	_ = a.Close(status, reason)
	_ = b.Close(status, reason)
}
