package router

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"errors"
	"net/http"
	"time"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/berkmancenter/podpair/credential"
	"github.com/berkmancenter/podpair/types"
)

const (
	DefaultPairTTL    = 2 * time.Minute
	DefaultMaxWaiting = 4096
	DefaultReadLimit  = 16 << 20
)

type Config struct {
	// Issuer signs credentials posted to /credential. Without it the relay
	// only pairs.
	Issuer ed25519.PrivateKey
	// OperatorKey verifies the ES256 tokens that authorize issuance.
	OperatorKey *ecdsa.PublicKey

	PairTTL        time.Duration
	MaxWaiting     int
	ReadLimit      int64
	OriginPatterns []string
	OrgLookup      OrgLookup
	Logger         *zap.Logger
}

type Server struct {
	cfg     Config
	logger  *zap.Logger
	room    *waitingRoom
	metrics *metrics
}

func New(cfg Config) (*Server, error) {
	if cfg.Issuer != nil && cfg.OperatorKey == nil {
		return nil, errors.New("issuer key requires an operator key")
	}

	if cfg.PairTTL <= 0 {
		cfg.PairTTL = DefaultPairTTL
	}

	if cfg.MaxWaiting <= 0 {
		cfg.MaxWaiting = DefaultMaxWaiting
	}

	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}

	if len(cfg.OriginPatterns) == 0 {
		cfg.OriginPatterns = []string{"*"}
	}

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Server{
		cfg:     cfg,
		logger:  cfg.Logger.Named("relay"),
		room:    newWaitingRoom(cfg.MaxWaiting, cfg.PairTTL),
		metrics: newMetrics(),
	}, nil
}

// NewEcho returns an echo instance with the standard middleware and every
// route registered.
func (s *Server) NewEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s.RegisterRoutes(e)

	return e
}

func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/", s.getIssuer)
	e.GET("/healthz", getHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})))
	e.GET("/pair/:code", s.getPair)

	if s.cfg.Issuer != nil {
		e.POST("/credential", s.postCredential, middleware.BodyLimit("2M"), echojwt.WithConfig(echojwt.Config{
			SigningKey:    s.cfg.OperatorKey,
			SigningMethod: "ES256",
		}))
	}
}

func (s *Server) getIssuer(c echo.Context) error {
	if s.cfg.Issuer == nil {
		return c.String(http.StatusNotFound, "no issuer configured")
	}

	return c.JSON(http.StatusOK, types.IssuerInfo{
		PublicKey: credential.EncodePublicKey(s.cfg.Issuer.Public().(ed25519.PublicKey)),
	})
}

func getHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
