// Command podpair-server runs the rendezvous relay that pairs holders with
// verifiers and, when given an issuer key, issues identity credentials.
package main

import (
	"crypto/ecdsa"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/berkmancenter/podpair/credential"
	"github.com/berkmancenter/podpair/router"
)

type server interface {
	Start(e *echo.Echo, address string) error
}

type echoServer struct{}

func (echoServer) Start(e *echo.Echo, address string) error { return e.Start(address) }

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}

		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	return cfg.Build()
}

func loadOperatorKey(path string) (*ecdsa.PublicKey, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read operator key: %w", err)
	}

	key, err := jwt.ParseECPublicKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}

	return key, nil
}

func buildConfig(params *serverParameters, logger *zap.Logger) (router.Config, error) {
	cfg := router.Config{
		PairTTL:        params.pairTTL,
		MaxWaiting:     params.maxWaiting,
		OriginPatterns: params.origins,
		Logger:         logger,
	}

	if params.issuerKey != "" {
		sk, err := credential.DecodePrivateKey(params.issuerKey)
		if err != nil {
			return router.Config{}, fmt.Errorf("issuer key: %w", err)
		}

		cfg.Issuer = sk
	}

	if params.operatorKeyFile != "" {
		key, err := loadOperatorKey(params.operatorKeyFile)
		if err != nil {
			return router.Config{}, err
		}

		cfg.OperatorKey = key
	}

	if params.rdapLookup {
		cfg.OrgLookup = router.NewRDAPLookup()
	}

	return cfg, nil
}

func createStartCmd(srv server) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start podpair-server",
		Long:  "Start the rendezvous relay and, when configured, the credential issuer",
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := getServerParameters(cmd)
			if err != nil {
				return err
			}

			logger, err := newLogger(params.logLevel)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logger.Sync() //nolint:errcheck

			cfg, err := buildConfig(params, logger)
			if err != nil {
				return err
			}

			s, err := router.New(cfg)
			if err != nil {
				return err
			}

			logger.Info("starting podpair-server",
				zap.String("address", params.hostURL),
				zap.Bool("issuer", cfg.Issuer != nil),
				zap.Bool("rdap", params.rdapLookup))

			return srv.Start(s.NewEcho(), params.hostURL)
		},
	}
}

// GetStartCmd returns the start command with its flags.
func GetStartCmd(srv server) *cobra.Command {
	cmd := createStartCmd(srv)
	createFlags(cmd)

	return cmd
}

func main() {
	rootCmd := &cobra.Command{
		Use: "podpair-server",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	rootCmd.AddCommand(GetStartCmd(echoServer{}))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
