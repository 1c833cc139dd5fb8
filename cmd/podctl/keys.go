package main

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/berkmancenter/podpair/credential"
	"github.com/berkmancenter/podpair/internal/cmdutil"
	"github.com/berkmancenter/podpair/router"
)

const (
	operatorOutFlagName  = "operator-out"
	operatorOutEnvKey    = "PODCTL_OPERATOR_OUT"
	operatorOutFlagUsage = "Also write an ES256 operator key pair to <path> (private) and <path>.pub (public)." +
		cmdutil.EnvUsageText + operatorOutEnvKey

	operatorKeyFlagName  = "operator-key-file"
	operatorKeyEnvKey    = "PODCTL_OPERATOR_KEY_FILE" //nolint:gosec
	operatorKeyFlagUsage = "PEM file with the operator's ES256 private key." + cmdutil.EnvUsageText +
		operatorKeyEnvKey

	orgFlagName  = "org"
	orgEnvKey    = "PODCTL_ORG"
	orgFlagUsage = "Organization named in the operator token." + cmdutil.EnvUsageText + orgEnvKey

	ttlFlagName  = "ttl"
	ttlEnvKey    = "PODCTL_TOKEN_TTL"
	ttlFlagUsage = "Token lifetime (default 48h)." + cmdutil.EnvUsageText + ttlEnvKey
)

type keygenOutput struct {
	IssuerKey       string `json:"issuerKey"`
	IssuerPublicKey string `json:"issuerPublicKey"`
	OperatorKeyFile string `json:"operatorKeyFile,omitempty"`
	OperatorPubFile string `json:"operatorPublicKeyFile,omitempty"`
}

func writeOperatorKeys(path string) (string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate operator key: %w", err)
	}

	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("encode operator key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", fmt.Errorf("encode operator public key: %w", err)
	}

	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), 0o600); err != nil {
		return "", fmt.Errorf("write operator key: %w", err)
	}

	pubPath := path + ".pub"
	if err := os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o644); err != nil { //nolint:gosec
		return "", fmt.Errorf("write operator public key: %w", err)
	}

	return pubPath, nil
}

// GetKeygenCmd generates an issuer signing key and, optionally, an operator key pair.
func GetKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an issuer key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sk, err := credential.GenerateIssuerKey()
			if err != nil {
				return err
			}

			out := keygenOutput{
				IssuerKey:       credential.EncodePrivateKey(sk),
				IssuerPublicKey: credential.EncodePublicKey(sk.Public().(ed25519.PublicKey)),
			}

			if path := cmdutil.GetUserSetOptionalVarFromString(cmd, operatorOutFlagName, operatorOutEnvKey); path != "" {
				pubPath, err := writeOperatorKeys(path)
				if err != nil {
					return err
				}

				out.OperatorKeyFile, out.OperatorPubFile = path, pubPath
			}

			return writeJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().String(operatorOutFlagName, "", operatorOutFlagUsage)

	return cmd
}

func loadOperatorKey(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read operator key: %w", err)
	}

	key, err := jwt.ParseECPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}

	return key, nil
}

// GetTokenCmd mints the bearer token the relay's POST /credential expects.
func GetTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator token for credential issuance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := cmdutil.GetUserSetVarFromString(cmd, operatorKeyFlagName, operatorKeyEnvKey, false)
			if err != nil {
				return err
			}

			org, err := cmdutil.GetUserSetVarFromString(cmd, orgFlagName, orgEnvKey, false)
			if err != nil {
				return err
			}

			ttl, err := cmdutil.GetDuration(cmd, ttlFlagName, ttlEnvKey, router.OperatorTokenTTL)
			if err != nil {
				return err
			}

			key, err := loadOperatorKey(path)
			if err != nil {
				return err
			}

			token, err := router.NewOperatorToken(key, org, ttl)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)

			return err
		},
	}

	cmd.Flags().String(operatorKeyFlagName, "", operatorKeyFlagUsage)
	cmd.Flags().String(orgFlagName, "", orgFlagUsage)
	cmd.Flags().String(ttlFlagName, "", ttlFlagUsage)

	return cmd
}
