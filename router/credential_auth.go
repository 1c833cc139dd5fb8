package router

import (
	"crypto/ecdsa"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/berkmancenter/podpair/credential"
	"github.com/berkmancenter/podpair/types"
)

// OperatorTokenTTL is the default lifetime of a minted operator token.
const OperatorTokenTTL = 48 * time.Hour

// NewOperatorToken signs an ES256 token that authorizes org to issue
// credentials on a relay configured with the matching public key.
func NewOperatorToken(key *ecdsa.PrivateKey, org string, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := jwt.MapClaims{
		"org": org,
		"exp": now.Add(ttl).Unix(),
		"iat": now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign operator token: %w", err)
	}

	return signed, nil
}

func operatorOrg(c echo.Context) string {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok {
		return ""
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}

	org, _ := claims["org"].(string)

	return org
}

func validateIssueRequest(req types.IssueRequest) error {
	switch {
	case req.Age < 0 || req.Age > 150:
		return fmt.Errorf("age out of range")
	case strings.TrimSpace(req.Name) == "":
		return fmt.Errorf("name is required")
	case strings.TrimSpace(req.Residency) == "":
		return fmt.Errorf("residency is required")
	}

	return nil
}

// postCredential issues a bundle for the posted identity attributes.
func (s *Server) postCredential(c echo.Context) error {
	var req types.IssueRequest
	if err := c.Bind(&req); err != nil {
		s.metrics.issueFail.Inc()
		return c.String(http.StatusBadRequest, "invalid body")
	}

	if err := validateIssueRequest(req); err != nil {
		s.metrics.issueFail.Inc()
		return c.String(http.StatusBadRequest, err.Error())
	}

	record, err := credential.Issue(s.cfg.Issuer, credential.IdentityEntries(req))
	if err != nil {
		s.metrics.issueFail.Inc()
		s.logger.Error("issue credential", zap.Error(err))

		return c.String(http.StatusInternalServerError, "could not issue credential")
	}

	bundle, err := credential.MarshalBundle(record)
	if err != nil {
		s.metrics.issueFail.Inc()
		s.logger.Error("encode bundle", zap.Error(err))

		return c.String(http.StatusInternalServerError, "could not encode credential")
	}

	s.metrics.issued.Inc()
	s.logger.Info("credential issued", zap.String("org", operatorOrg(c)), zap.Stringer("root", record.Root()))

	return c.JSONBlob(http.StatusOK, bundle)
}
