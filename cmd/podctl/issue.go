package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/berkmancenter/podpair/commitment"
	"github.com/berkmancenter/podpair/credential"
	"github.com/berkmancenter/podpair/internal/cmdutil"
	"github.com/berkmancenter/podpair/types"
)

const (
	issuerKeyFlagName  = "issuer-key"
	issuerKeyEnvKey    = "PODCTL_ISSUER_KEY" //nolint:gosec
	issuerKeyFlagUsage = "Issuer key seed from podctl keygen; issues locally." + cmdutil.EnvUsageText +
		issuerKeyEnvKey

	relayURLFlagName  = "relay-url"
	relayURLEnvKey    = "PODCTL_RELAY_URL"
	relayURLFlagUsage = "Base URL of podpair-server, e.g. https://relay.example.org." + cmdutil.EnvUsageText +
		relayURLEnvKey

	tokenFlagName  = "token"
	tokenEnvKey    = "PODCTL_TOKEN" //nolint:gosec
	tokenFlagUsage = "Operator token for remote issuance (see podctl token)." + cmdutil.EnvUsageText + tokenEnvKey

	ageFlagName       = "age"
	ageEnvKey         = "PODCTL_AGE"
	residencyFlagName = "residency"
	residencyEnvKey   = "PODCTL_RESIDENCY"
	nameFlagName      = "name"
	nameEnvKey        = "PODCTL_NAME"
	photoFlagName     = "photo"
	photoEnvKey       = "PODCTL_PHOTO"

	outFlagName  = "out"
	outFlagUsage = "Write the result to this file instead of stdout."

	credentialFlagName  = "credential"
	credentialEnvKey    = "PODCTL_CREDENTIAL"
	credentialFlagUsage = "Credential bundle file." + cmdutil.EnvUsageText + credentialEnvKey

	issueTimeout = 30 * time.Second
)

func outputPath(cmd *cobra.Command) string {
	path, err := cmd.Flags().GetString(outFlagName)
	if err != nil {
		return ""
	}

	return path
}

func getIssueRequest(cmd *cobra.Command) (types.IssueRequest, error) {
	ageStr, err := cmdutil.GetUserSetVarFromString(cmd, ageFlagName, ageEnvKey, false)
	if err != nil {
		return types.IssueRequest{}, err
	}

	age, err := strconv.ParseInt(ageStr, 10, 64)
	if err != nil {
		return types.IssueRequest{}, fmt.Errorf("invalid value for %s [%s]: %w", ageFlagName, ageStr, err)
	}

	residency, err := cmdutil.GetUserSetVarFromString(cmd, residencyFlagName, residencyEnvKey, false)
	if err != nil {
		return types.IssueRequest{}, err
	}

	name, err := cmdutil.GetUserSetVarFromString(cmd, nameFlagName, nameEnvKey, false)
	if err != nil {
		return types.IssueRequest{}, err
	}

	return types.IssueRequest{
		Age:       age,
		Residency: residency,
		Name:      name,
		Photo:     cmdutil.GetUserSetOptionalVarFromString(cmd, photoFlagName, photoEnvKey),
	}, nil
}

func issueLocal(seed string, req types.IssueRequest) ([]byte, error) {
	sk, err := credential.DecodePrivateKey(seed)
	if err != nil {
		return nil, fmt.Errorf("issuer key: %w", err)
	}

	record, err := credential.Issue(sk, credential.IdentityEntries(req))
	if err != nil {
		return nil, err
	}

	return credential.MarshalBundle(record)
}

func issueRemote(ctx context.Context, relayURL, token string, req types.IssueRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(relayURL, "/")+"/credential", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post credential: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	// Reject anything the holder would not be able to load later.
	if _, err := credential.ParseBundle(data); err != nil {
		return nil, fmt.Errorf("relay returned an unusable bundle: %w", err)
	}

	return data, nil
}

// GetIssueCmd issues a credential bundle, either signing locally or asking the relay's issuer.
func GetIssueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue an identity credential bundle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := getIssueRequest(cmd)
			if err != nil {
				return err
			}

			var bundle []byte

			if seed := cmdutil.GetUserSetOptionalVarFromString(cmd, issuerKeyFlagName, issuerKeyEnvKey); seed != "" {
				bundle, err = issueLocal(seed, req)
			} else {
				var relayURL, token string

				relayURL, err = cmdutil.GetUserSetVarFromString(cmd, relayURLFlagName, relayURLEnvKey, false)
				if err != nil {
					return fmt.Errorf("either --%s or --%s is needed: %w", issuerKeyFlagName, relayURLFlagName, err)
				}

				token, err = cmdutil.GetUserSetVarFromString(cmd, tokenFlagName, tokenEnvKey, false)
				if err != nil {
					return err
				}

				ctx, cancel := context.WithTimeout(cmd.Context(), issueTimeout)
				defer cancel()

				bundle, err = issueRemote(ctx, relayURL, token, req)
			}

			if err != nil {
				return err
			}

			return writeOutput(cmd, outputPath(cmd), bundle)
		},
	}

	cmd.Flags().String(issuerKeyFlagName, "", issuerKeyFlagUsage)
	cmd.Flags().String(relayURLFlagName, "", relayURLFlagUsage)
	cmd.Flags().String(tokenFlagName, "", tokenFlagUsage)
	cmd.Flags().String(ageFlagName, "", "Holder age in years.")
	cmd.Flags().String(residencyFlagName, "", "Holder residency, e.g. USA.")
	cmd.Flags().String(nameFlagName, "", "Holder full name.")
	cmd.Flags().String(photoFlagName, "", "Optional photo reference.")
	cmd.Flags().String(outFlagName, "", outFlagUsage)

	return cmd
}

func loadBundle(cmd *cobra.Command) (*credential.Record, error) {
	path, err := cmdutil.GetUserSetVarFromString(cmd, credentialFlagName, credentialEnvKey, false)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credential: %w", err)
	}

	return credential.ParseBundle(data)
}

type inspectOutput struct {
	IssuerPublicKey string             `json:"issuerPublicKey"`
	Root            commitment.Hash    `json:"root"`
	Names           []string           `json:"names"`
	Entries         commitment.Entries `json:"entries"`
}

// GetInspectCmd prints the attributes and issuer of a credential bundle.
func GetInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the contents of a credential bundle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			record, err := loadBundle(cmd)
			if err != nil {
				return err
			}

			entries := record.Entries()

			return writeJSON(cmd.OutOrStdout(), inspectOutput{
				IssuerPublicKey: record.SignerPublicKey(),
				Root:            record.Root(),
				Names:           entries.Names(),
				Entries:         entries,
			})
		},
	}

	cmd.Flags().String(credentialFlagName, "", credentialFlagUsage)

	return cmd
}
