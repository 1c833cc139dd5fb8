package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/berkmancenter/podpair/commitment"
	"github.com/berkmancenter/podpair/credential"
	"github.com/berkmancenter/podpair/exchange"
	"github.com/berkmancenter/podpair/internal/cmdutil"
	"github.com/berkmancenter/podpair/policy"
	"github.com/berkmancenter/podpair/types"
)

const (
	presentationFlagName  = "presentation"
	presentationEnvKey    = "PODCTL_PRESENTATION"
	presentationFlagUsage = "File holding a POD_PRESENTATION message or a bare presentation." +
		cmdutil.EnvUsageText + presentationEnvKey

	issuerPKFlagName  = "issuer-pk"
	issuerPKEnvKey    = "PODCTL_ISSUER_PK"
	issuerPKFlagUsage = "Expected issuer public key. Taken from the message when omitted." +
		cmdutil.EnvUsageText + issuerPKEnvKey

	trustFileFlagName  = "trust-file"
	trustFileEnvKey    = "PODCTL_TRUST_FILE"
	trustFileFlagUsage = "YAML trust list of accepted issuers." + cmdutil.EnvUsageText + trustFileEnvKey

	minAgeFlagName  = "min-age"
	minAgeEnvKey    = "PODCTL_MIN_AGE"
	minAgeFlagUsage = "Require a disclosed age of at least this value." + cmdutil.EnvUsageText + minAgeEnvKey

	requireResidencyFlagName  = "require-residency"
	requireResidencyEnvKey    = "PODCTL_REQUIRE_RESIDENCY"
	requireResidencyFlagUsage = "Require this disclosed residency." + cmdutil.EnvUsageText + requireResidencyEnvKey
)

type outcomeOutput struct {
	Accepted     bool                        `json:"accepted"`
	Valid        bool                        `json:"valid"`
	Reason       string                      `json:"reason,omitempty"`
	Root         *commitment.Hash            `json:"root,omitempty"`
	IssuerKey    string                      `json:"issuerKey,omitempty"`
	Trusted      bool                        `json:"trusted"`
	TrustError   string                      `json:"trustError,omitempty"`
	Revealed     map[string]commitment.Value `json:"revealed,omitempty"`
	Requirements map[string]string           `json:"requirements,omitempty"`
}

func newOutcomeOutput(o exchange.Outcome) outcomeOutput {
	out := outcomeOutput{
		Accepted:  o.Accepted(),
		Valid:     o.Valid,
		IssuerKey: o.IssuerKey,
		Trusted:   o.Trusted,
		Revealed:  o.Revealed,
	}

	if o.Reason != nil {
		out.Reason = o.Reason.Error()
	}

	if o.TrustErr != nil {
		out.TrustError = o.TrustErr.Error()
	}

	if o.Valid {
		root := o.Root
		out.Root = &root
	}

	if len(o.Requirements) > 0 {
		out.Requirements = make(map[string]string, len(o.Requirements))

		for req, err := range o.Requirements {
			out.Requirements[req] = "ok"
			if err != nil {
				out.Requirements[req] = err.Error()
			}
		}
	}

	return out
}

var errNotAccepted = errors.New("presentation not accepted")

// printOutcome writes the outcome and fails the command when it was not accepted.
func printOutcome(cmd *cobra.Command, o exchange.Outcome) error {
	if err := writeJSON(cmd.OutOrStdout(), newOutcomeOutput(o)); err != nil {
		return err
	}

	if !o.Accepted() {
		return errNotAccepted
	}

	return nil
}

func getRequirements(cmd *cobra.Command) ([]policy.Requirement, error) {
	var reqs []policy.Requirement

	minAge, err := cmdutil.GetInt(cmd, minAgeFlagName, minAgeEnvKey, -1)
	if err != nil {
		return nil, err
	}

	if minAge >= 0 {
		reqs = append(reqs, policy.AtLeast(credential.FieldAge, int64(minAge)))
	}

	if residency := cmdutil.GetUserSetOptionalVarFromString(cmd, requireResidencyFlagName,
		requireResidencyEnvKey); residency != "" {
		reqs = append(reqs, policy.Equal(credential.FieldResidency, commitment.NewString(residency)))
	}

	return reqs, nil
}

func getTrustList(cmd *cobra.Command) (*policy.TrustList, error) {
	path := cmdutil.GetUserSetOptionalVarFromString(cmd, trustFileFlagName, trustFileEnvKey)
	if path == "" {
		return policy.NewTrustList(policy.TrustWarn), nil
	}

	return policy.LoadTrustList(path)
}

func addPolicyFlags(cmd *cobra.Command) {
	cmd.Flags().String(trustFileFlagName, "", trustFileFlagUsage)
	cmd.Flags().String(minAgeFlagName, "", minAgeFlagUsage)
	cmd.Flags().String(requireResidencyFlagName, "", requireResidencyFlagUsage)
}

// splitPresentation accepts either a POD_PRESENTATION control message or a bare
// presentation and returns the presentation with the key the sender claimed.
func splitPresentation(data []byte) (json.RawMessage, string) {
	var msg types.PodPresentation
	if err := json.Unmarshal(data, &msg); err == nil && msg.Type == types.MessagePodPresentation {
		return msg.Presentation, msg.IssuerPK
	}

	return data, ""
}

// GetVerifyCmd checks a presentation file offline.
func GetVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a saved presentation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := cmdutil.GetUserSetVarFromString(cmd, presentationFlagName, presentationEnvKey, false)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read presentation: %w", err)
			}

			presentation, claimed := splitPresentation(data)

			issuerKey := cmdutil.GetUserSetOptionalVarFromString(cmd, issuerPKFlagName, issuerPKEnvKey)
			if issuerKey == "" {
				issuerKey = claimed
			}

			reqs, err := getRequirements(cmd)
			if err != nil {
				return err
			}

			trust, err := getTrustList(cmd)
			if err != nil {
				return err
			}

			logger := newLogger(cmd)
			defer logger.Sync() //nolint:errcheck

			v := exchange.NewVerifier(nil, exchange.WithTrustList(trust), exchange.WithVerifierLogger(logger))
			outcome := v.VerifyPresentation(presentation, issuerKey, reqs...)

			logger.Debug("verified", zap.Bool("accepted", outcome.Accepted()))

			return printOutcome(cmd, outcome)
		},
	}

	cmd.Flags().String(presentationFlagName, "", presentationFlagUsage)
	cmd.Flags().String(issuerPKFlagName, "", issuerPKFlagUsage)
	addPolicyFlags(cmd)

	return cmd
}
