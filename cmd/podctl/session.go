package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/berkmancenter/podpair/exchange"
	"github.com/berkmancenter/podpair/internal/cmdutil"
	"github.com/berkmancenter/podpair/transport"
)

const (
	codeFlagName  = "code"
	codeEnvKey    = "PODCTL_CODE"
	codeFlagUsage = "Join code shared between holder and verifier." + cmdutil.EnvUsageText + codeEnvKey

	fieldsFlagName  = "fields"
	fieldsEnvKey    = "PODCTL_FIELDS"
	fieldsFlagUsage = "Comma-separated attributes to request. Empty asks for the holder's defaults." +
		cmdutil.EnvUsageText + fieldsEnvKey

	allowFlagName  = "allow"
	allowEnvKey    = "PODCTL_ALLOW"
	allowFlagUsage = "Comma-separated attributes the holder agrees to reveal. Empty allows any request." +
		cmdutil.EnvUsageText + allowEnvKey

	timeoutFlagName  = "timeout"
	timeoutEnvKey    = "PODCTL_TIMEOUT"
	timeoutFlagUsage = "Give up after this long (default 5m)." + cmdutil.EnvUsageText + timeoutEnvKey

	insecureFlagName  = "insecure"
	insecureEnvKey    = "PODCTL_INSECURE"
	insecureFlagUsage = "Skip frame encryption on top of the relay connection. Possible values: true, false." +
		cmdutil.EnvUsageText + insecureEnvKey

	defaultSessionTimeout = 5 * time.Minute
)

type sessionParameters struct {
	relayURL string
	code     string
	dialOpts []transport.DialOpt
	ctx      context.Context
	cancel   context.CancelFunc
}

func getSessionParameters(cmd *cobra.Command, logger *zap.Logger, requireCode bool) (*sessionParameters, error) {
	relayURL, err := cmdutil.GetUserSetVarFromString(cmd, relayURLFlagName, relayURLEnvKey, false)
	if err != nil {
		return nil, err
	}

	code, err := cmdutil.GetUserSetVarFromString(cmd, codeFlagName, codeEnvKey, !requireCode)
	if err != nil {
		return nil, err
	}

	if code == "" {
		code, err = transport.NewJoinCode()
		if err != nil {
			return nil, err
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "join code: %s\n", code)
	}

	if !transport.ValidJoinCode(code) {
		return nil, fmt.Errorf("invalid join code %q", code)
	}

	timeout, err := cmdutil.GetDuration(cmd, timeoutFlagName, timeoutEnvKey, defaultSessionTimeout)
	if err != nil {
		return nil, err
	}

	insecure, err := cmdutil.GetBool(cmd, insecureFlagName, insecureEnvKey, false)
	if err != nil {
		return nil, err
	}

	opts := []transport.DialOpt{transport.WithDialLogger(logger)}
	if insecure {
		opts = append(opts, transport.WithoutEncryption())
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)

	return &sessionParameters{relayURL: relayURL, code: code, dialOpts: opts, ctx: ctx, cancel: cancel}, nil
}

func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().String(relayURLFlagName, "", relayURLFlagUsage)
	cmd.Flags().String(codeFlagName, "", codeFlagUsage)
	cmd.Flags().String(timeoutFlagName, "", timeoutFlagUsage)
	cmd.Flags().String(insecureFlagName, "", insecureFlagUsage)
}

// GetRequestCmd runs the verifier side: pair, request fields, verify the answer.
func GetRequestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Request a presentation from a holder over the relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(cmd)
			defer logger.Sync() //nolint:errcheck

			params, err := getSessionParameters(cmd, logger, false)
			if err != nil {
				return err
			}
			defer params.cancel()

			fields, err := cmdutil.GetList(cmd, fieldsFlagName, fieldsEnvKey)
			if err != nil {
				return err
			}

			reqs, err := getRequirements(cmd)
			if err != nil {
				return err
			}

			trust, err := getTrustList(cmd)
			if err != nil {
				return err
			}

			t, _, err := transport.Connect(params.ctx, params.relayURL, params.code, params.dialOpts...)
			if err != nil {
				return err
			}
			defer t.Close() //nolint:errcheck

			v := exchange.NewVerifier(nil, exchange.WithTrustList(trust), exchange.WithVerifierLogger(logger))

			outcome, err := v.RequestPresentation(params.ctx, t, fields, reqs...)
			if err != nil {
				return err
			}

			return printOutcome(cmd, outcome)
		},
	}

	addSessionFlags(cmd)
	addPolicyFlags(cmd)
	cmd.Flags().String(fieldsFlagName, "", fieldsFlagUsage)

	return cmd
}

// allowOnly is a consent policy revealing the requested fields found in allowed.
func allowOnly(allowed []string) func([]string) []string {
	return func(requested []string) []string {
		return slices.DeleteFunc(slices.Clone(requested), func(name string) bool {
			return !slices.Contains(allowed, name)
		})
	}
}

// GetPresentCmd runs the holder side until the verifier disconnects.
func GetPresentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "present",
		Short: "Answer a verifier's requests with a credential",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(cmd)
			defer logger.Sync() //nolint:errcheck

			record, err := loadBundle(cmd)
			if err != nil {
				return err
			}

			params, err := getSessionParameters(cmd, logger, true)
			if err != nil {
				return err
			}
			defer params.cancel()

			allowed, err := cmdutil.GetList(cmd, allowFlagName, allowEnvKey)
			if err != nil {
				return err
			}

			opts := []exchange.HolderOption{exchange.WithHolderLogger(logger)}
			if len(allowed) > 0 {
				opts = append(opts, exchange.WithConsent(allowOnly(allowed)))
			}

			t, _, err := transport.Connect(params.ctx, params.relayURL, params.code, params.dialOpts...)
			if err != nil {
				return err
			}
			defer t.Close() //nolint:errcheck

			// No secure computation engine ships with podctl; private check
			// requests are declined back to the verifier.
			h := exchange.NewHolder(record, record.SignerPublicKey(), nil, opts...)

			err = h.Serve(params.ctx, t)

			var terr *transport.TransportError
			if errors.As(err, &terr) {
				logger.Info("verifier left", zap.Error(err))
				return nil
			}

			return err
		},
	}

	addSessionFlags(cmd)
	cmd.Flags().String(credentialFlagName, "", credentialFlagUsage)
	cmd.Flags().String(allowFlagName, "", allowFlagUsage)

	return cmd
}
