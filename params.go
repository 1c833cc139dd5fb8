package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/berkmancenter/podpair/internal/cmdutil"
)

const (
	hostURLFlagName      = "host-url"
	hostURLFlagShorthand = "u"
	hostURLEnvKey        = "PODPAIR_HOST_URL"
	hostURLFlagUsage     = "Address to listen on. Format: HostName:Port (default :8080)." +
		cmdutil.EnvUsageText + hostURLEnvKey

	issuerKeyFlagName  = "issuer-key"
	issuerKeyEnvKey    = "PODPAIR_ISSUER_KEY" //nolint:gosec
	issuerKeyFlagUsage = "Issuer signing key seed, base64url without padding (see podctl keygen)." +
		" Without it the server only relays." + cmdutil.EnvUsageText + issuerKeyEnvKey

	operatorKeyFlagName  = "operator-key-file"
	operatorKeyEnvKey    = "PODPAIR_OPERATOR_KEY_FILE" //nolint:gosec
	operatorKeyFlagUsage = "PEM file with the ES256 public key that verifies operator tokens." +
		" Required with --" + issuerKeyFlagName + "." + cmdutil.EnvUsageText + operatorKeyEnvKey

	pairTTLFlagName  = "pair-ttl"
	pairTTLEnvKey    = "PODPAIR_PAIR_TTL"
	pairTTLFlagUsage = "How long a party waits for its peer, e.g. 2m." + cmdutil.EnvUsageText + pairTTLEnvKey

	maxWaitingFlagName  = "max-waiting"
	maxWaitingEnvKey    = "PODPAIR_MAX_WAITING"
	maxWaitingFlagUsage = "Maximum number of parties waiting at once." + cmdutil.EnvUsageText + maxWaitingEnvKey

	originsFlagName  = "allowed-origins"
	originsEnvKey    = "PODPAIR_ALLOWED_ORIGINS"
	originsFlagUsage = "Comma-separated websocket origin patterns (default *)." + cmdutil.EnvUsageText + originsEnvKey

	rdapFlagName  = "rdap-lookup"
	rdapEnvKey    = "PODPAIR_RDAP_LOOKUP"
	rdapFlagUsage = "Log the organization of connecting peers via RDAP. Possible values: true, false." +
		cmdutil.EnvUsageText + rdapEnvKey

	logLevelFlagName  = "log-level"
	logLevelEnvKey    = "PODPAIR_LOG_LEVEL"
	logLevelFlagUsage = "Logging level: debug, info, warn, error (default info)." + cmdutil.EnvUsageText + logLevelEnvKey

	defaultHostURL = ":8080"
)

type serverParameters struct {
	hostURL         string
	issuerKey       string
	operatorKeyFile string
	pairTTL         time.Duration
	maxWaiting      int
	origins         []string
	rdapLookup      bool
	logLevel        string
}

func getServerParameters(cmd *cobra.Command) (*serverParameters, error) {
	hostURL, err := cmdutil.GetUserSetVarFromString(cmd, hostURLFlagName, hostURLEnvKey, true)
	if err != nil {
		return nil, err
	}

	if hostURL == "" {
		hostURL = defaultHostURL
	}

	issuerKey, err := cmdutil.GetUserSetVarFromString(cmd, issuerKeyFlagName, issuerKeyEnvKey, true)
	if err != nil {
		return nil, err
	}

	operatorKeyFile, err := cmdutil.GetUserSetVarFromString(cmd, operatorKeyFlagName, operatorKeyEnvKey,
		issuerKey == "")
	if err != nil {
		return nil, err
	}

	pairTTL, err := cmdutil.GetDuration(cmd, pairTTLFlagName, pairTTLEnvKey, 0)
	if err != nil {
		return nil, err
	}

	maxWaiting, err := cmdutil.GetInt(cmd, maxWaitingFlagName, maxWaitingEnvKey, 0)
	if err != nil {
		return nil, err
	}

	origins, err := cmdutil.GetList(cmd, originsFlagName, originsEnvKey)
	if err != nil {
		return nil, err
	}

	rdapLookup, err := cmdutil.GetBool(cmd, rdapFlagName, rdapEnvKey, false)
	if err != nil {
		return nil, err
	}

	return &serverParameters{
		hostURL:         hostURL,
		issuerKey:       issuerKey,
		operatorKeyFile: operatorKeyFile,
		pairTTL:         pairTTL,
		maxWaiting:      maxWaiting,
		origins:         origins,
		rdapLookup:      rdapLookup,
		logLevel:        cmdutil.GetUserSetOptionalVarFromString(cmd, logLevelFlagName, logLevelEnvKey),
	}, nil
}

func createFlags(cmd *cobra.Command) {
	cmd.Flags().StringP(hostURLFlagName, hostURLFlagShorthand, "", hostURLFlagUsage)
	cmd.Flags().String(issuerKeyFlagName, "", issuerKeyFlagUsage)
	cmd.Flags().String(operatorKeyFlagName, "", operatorKeyFlagUsage)
	cmd.Flags().String(pairTTLFlagName, "", pairTTLFlagUsage)
	cmd.Flags().String(maxWaitingFlagName, "", maxWaitingFlagUsage)
	cmd.Flags().String(originsFlagName, "", originsFlagUsage)
	cmd.Flags().String(rdapFlagName, "", rdapFlagUsage)
	cmd.Flags().String(logLevelFlagName, "", logLevelFlagUsage)
}
