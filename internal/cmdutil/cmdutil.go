// Package cmdutil reads command settings from a cobra flag, falling back to an
// environment variable.
package cmdutil

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// EnvUsageText is appended to flag usage strings that have an environment
// fallback.
const EnvUsageText = " Alternatively, this can be set with the following environment variable: "

// GetUserSetVarFromString returns the flag value when the flag was set,
// otherwise the environment variable. A value that is set but empty is an
// error either way.
func GetUserSetVarFromString(cmd *cobra.Command, flagName, envKey string, isOptional bool) (string, error) {
	if cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetString(flagName)
		if err != nil {
			return "", fmt.Errorf("%s flag not found: %w", flagName, err)
		}

		if value == "" {
			return "", fmt.Errorf("%s value is empty", flagName)
		}

		return value, nil
	}

	value, isSet := os.LookupEnv(envKey)

	if isOptional || isSet {
		if isSet && value == "" {
			return "", fmt.Errorf("%s value is empty", envKey)
		}

		return value, nil
	}

	return "", fmt.Errorf("neither %s (command line flag) nor %s (environment variable) have been set",
		flagName, envKey)
}

// GetUserSetOptionalVarFromString is GetUserSetVarFromString for optional
// settings, with empty values treated as unset.
func GetUserSetOptionalVarFromString(cmd *cobra.Command, flagName, envKey string) string {
	//nolint:errcheck
	value, _ := GetUserSetVarFromString(cmd, flagName, envKey, true)

	return value
}

func GetDuration(cmd *cobra.Command, flagName, envKey string, defaultDuration time.Duration) (time.Duration, error) {
	s, err := GetUserSetVarFromString(cmd, flagName, envKey, true)
	if err != nil {
		return -1, err
	}

	if s == "" {
		return defaultDuration, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return -1, fmt.Errorf("invalid value [%s]: %w", s, err)
	}

	return d, nil
}

func GetBool(cmd *cobra.Command, flagName, envKey string, defaultValue bool) (bool, error) {
	s, err := GetUserSetVarFromString(cmd, flagName, envKey, true)
	if err != nil {
		return false, err
	}

	if s == "" {
		return defaultValue, nil
	}

	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s [%s]: %w", flagName, s, err)
	}

	return b, nil
}

func GetInt(cmd *cobra.Command, flagName, envKey string, defaultValue int) (int, error) {
	s, err := GetUserSetVarFromString(cmd, flagName, envKey, true)
	if err != nil {
		return 0, err
	}

	if s == "" {
		return defaultValue, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s [%s]: %w", flagName, s, err)
	}

	return n, nil
}

// GetList splits a comma-separated setting, dropping blank items.
func GetList(cmd *cobra.Command, flagName, envKey string) ([]string, error) {
	s, err := GetUserSetVarFromString(cmd, flagName, envKey, true)
	if err != nil {
		return nil, err
	}

	var out []string

	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}

	return out, nil
}
