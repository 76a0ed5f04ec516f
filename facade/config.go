// Package facade implements the Engine Selector & Facade (C6, §4.6): the
// single public entry point callers use, which picks a stateful or
// stateless engine per case per §4.6.1 and translates the uniform
// launch/getState/applyEvent/cancel API onto whichever variant it chose.
package facade

import (
	"os"
	"strconv"
	"time"
)

// Config holds the environment-driven knobs for the selector (§6.5). Zero
// value is not meaningful; use LoadConfig.
type Config struct {
	// EngineDefault is used when a specification declares no executionProfile.
	EngineDefault string // "stateful" | "stateless"
	// StatelessEnabled gates whether the stateless variant counts as
	// available. When false, a case whose executionProfile prefers stateless
	// routes to stateful only if its profile sets fallbackToStateful, and
	// otherwise fails with ServiceUnavailable; an engine-admin override is
	// not affected by it.
	StatelessEnabled bool
	// StatelessMaxDurationHint bounds how long a task's declared timer may
	// run before the selector routes the case to stateful regardless of
	// preference (§4.6.1 "timer longer than a configured threshold").
	StatelessMaxDurationHint time.Duration
	// OverrideAllowed gates whether engine-admin callers may set
	// engineOverride on launchCase.
	OverrideAllowed bool
	// LeaseDefaultTTL is the default work-item lease TTL for tasks that
	// don't declare their own (§4.4.3).
	LeaseDefaultTTL time.Duration
	// CaseDeadlineDefault is the default case-level hard deadline; zero
	// means unlimited (§5 "Timeouts").
	CaseDeadlineDefault time.Duration
}

// LoadConfig reads the §6.5 environment variables, falling back to the
// documented defaults for anything unset or unparsable.
func LoadConfig() Config {
	return Config{
		EngineDefault:            envOr("ENGINE_DEFAULT", "stateful"),
		StatelessEnabled:         envBoolOr("STATELESS_ENABLED", true),
		StatelessMaxDurationHint: envISODurationOr("STATELESS_MAX_DURATION_HINT", 5*time.Minute),
		OverrideAllowed:          envBoolOr("OVERRIDE_ALLOWED", false),
		LeaseDefaultTTL:          envMillisOr("LEASE_DEFAULT_TTL_MS", 30*time.Second),
		CaseDeadlineDefault:      envMillisOr("CASE_DEADLINE_DEFAULT_MS", 0),
	}
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envBoolOr(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envMillisOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return defaultVal
}

// envISODurationOr parses a restricted ISO8601 duration ("PT5M", "PT30S",
// "PT1H") matching the subset spec.MultiInstance/ExecutionProfile use for
// MaxDuration; anything else falls back to defaultVal.
func envISODurationOr(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if d, ok := parseISO8601Duration(v); ok {
		return d
	}
	return defaultVal
}
