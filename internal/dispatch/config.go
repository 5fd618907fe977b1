package dispatch

import (
	"os"
	"strconv"
	"strings"
)

// Config controls routing policy. It is passed to NewGate and never read from
// package state afterwards.
type Config struct {
	// ForceReference sends every call to the reference backend.
	ForceReference bool
	// AllowFallback permits executing a Fallback decision. When false, callers
	// must report ErrFallbackNotAllowed instead of running the reference backend.
	AllowFallback bool
	// AcceleratorAvailable gates operations that take no primary array
	// (sampling), which cannot prove residency through their arguments.
	AcceleratorAvailable bool
	// DisabledOps lists operations whose accelerated path is switched off.
	DisabledOps map[string]bool
}

// DefaultConfig returns the default policy: fallback allowed, and the
// multi-dimensional transforms served only by the reference backend.
func DefaultConfig() Config {
	return Config{
		AllowFallback:        true,
		AcceleratorAvailable: true,
		DisabledOps: map[string]bool{
			OpFFT2: true,
			OpFFTN: true,
		},
	}
}

// ConfigFromEnv starts from DefaultConfig and applies:
//
//	NDGATE_ORIGIN=1            force the reference backend
//	NDGATE_ALLOW_FALLBACK=0    refuse fallback
//	NDGATE_ACCELERATOR=0       no accelerator for primary-less operations
//	NDGATE_ENABLE_OPS=fft2,... enable accelerated paths disabled by default
//	NDGATE_DISABLE_OPS=fft,... disable accelerated paths
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v, ok := envBool("NDGATE_ORIGIN"); ok {
		cfg.ForceReference = v
	}
	if v, ok := envBool("NDGATE_ALLOW_FALLBACK"); ok {
		cfg.AllowFallback = v
	}
	if v, ok := envBool("NDGATE_ACCELERATOR"); ok {
		cfg.AcceleratorAvailable = v
	}
	for _, op := range envList("NDGATE_ENABLE_OPS") {
		delete(cfg.DisabledOps, op)
	}
	for _, op := range envList("NDGATE_DISABLE_OPS") {
		cfg.DisabledOps[op] = true
	}
	return cfg
}

// Clone returns a deep copy of the config.
func (c Config) Clone() Config {
	c2 := c
	c2.DisabledOps = make(map[string]bool, len(c.DisabledOps))
	for k, v := range c.DisabledOps {
		c2.DisabledOps[k] = v
	}
	return c2
}

func (c Config) disabled(op string) bool {
	return c.DisabledOps[op]
}

func envBool(key string) (bool, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, false
	}
	return v, true
}

func envList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}
