package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateMissingKeys(t *testing.T) {
	cfg := New("atos", map[string]string{
		KeySAMLEndpoint: "https://saml.example.com",
		KeyClientID:     "client-1",
		KeyCompanyID:    "  ", // blank counts as missing
	})

	err := cfg.Validate(RequiredAPIKeys)
	if err == nil {
		t.Fatalf("expected validation failure")
	}
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected *FatalError, got %T", err)
	}
	if fatal.Tenant != "atos" {
		t.Fatalf("unexpected tenant: %s", fatal.Tenant)
	}
	for _, key := range []string{KeyCompanyID, KeyTokenEndpoint, KeyTerminationURI} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in error, got: %v", key, err)
		}
	}
	if strings.Contains(err.Error(), KeySAMLEndpoint) {
		t.Fatalf("present key reported missing: %v", err)
	}
}

func TestValidateComplete(t *testing.T) {
	values := map[string]string{}
	for _, key := range RequiredAPIKeys {
		values[key] = "value"
	}
	if err := New("eviden", values).Validate(RequiredAPIKeys); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestGetInt(t *testing.T) {
	cfg := New("atos", map[string]string{
		KeySMTPPort:       "587",
		KeyCallsPerSecond: "not-a-number",
	})
	if got := cfg.GetInt(KeySMTPPort, 25); got != 587 {
		t.Fatalf("GetInt parsed = %d, want 587", got)
	}
	if got := cfg.GetInt(KeyCallsPerSecond, 0); got != 0 {
		t.Fatalf("GetInt invalid = %d, want default 0", got)
	}
	if got := cfg.GetInt("Absent", 25); got != 25 {
		t.Fatalf("GetInt absent = %d, want default 25", got)
	}
}

func TestNewCopiesValues(t *testing.T) {
	source := map[string]string{KeyClientID: "original"}
	cfg := New("atos", source)
	source[KeyClientID] = "mutated"
	if got := cfg.Get(KeyClientID); got != "original" {
		t.Fatalf("config leaked source mutation: %s", got)
	}
}
