// Package config holds the per-tenant settings a scheduler run operates
// under. The mapping is loaded once from the config store at run start
// and never mutated afterwards.
package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Keys the integration requires. Values are maintained in the tenant's
// config store and surface here verbatim.
const (
	KeySAMLEndpoint        = "SAML_Endpoint"
	KeySAMLPrivateKey      = "SAML_PrivateKey"
	KeySAMLUserID          = "SAML_UserId"
	KeyTokenEndpoint       = "Token_Endpoint"
	KeyTokenGrantType      = "Token_GrantType"
	KeyTokenFieldName      = "token_key_name"
	KeyClientID            = "ClientId"
	KeyCompanyID           = "CompanyId"
	KeyUserEndpointBase    = "User_EndpointBase"
	KeyTerminationEndpoint = "EmpTermination_Endpoint"
	KeyTerminationURI      = "EmpTermination_uri"
)

// Optional tuning keys.
const (
	// KeyCallsPerSecond caps the outbound request rate; absent or
	// unparsable means unlimited.
	KeyCallsPerSecond = "CallsPerSecond"
)

// Keys consumed by the notification dispatcher.
const (
	KeyEmailFrom        = "EmailFrom"
	KeySMTPHost         = "SmtpHost"
	KeySMTPPort         = "SmtpPort"
	KeyEmailSubject     = "EmailSubjectTemplate"
	KeyEmailTemplate    = "EmailTemplate"
	KeyNotifyToIT       = "NotificationToIT"
	KeyNotifyCcIT       = "NotificationCcIT"
	KeyNotifyToHR       = "NotificationToHR"
	KeyNotifyCcHR       = "NotificationCcHR"
)

// RequiredAPIKeys must all be present before any record is processed; a
// missing key aborts the run before the first remote call.
var RequiredAPIKeys = []string{
	KeySAMLEndpoint,
	KeySAMLPrivateKey,
	KeySAMLUserID,
	KeyTokenEndpoint,
	KeyTokenGrantType,
	KeyTokenFieldName,
	KeyClientID,
	KeyCompanyID,
	KeyUserEndpointBase,
	KeyTerminationEndpoint,
	KeyTerminationURI,
}

// FatalError reports a configuration problem that prevents the run from
// starting at all.
type FatalError struct {
	Tenant  string
	Missing []string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("config: tenant %q is missing required keys: %s",
		e.Tenant, strings.Join(e.Missing, ", "))
}

// Config is an immutable snapshot of one tenant's settings.
type Config struct {
	tenant string
	values map[string]string
}

// New copies the supplied mapping so later mutation of the source map
// cannot leak into a running batch.
func New(tenant string, values map[string]string) Config {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return Config{tenant: tenant, values: copied}
}

func (c Config) Tenant() string { return c.tenant }

// Get returns the raw value for key, or "" when absent.
func (c Config) Get(key string) string { return c.values[key] }

// GetInt parses the value for key, returning def when absent or invalid.
func (c Config) GetInt(key string, def int) int {
	raw := strings.TrimSpace(c.values[key])
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// Validate checks that every key in required has a non-blank value.
func (c Config) Validate(required []string) error {
	var missing []string
	for _, key := range required {
		if strings.TrimSpace(c.values[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return &FatalError{Tenant: c.tenant, Missing: missing}
	}
	return nil
}
