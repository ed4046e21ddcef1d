package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateBackendURL_ValidHTTPS(t *testing.T) {
	_, err := ValidateBackendURL("https://api.openai.com/v1", Production())
	assert.NoError(t, err)
}

func TestValidateBackendURL_HTTPBlockedByDefault(t *testing.T) {
	_, err := ValidateBackendURL("http://api.example.com", Production())
	assert.Error(t, err)
}

func TestValidateBackendURL_HTTPAllowedWhenConfigured(t *testing.T) {
	cfg := Production()
	cfg.AllowHTTP = true
	_, err := ValidateBackendURL("http://api.example.com", cfg)
	assert.NoError(t, err)
}

func TestValidateBackendURL_LocalhostBlocked(t *testing.T) {
	_, err := ValidateBackendURL("https://localhost:8080", Production())
	assert.Error(t, err)
}

func TestValidateBackendURL_LoopbackIPBlocked(t *testing.T) {
	_, err := ValidateBackendURL("https://127.0.0.1:8080", Production())
	assert.Error(t, err)
}

func TestValidateBackendURL_MetadataEndpointBlocked(t *testing.T) {
	cfg := Production()
	cfg.AllowHTTP = true
	_, err := ValidateBackendURL("http://169.254.169.254/latest/meta-data/", cfg)
	assert.Error(t, err)
}

func TestValidateBackendURL_PrivateIPBlocked(t *testing.T) {
	for _, host := range []string{"10.0.0.1", "192.168.1.1", "172.16.0.1"} {
		_, err := ValidateBackendURL("https://"+host+":8080", Production())
		assert.Error(t, err, host)
	}
}

func TestValidateBackendURL_CarrierGradeNATBlocked(t *testing.T) {
	_, err := ValidateBackendURL("https://100.64.0.1", Production())
	assert.Error(t, err)
}

func TestValidateBackendURL_Allowlist(t *testing.T) {
	cfg := Production().WithAllowlist([]string{"api.openai.com", "api.anthropic.com"})

	_, err := ValidateBackendURL("https://api.openai.com/v1", cfg)
	assert.NoError(t, err)

	_, err = ValidateBackendURL("https://east.api.openai.com/v1", cfg)
	assert.NoError(t, err, "subdomain of allowed domain")

	_, err = ValidateBackendURL("https://api.example.com/v1", cfg)
	assert.Error(t, err)
}

func TestValidateBackendURL_DevelopmentAllowsLocalhost(t *testing.T) {
	_, err := ValidateBackendURL("http://localhost:8080", Development())
	assert.NoError(t, err)
}

func TestValidateBackendURL_MetadataHostBlockedEvenInDevelopment(t *testing.T) {
	_, err := ValidateBackendURL("http://metadata.google.internal/computeMetadata/v1/", Development())
	assert.Error(t, err)

	_, err = ValidateBackendURL("http://169.254.169.254/latest/meta-data/", Development())
	assert.Error(t, err)
}

func TestValidateBackendURL_MissingHost(t *testing.T) {
	_, err := ValidateBackendURL("https:///path", Production())
	assert.Error(t, err)
}

func TestValidateBackendURL_IPv6ULABlocked(t *testing.T) {
	_, err := ValidateBackendURL("https://[fc00::1]", Production())
	assert.Error(t, err)
}

func TestValidateBackendURL_IPv6LinkLocalBlocked(t *testing.T) {
	_, err := ValidateBackendURL("https://[fe80::1]", Production())
	assert.Error(t, err)
}
