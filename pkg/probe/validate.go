package probe

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/PentesterFlow/authprobe/internal/errors"
	probehttp "github.com/PentesterFlow/authprobe/internal/http"
	"github.com/PentesterFlow/authprobe/internal/logger"
)

// Validation is the outcome of the key validation check.
type Validation struct {
	URL        string
	StatusCode int
	Success    bool
	Valid      bool
	Body       []byte
	Error      *errors.ProbeError
}

// Validator asks the API whether an API key is valid for a tenant.
type Validator struct {
	client *probehttp.Client
	path   string
	logger *logger.Logger
}

// NewValidator creates a Validator. An empty path uses DefaultValidatePath.
func NewValidator(client *probehttp.Client, path string, l *logger.Logger) *Validator {
	if path == "" {
		path = DefaultValidatePath
	}
	if l == nil {
		l = logger.Global().WithComponent("validate")
	}
	return &Validator{
		client: client,
		path:   path,
		logger: l,
	}
}

// Validator returns a Validator sharing the prober's client and settings.
func (p *Prober) Validator() *Validator {
	return NewValidator(p.client, p.config.ValidatePath, p.logger.WithComponent("validate"))
}

// Validate posts the key to the validation endpoint. Only an unusable base URL
// is returned as an error; request and decode failures are set on the result.
func (v *Validator) Validate(ctx context.Context, baseURL, tenantID, apiKey string) (*Validation, error) {
	if _, err := ParseBaseURL(baseURL); err != nil {
		return nil, err
	}

	target := JoinURL(baseURL, v.path)
	body := map[string]string{
		"api_key":   apiKey,
		"tenant_id": tenantID,
	}
	resp := v.client.PostJSON(ctx, target, body, map[string]string{
		"X-API-Key":   apiKey,
		"X-Tenant-ID": tenantID,
	})

	result := &Validation{
		URL:        target,
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
	}

	if resp.Error != nil {
		result.StatusCode = 0
		result.Body = nil
		result.Error = resp.Error
		v.logger.ErrorEvent(resp.Error, target, "validate")
		return result, nil
	}

	result.Success, result.Valid = parseHealthCheck(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result.Valid = false
		result.Error = errors.CategorizeHTTPStatus(resp.StatusCode, target)
	}

	v.logger.Event(logger.InfoLevel).
		Str("url", target).
		Int("status", result.StatusCode).
		Bool("success", result.Success).
		Bool("valid", result.Valid).
		Msg("Key validation")

	return result, nil
}

// parseHealthCheck reads {"success": bool, "data": {"valid": bool}}. Missing
// or mistyped fields read as false. valid is only reported when success is
// true.
func parseHealthCheck(body []byte) (success, valid bool) {
	var decoded interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return false, false
	}

	obj, ok := decoded.(map[string]interface{})
	if !ok {
		return false, false
	}

	success, _ = obj["success"].(bool)

	data, ok := obj["data"].(map[string]interface{})
	if !ok {
		return success, false
	}
	v, _ := data["valid"].(bool)

	return success, success && v
}

// String returns a one-line description of the validation result.
func (v *Validation) String() string {
	if v.StatusCode == 0 {
		msg := "no response"
		if v.Error != nil {
			msg = v.Error.Error()
		}
		return fmt.Sprintf("%s: transport error: %s", v.URL, msg)
	}
	return fmt.Sprintf("%s: status=%d success=%t valid=%t", v.URL, v.StatusCode, v.Success, v.Valid)
}
