package probe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/PentesterFlow/authprobe/internal/errors"
)

// TokenKeys are the top-level response fields that may hold a token, in
// lookup priority.
var TokenKeys = []string{"access_token", "accessToken", "token"}

// TenantKeys are the payload fields that may identify the tenant, in lookup
// priority. The first present one becomes the X-Tenant-ID header.
var TenantKeys = []string{"tenant_id", "tenantId", "tenant"}

// TenantHeader returns the X-Tenant-ID value for a payload.
func TenantHeader(p Payload) string {
	for _, key := range TenantKeys {
		if v, ok := p.Get(key); ok {
			return v
		}
	}
	return ""
}

// ExtractToken decodes a response body and looks for a token field. It
// returns the token and the key it was found under. A body that is not a JSON
// object yields a decode error; an object without a token field yields empty
// strings and no error.
func ExtractToken(body []byte) (token, key string, err error) {
	decoded, err := decodeJSON(body)
	if err != nil {
		return "", "", err
	}

	obj, ok := decoded.(map[string]interface{})
	if !ok {
		return "", "", fmt.Errorf("response is %T, not an object", decoded)
	}

	for _, k := range TokenKeys {
		v, present := obj[k]
		if !present || v == nil {
			continue
		}
		s := tokenString(v)
		if s == "" {
			continue
		}
		return s, k, nil
	}
	return "", "", nil
}

// decodeJSON decodes a whole body, keeping numbers as their literal text.
func decodeJSON(body []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var decoded interface{}
	if err := dec.Decode(&decoded); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after JSON value")
	}
	return decoded, nil
}

func tokenString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]interface{}, []interface{}:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// Classify sets Outcome, Success, Token, TokenKey and Error on r from its
// status code and body. transportErr is the error from sending the request,
// if any.
func Classify(r *Result, transportErr *errors.ProbeError) {
	if transportErr != nil || r.StatusCode == 0 {
		r.StatusCode = 0
		r.Body = nil
		r.Outcome = OutcomeTransportError
		r.Error = transportErr
		if r.Error == nil {
			r.Error = errors.NewTransportError(r.URL, "request", nil)
		}
		return
	}

	if r.StatusCode >= 200 && r.StatusCode < 300 {
		token, key, err := ExtractToken(r.Body)
		if err != nil {
			r.Outcome = OutcomePartial
			r.Error = errors.NewDecodeError(r.URL, r.StatusCode, err)
			if r.Truncated {
				r.Error.Message = "response body exceeds the size limit and was truncated"
			}
			return
		}
		if token == "" {
			r.Outcome = OutcomePartial
			return
		}
		r.Outcome = OutcomeSuccess
		r.Success = true
		r.Token = token
		r.TokenKey = key
		return
	}

	r.Error = errors.CategorizeHTTPStatus(r.StatusCode, r.URL)
	switch r.StatusCode {
	case 404:
		r.Outcome = OutcomeNotFound
	case 401:
		r.Outcome = OutcomeUnauthorized
	case 422:
		r.Outcome = OutcomeValidationError
	default:
		r.Outcome = OutcomeFailure
	}
}
