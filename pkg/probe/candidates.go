package probe

import (
	"bytes"
	"encoding/json"
)

// Endpoints is the ordered list of authentication paths tried, relative to
// the base URL. The order is part of the report contract.
var Endpoints = [...]string{
	"auth/api-key/token",
	"auth/token",
	"api-keys/authenticate",
	"auth/api-key",
	"oauth/token",
	"auth/authenticate",
	"token",
	"api/auth/token",
	"v1/auth/token",
	"authenticate",
}

// ValueSource says where a payload field gets its value.
type ValueSource int

const (
	// Literal fields carry a fixed value.
	Literal ValueSource = iota
	// FromAPIKey fields carry the caller's API key.
	FromAPIKey
	// FromTenant fields carry the caller's tenant id.
	FromTenant
)

// FieldSpec describes one field of a payload shape.
type FieldSpec struct {
	Name   string
	Source ValueSource
	Value  string // used when Source is Literal
}

// PayloadShape is one guess at the request body the provider expects.
type PayloadShape struct {
	Name   string
	Fields []FieldSpec
}

// PayloadShapes is the ordered list of request bodies tried per endpoint.
var PayloadShapes = [...]PayloadShape{
	{
		Name: "snake_case with grant_type",
		Fields: []FieldSpec{
			{Name: "api_key", Source: FromAPIKey},
			{Name: "tenant_id", Source: FromTenant},
			{Name: "grant_type", Value: "api_key"},
		},
	},
	{
		Name: "camelCase with grantType",
		Fields: []FieldSpec{
			{Name: "apiKey", Source: FromAPIKey},
			{Name: "tenantId", Source: FromTenant},
			{Name: "grantType", Value: "api_key"},
		},
	},
	{
		Name: "snake_case bare",
		Fields: []FieldSpec{
			{Name: "api_key", Source: FromAPIKey},
			{Name: "tenant_id", Source: FromTenant},
		},
	},
	{
		Name: "key/tenant with type",
		Fields: []FieldSpec{
			{Name: "key", Source: FromAPIKey},
			{Name: "tenant", Source: FromTenant},
			{Name: "type", Value: "api_key"},
		},
	},
	{
		Name: "client credentials",
		Fields: []FieldSpec{
			{Name: "client_id", Source: FromAPIKey},
			{Name: "tenant_id", Source: FromTenant},
			{Name: "grant_type", Value: "client_credentials"},
		},
	},
}

// Field is a single name/value pair of a concrete payload.
type Field struct {
	Name   string
	Value  string
	Secret bool
}

// Payload is a request body with fields kept in declaration order.
type Payload []Field

// Build fills the shape with the caller's credentials.
func (s PayloadShape) Build(tenantID, apiKey string) Payload {
	payload := make(Payload, 0, len(s.Fields))
	for _, f := range s.Fields {
		field := Field{Name: f.Name}
		switch f.Source {
		case FromAPIKey:
			field.Value = apiKey
			field.Secret = true
		case FromTenant:
			field.Value = tenantID
		default:
			field.Value = f.Value
		}
		payload = append(payload, field)
	}
	return payload
}

// FieldNames returns the payload's field names in order.
func (s PayloadShape) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Get returns the value of the named field.
func (p Payload) Get(name string) (string, bool) {
	for _, f := range p {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// MarshalJSON encodes the payload as a JSON object in field order.
func (p Payload) MarshalJSON() ([]byte, error) {
	return p.encode(false)
}

// Redacted returns the payload as JSON with secret values masked.
func (p Payload) Redacted() string {
	data, err := p.encode(true)
	if err != nil {
		return ""
	}
	return string(data)
}

func (p Payload) encode(redact bool) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		value := f.Value
		if redact && f.Secret {
			value = MaskSecret(value)
		}
		val, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MaskSecret keeps the first and last four characters of long secrets and
// masks everything else.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// Combination is one (endpoint, payload shape) pair in probe order.
type Combination struct {
	Index        int
	Endpoint     string
	PayloadIndex int
	Shape        PayloadShape
}

// Combinations returns every endpoint/payload pair, endpoints outermost.
func Combinations() []Combination {
	combos := make([]Combination, 0, len(Endpoints)*len(PayloadShapes))
	for _, endpoint := range Endpoints {
		for j, shape := range PayloadShapes {
			combos = append(combos, Combination{
				Index:        len(combos),
				Endpoint:     endpoint,
				PayloadIndex: j + 1,
				Shape:        shape,
			})
		}
	}
	return combos
}
