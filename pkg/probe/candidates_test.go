package probe

import (
	"encoding/json"
	"strings"
	"testing"
)

// =============================================================================
// Endpoint and Payload Table Tests
// =============================================================================

func TestEndpoints_Order(t *testing.T) {
	want := []string{
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

	if len(Endpoints) != len(want) {
		t.Fatalf("len(Endpoints) = %d, want %d", len(Endpoints), len(want))
	}
	for i, ep := range want {
		if Endpoints[i] != ep {
			t.Errorf("Endpoints[%d] = %s, want %s", i, Endpoints[i], ep)
		}
	}
}

func TestPayloadShapes_Fields(t *testing.T) {
	want := [][]string{
		{"api_key", "tenant_id", "grant_type"},
		{"apiKey", "tenantId", "grantType"},
		{"api_key", "tenant_id"},
		{"key", "tenant", "type"},
		{"client_id", "tenant_id", "grant_type"},
	}

	if len(PayloadShapes) != len(want) {
		t.Fatalf("len(PayloadShapes) = %d, want %d", len(PayloadShapes), len(want))
	}
	for i, fields := range want {
		got := PayloadShapes[i].FieldNames()
		if strings.Join(got, ",") != strings.Join(fields, ",") {
			t.Errorf("PayloadShapes[%d] fields = %v, want %v", i, got, fields)
		}
	}
}

// =============================================================================
// Build Tests
// =============================================================================

func TestPayloadShape_Build(t *testing.T) {
	tests := []struct {
		index int
		want  string
	}{
		{0, `{"api_key":"K","tenant_id":"T","grant_type":"api_key"}`},
		{1, `{"apiKey":"K","tenantId":"T","grantType":"api_key"}`},
		{2, `{"api_key":"K","tenant_id":"T"}`},
		{3, `{"key":"K","tenant":"T","type":"api_key"}`},
		{4, `{"client_id":"K","tenant_id":"T","grant_type":"client_credentials"}`},
	}

	for _, tt := range tests {
		t.Run(PayloadShapes[tt.index].Name, func(t *testing.T) {
			data, err := json.Marshal(PayloadShapes[tt.index].Build("T", "K"))
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("body = %s, want %s", data, tt.want)
			}
		})
	}
}

func TestPayload_Get(t *testing.T) {
	p := PayloadShapes[3].Build("tenant-a", "secret")

	if v, ok := p.Get("tenant"); !ok || v != "tenant-a" {
		t.Errorf("Get(tenant) = %q, %v", v, ok)
	}
	if _, ok := p.Get("tenant_id"); ok {
		t.Error("Get(tenant_id) should not be present")
	}
}

func TestPayload_EscapesValues(t *testing.T) {
	p := PayloadShapes[2].Build(`t"1`, "k\\2")

	var decoded map[string]string
	data, _ := json.Marshal(p)
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("payload is not valid JSON: %v (%s)", err, data)
	}
	if decoded["tenant_id"] != `t"1` {
		t.Errorf("tenant_id = %q", decoded["tenant_id"])
	}
	if decoded["api_key"] != "k\\2" {
		t.Errorf("api_key = %q", decoded["api_key"])
	}
}

func TestPayload_Redacted(t *testing.T) {
	p := PayloadShapes[4].Build("tenant-a", "sk_live_1234567890")

	redacted := p.Redacted()
	if strings.Contains(redacted, "sk_live_1234567890") {
		t.Errorf("Redacted() leaked the key: %s", redacted)
	}
	if !strings.Contains(redacted, `"client_id":"sk_l****7890"`) {
		t.Errorf("Redacted() = %s", redacted)
	}
	if !strings.Contains(redacted, `"tenant_id":"tenant-a"`) {
		t.Errorf("Redacted() should keep the tenant: %s", redacted)
	}
}

// =============================================================================
// MaskSecret Tests
// =============================================================================

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"abc", "****"},
		{"12345678", "****"},
		{"123456789", "1234****6789"},
		{"eyJhbGciOiJIUzI1NiJ9.payload.sig", "eyJh****.sig"},
	}

	for _, tt := range tests {
		if got := MaskSecret(tt.in); got != tt.want {
			t.Errorf("MaskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// =============================================================================
// Combinations Tests
// =============================================================================

func TestCombinations_NestedOrder(t *testing.T) {
	combos := Combinations()

	if len(combos) != 50 {
		t.Fatalf("len(Combinations()) = %d, want 50", len(combos))
	}

	for i, c := range combos {
		if c.Index != i {
			t.Errorf("combos[%d].Index = %d", i, c.Index)
		}
		if c.Endpoint != Endpoints[i/5] {
			t.Errorf("combos[%d].Endpoint = %s, want %s", i, c.Endpoint, Endpoints[i/5])
		}
		if c.PayloadIndex != i%5+1 {
			t.Errorf("combos[%d].PayloadIndex = %d, want %d", i, c.PayloadIndex, i%5+1)
		}
		if c.Shape.Name != PayloadShapes[i%5].Name {
			t.Errorf("combos[%d].Shape = %s", i, c.Shape.Name)
		}
	}
}
