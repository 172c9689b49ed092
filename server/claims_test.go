package server

import (
	"encoding/json"
	"testing"
)

func TestParseClaimConstraint(t *testing.T) {
	tests := []struct {
		name          string
		raw           string
		wantEssential bool
		wantFixed     []any
		wantErr       bool
	}{
		{"null constraint", `null`, false, nil, false},
		{"empty object", `{}`, false, nil, false},
		{"essential true", `{"essential": true}`, true, nil, false},
		{"essential false", `{"essential": false}`, false, nil, false},
		{"single value", `{"value": "admin"}`, false, []any{"admin"}, false},
		{"value set", `{"values": ["a", "b"]}`, false, []any{"a", "b"}, false},
		{"essential not boolean", `{"essential": "yes"}`, false, nil, true},
		{"values not array", `{"values": "a"}`, false, nil, true},
		{"unknown shape", `{"bogus": 1}`, false, nil, true},
		{"scalar", `42`, false, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c ClaimConstraint
			err := json.Unmarshal([]byte(tt.raw), &c)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal(%s) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if c.Essential() != tt.wantEssential {
				t.Errorf("Essential() = %v, want %v", c.Essential(), tt.wantEssential)
			}
			fixed := c.FixedValues()
			if len(fixed) != len(tt.wantFixed) {
				t.Fatalf("FixedValues() = %v, want %v", fixed, tt.wantFixed)
			}
			for i := range fixed {
				if fixed[i] != tt.wantFixed[i] {
					t.Errorf("FixedValues()[%d] = %v, want %v", i, fixed[i], tt.wantFixed[i])
				}
			}
		})
	}
}

func TestClaimConstraint_Match(t *testing.T) {
	tests := []struct {
		name       string
		constraint ClaimConstraint
		value      any
		want       bool
	}{
		{"any matches everything", AnyClaim(), "whatever", true},
		{"essential matches everything", EssentialClaim(true), "whatever", true},
		{"one-of match", OneOfClaim("a", "b"), "b", true},
		{"one-of mismatch", OneOfClaim("a", "b"), "c", false},
		{"one-of numeric match", OneOfClaim(float64(1)), float64(1), true},
		{"one-of empty set matches nothing", OneOfClaim(), "a", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.constraint.Match(tt.value); got != tt.want {
				t.Errorf("Match(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestClaimConstraint_MarshalRoundTrip(t *testing.T) {
	constraints := map[string]ClaimConstraint{
		"any":       AnyClaim(),
		"essential": EssentialClaim(true),
		"value":     OneOfClaim("admin"),
		"values":    OneOfClaim("a", "b"),
	}

	data, err := json.Marshal(constraints)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	decoded := map[string]ClaimConstraint{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if !decoded["essential"].Essential() {
		t.Error("essential constraint lost through round trip")
	}
	if len(decoded["value"].FixedValues()) != 1 {
		t.Error("single-value constraint lost through round trip")
	}
	if len(decoded["values"].FixedValues()) != 2 {
		t.Error("value-set constraint lost through round trip")
	}
	if decoded["any"].Essential() || decoded["any"].FixedValues() != nil {
		t.Error("null constraint changed shape through round trip")
	}
}

func TestParseClaimsRequest(t *testing.T) {
	raw := map[string]any{
		"userinfo": map[string]any{
			"email": map[string]any{"essential": true},
			"name":  nil,
		},
		"id_token": map[string]any{
			"sub": map[string]any{"value": "user-1"},
		},
	}

	cr, err := ParseClaimsRequest(raw)
	if err != nil {
		t.Fatalf("ParseClaimsRequest() error = %v", err)
	}
	if cr == nil {
		t.Fatal("ParseClaimsRequest() returned nil for non-nil input")
	}
	if !cr.UserInfo["email"].Essential() {
		t.Error("userinfo email constraint should be essential")
	}
	if _, present := cr.UserInfo["name"]; !present {
		t.Error("userinfo name constraint missing")
	}
	if !cr.IDToken["sub"].Match("user-1") {
		t.Error("id_token sub constraint should match user-1")
	}
	if cr.IDToken["sub"].Match("user-2") {
		t.Error("id_token sub constraint should not match user-2")
	}
}

func TestParseClaimsRequest_Nil(t *testing.T) {
	cr, err := ParseClaimsRequest(nil)
	if err != nil {
		t.Fatalf("ParseClaimsRequest(nil) error = %v", err)
	}
	if cr != nil {
		t.Errorf("ParseClaimsRequest(nil) = %v, want nil", cr)
	}
}

func TestClaimsRequest_SerializeRoundTrip(t *testing.T) {
	cr := &ClaimsRequest{
		UserInfo: map[string]ClaimConstraint{
			"email": EssentialClaim(true),
		},
		IDToken: map[string]ClaimConstraint{
			"sub": OneOfClaim("user-1"),
		},
	}

	serialized, err := cr.Serialize()
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	if serialized == "" {
		t.Fatal("Serialize() returned empty string for non-nil request")
	}

	decoded, err := DeserializeClaimsRequest(serialized)
	if err != nil {
		t.Fatalf("DeserializeClaimsRequest() error = %v", err)
	}
	if !decoded.UserInfo["email"].Essential() {
		t.Error("userinfo constraint lost through serialization")
	}
	if !decoded.IDToken["sub"].Match("user-1") {
		t.Error("id_token constraint lost through serialization")
	}
}

func TestClaimsRequest_SerializeNil(t *testing.T) {
	var cr *ClaimsRequest
	serialized, err := cr.Serialize()
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	if serialized != "" {
		t.Errorf("nil request serialized to %q, want empty", serialized)
	}

	decoded, err := DeserializeClaimsRequest("")
	if err != nil {
		t.Fatalf("DeserializeClaimsRequest(\"\") error = %v", err)
	}
	if decoded != nil {
		t.Errorf("DeserializeClaimsRequest(\"\") = %v, want nil", decoded)
	}
}

func TestFilterClaims(t *testing.T) {
	resolved := map[string]any{
		"sub":    "user-1",
		"email":  "user@example.com",
		"name":   "User One",
		"role":   "admin",
		"locale": "en",
	}
	base := map[string]any{"sub": "user-1"}

	constraints := map[string]ClaimConstraint{
		"email":   AnyClaim(),
		"role":    OneOfClaim("admin"),
		"locale":  OneOfClaim("de"),
		"missing": EssentialClaim(true),
	}

	out := filterClaims(resolved, constraints, base)

	if out["sub"] != "user-1" {
		t.Error("base claim should pass through")
	}
	if out["email"] != "user@example.com" {
		t.Error("unconstrained requested claim should be included")
	}
	if out["role"] != "admin" {
		t.Error("matching one-of claim should be included")
	}
	if _, present := out["locale"]; present {
		t.Error("mismatching one-of claim should be dropped")
	}
	if _, present := out["missing"]; present {
		t.Error("unresolvable claim should be omitted, essential or not")
	}
	if _, present := out["name"]; present {
		t.Error("unrequested claim should not leak through")
	}
}
