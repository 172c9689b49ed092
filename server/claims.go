package server

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Claim constraint kinds. A request object may ask for individual claims in
// the userinfo and ID token responses, each with one of three constraint
// shapes: null (requested, no constraint), {"essential": bool}, or a fixed
// permitted value set via "value"/"values".
type constraintKind int

const (
	constraintAny constraintKind = iota
	constraintEssential
	constraintOneOf
)

// ClaimConstraint is the closed sum type {Any, Essential(bool), OneOf(values)}
// evaluated against resolved claim values. Constraints are advisory filters
// for response assembly, never hard failures by themselves; the single
// exception (fixed-value subject mismatch) is enforced by the authorization
// engine, not here.
type ClaimConstraint struct {
	kind      constraintKind
	essential bool
	values    []any
}

// AnyClaim returns the unconstrained claim request (JSON null).
func AnyClaim() ClaimConstraint {
	return ClaimConstraint{kind: constraintAny}
}

// EssentialClaim returns an {"essential": e} constraint.
func EssentialClaim(e bool) ClaimConstraint {
	return ClaimConstraint{kind: constraintEssential, essential: e}
}

// OneOfClaim returns a fixed permitted value-set constraint.
func OneOfClaim(values ...any) ClaimConstraint {
	return ClaimConstraint{kind: constraintOneOf, values: values}
}

// Essential reports whether the claim was marked essential=true.
func (c ClaimConstraint) Essential() bool {
	return c.kind == constraintEssential && c.essential
}

// FixedValues returns the permitted value set for OneOf constraints, nil
// otherwise.
func (c ClaimConstraint) FixedValues() []any {
	if c.kind != constraintOneOf {
		return nil
	}
	return c.values
}

// Match reports whether a resolved claim value satisfies the constraint.
// Any and Essential always match; OneOf matches when the value equals one of
// the permitted values.
func (c ClaimConstraint) Match(value any) bool {
	if c.kind != constraintOneOf {
		return true
	}
	for _, v := range c.values {
		if reflect.DeepEqual(v, value) {
			return true
		}
	}
	return false
}

// MarshalJSON serializes the constraint back to its wire shape.
func (c ClaimConstraint) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case constraintAny:
		return []byte("null"), nil
	case constraintEssential:
		return json.Marshal(map[string]any{"essential": c.essential})
	case constraintOneOf:
		if len(c.values) == 1 {
			return json.Marshal(map[string]any{"value": c.values[0]})
		}
		return json.Marshal(map[string]any{"values": c.values})
	}
	return nil, fmt.Errorf("unknown claim constraint kind %d", c.kind)
}

// UnmarshalJSON parses a single claim constraint from its wire shape.
func (c *ClaimConstraint) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := parseClaimConstraint(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// parseClaimConstraint maps a decoded JSON value onto the constraint sum type.
func parseClaimConstraint(raw any) (ClaimConstraint, error) {
	if raw == nil {
		return AnyClaim(), nil
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return ClaimConstraint{}, fmt.Errorf("claim constraint must be null or an object")
	}

	if v, present := obj["value"]; present {
		return OneOfClaim(v), nil
	}
	if vs, present := obj["values"]; present {
		list, ok := vs.([]any)
		if !ok {
			return ClaimConstraint{}, fmt.Errorf("claim constraint 'values' must be an array")
		}
		return OneOfClaim(list...), nil
	}
	if e, present := obj["essential"]; present {
		b, ok := e.(bool)
		if !ok {
			return ClaimConstraint{}, fmt.Errorf("claim constraint 'essential' must be a boolean")
		}
		return EssentialClaim(b), nil
	}

	// An empty object is equivalent to a null constraint.
	if len(obj) == 0 {
		return AnyClaim(), nil
	}
	return ClaimConstraint{}, fmt.Errorf("unrecognized claim constraint shape")
}

// ClaimsRequest carries the per-claim constraints a request object asked of
// the userinfo and ID token responses.
type ClaimsRequest struct {
	UserInfo map[string]ClaimConstraint `json:"userinfo,omitempty"`
	IDToken  map[string]ClaimConstraint `json:"id_token,omitempty"`
}

// ParseClaimsRequest decodes the "claims" member of a request object.
func ParseClaimsRequest(raw any) (*ClaimsRequest, error) {
	if raw == nil {
		return nil, nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid claims member: %w", err)
	}
	var cr ClaimsRequest
	if err := json.Unmarshal(data, &cr); err != nil {
		return nil, fmt.Errorf("invalid claims member: %w", err)
	}
	return &cr, nil
}

// Serialize encodes the claims request for storage on codes and tokens.
// A nil request serializes to the empty string.
func (cr *ClaimsRequest) Serialize() (string, error) {
	if cr == nil {
		return "", nil
	}
	data, err := json.Marshal(cr)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DeserializeClaimsRequest decodes a claims request stored on a code or token
// record. The empty string decodes to nil.
func DeserializeClaimsRequest(s string) (*ClaimsRequest, error) {
	if s == "" {
		return nil, nil
	}
	var cr ClaimsRequest
	if err := json.Unmarshal([]byte(s), &cr); err != nil {
		return nil, err
	}
	return &cr, nil
}

// filterClaims applies constraints to a resolved claim set: constrained
// claims are included when present and matching; OneOf mismatches are
// dropped. The base set (already scope-filtered) passes through untouched.
func filterClaims(resolved map[string]any, constraints map[string]ClaimConstraint, base map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(constraints))
	for k, v := range base {
		out[k] = v
	}
	for name, constraint := range constraints {
		value, present := resolved[name]
		if !present {
			continue
		}
		if constraint.Match(value) {
			out[name] = value
		}
	}
	return out
}
