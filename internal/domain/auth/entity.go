// internal/domain/auth/entity.go
package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// PrincipalID is a user id as the backend sends it: either a JSON number or a
// JSON string. It marshals back in the shape it was read.
type PrincipalID struct {
	value   string
	numeric bool
}

func NumericID(n int64) PrincipalID {
	return PrincipalID{value: strconv.FormatInt(n, 10), numeric: true}
}

func StringID(s string) PrincipalID {
	return PrincipalID{value: s}
}

func (id PrincipalID) String() string { return id.value }
func (id PrincipalID) IsZero() bool   { return id.value == "" }

func (id PrincipalID) MarshalJSON() ([]byte, error) {
	if id.value == "" {
		return []byte("null"), nil
	}
	if id.numeric {
		return []byte(id.value), nil
	}
	return json.Marshal(id.value)
}

func (id *PrincipalID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = PrincipalID{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("principal id must be a number or string: %w", err)
	}
	*id = PrincipalID{value: n.String(), numeric: true}
	return nil
}

// Principal is the authenticated user as reported by the backend "who am I"
// endpoints. Admin principals carry a role; regular users do not.
type Principal struct {
	ID          PrincipalID `json:"id"`
	Username    string      `json:"username"`
	Email       string      `json:"email"`
	Role        *string     `json:"role,omitempty"`
	FullName    *string     `json:"full_name,omitempty"`
	Gender      *string     `json:"gender,omitempty"`
	Avatar      *string     `json:"avatar,omitempty"`
	DayOfBirth  string      `json:"day_of_birth,omitempty"`
	PhoneNumber *string     `json:"phone_number,omitempty"`
	CreatedAt   string      `json:"created_at,omitempty"`
}

// IsAdmin reports whether the principal carries any role.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role != nil
}

// ParsePrincipal decodes raw as a Principal. It returns nil when raw is empty,
// null, not an object, or an empty object. An object without an id that wraps
// the user in "data" is unwrapped; any other non-empty object is the user.
func ParsePrincipal(raw json.RawMessage) *Principal {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || len(fields) == 0 {
		return nil
	}

	var p Principal
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	if p.ID.IsZero() {
		if inner := ParsePrincipal(fields["data"]); inner != nil {
			return inner
		}
	}
	return &p
}
