package schema

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"

	"chainwatch/internal/model"
)

// ParseSignature builds a schema from a Solidity-style event declaration:
//
//	Transfer(address indexed from, address indexed to, uint256 value)
//
// Names are optional and default to arg0, arg1, ...; types are checked
// against the ABI type grammar. Tuple parameters are not supported.
func ParseSignature(sig string) (model.EventSchema, error) {
	sig = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(sig), "event "))
	sig = strings.TrimSuffix(sig, ";")
	l := strings.Index(sig, "(")
	r := strings.LastIndex(sig, ")")
	if l <= 0 || r < l || strings.TrimSpace(sig[r+1:]) != "" {
		return model.EventSchema{}, fmt.Errorf("invalid event signature: %q", sig)
	}

	name := strings.TrimSpace(sig[:l])
	body := strings.TrimSpace(sig[l+1 : r])

	fields := []model.Field{}
	if body != "" {
		for i, part := range strings.Split(body, ",") {
			field, err := parseParam(part, i)
			if err != nil {
				return model.EventSchema{}, fmt.Errorf("event %s: %w", name, err)
			}
			fields = append(fields, field)
		}
	}

	return New(name, fields)
}

// New validates fields and computes the signature hash of name(fields...).
func New(name string, fields []model.Field) (model.EventSchema, error) {
	if name == "" {
		return model.EventSchema{}, fmt.Errorf("event name is required")
	}

	out := make([]model.Field, len(fields))
	seen := map[string]struct{}{}
	for i, f := range fields {
		typ, err := abi.NewType(f.Type, "", nil)
		if err != nil {
			return model.EventSchema{}, fmt.Errorf("event %s: field %d type %q: %w", name, i, f.Type, err)
		}
		if typ.T == abi.TupleTy {
			return model.EventSchema{}, fmt.Errorf("event %s: field %d: tuple parameters are not supported", name, i)
		}
		if f.Name == "" {
			f.Name = fmt.Sprintf("arg%d", i)
		}
		if _, dup := seen[f.Name]; dup {
			return model.EventSchema{}, fmt.Errorf("event %s: duplicate field name %q", name, f.Name)
		}
		seen[f.Name] = struct{}{}
		f.Type = typ.String()
		out[i] = f
	}

	s := model.EventSchema{Name: name, Fields: out}
	s.SignatureHash = crypto.Keccak256Hash([]byte(s.Canonical()))
	return s, nil
}

func parseParam(part string, pos int) (model.Field, error) {
	tokens := strings.Fields(part)
	if len(tokens) == 0 {
		return model.Field{}, fmt.Errorf("empty parameter at position %d", pos)
	}
	if strings.HasPrefix(tokens[0], "tuple") || strings.HasPrefix(tokens[0], "(") {
		return model.Field{}, fmt.Errorf("tuple parameters are not supported")
	}

	field := model.Field{Type: normalizeType(tokens[0])}
	rest := tokens[1:]
	if len(rest) > 0 && rest[0] == "indexed" {
		field.Indexed = true
		rest = rest[1:]
	}
	switch len(rest) {
	case 0:
	case 1:
		field.Name = rest[0]
	default:
		return model.Field{}, fmt.Errorf("unexpected tokens in parameter %q", strings.TrimSpace(part))
	}
	return field, nil
}

// normalizeType expands the uint/int aliases the canonical form requires.
func normalizeType(t string) string {
	for _, alias := range []string{"uint", "int"} {
		if t == alias {
			return alias + "256"
		}
		if strings.HasPrefix(t, alias+"[") {
			return alias + "256" + t[len(alias):]
		}
	}
	return t
}
