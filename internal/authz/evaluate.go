package authz

import "strings"

// Expression is a permission requirement: a list of keys with any/all semantics.
type Expression struct {
	Keys       []string
	RequireAll bool
}

// Key requires a single permission key.
func Key(key string) Expression {
	return Expression{Keys: []string{key}}
}

// Any requires at least one of keys.
func Any(keys ...string) Expression {
	return Expression{Keys: keys}
}

// All requires every one of keys.
func All(keys ...string) Expression {
	return Expression{Keys: keys, RequireAll: true}
}

// ParseExpression reads "a|b" as any-of and "a,b" or "a&b" as all-of.
// Mixing separators is not supported; "|" wins when present.
func ParseExpression(raw string) Expression {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Expression{}
	}
	if strings.Contains(raw, "|") {
		return Any(strings.Split(raw, "|")...)
	}
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '&' })
	if len(fields) > 1 {
		return All(fields...)
	}
	return Key(raw)
}

// normalized returns the trimmed, non-empty keys.
func (e Expression) normalized() []string {
	keys := make([]string, 0, len(e.Keys))
	for _, k := range e.Keys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// IsEmpty reports an expression that requires nothing.
func (e Expression) IsEmpty() bool {
	return len(e.normalized()) == 0
}

func (e Expression) String() string {
	sep := "|"
	if e.RequireAll {
		sep = ","
	}
	return strings.Join(e.normalized(), sep)
}

// Evaluate answers expr against s. A nil snapshot holds no permissions.
func Evaluate(s *Snapshot, expr Expression) bool {
	keys := expr.normalized()
	if len(keys) == 0 {
		return true
	}
	if s.IsSuperadmin() {
		return true
	}
	if s == nil {
		return false
	}
	if expr.RequireAll {
		for _, k := range keys {
			if !s.grants(k) {
				return false
			}
		}
		return true
	}
	for _, k := range keys {
		if s.grants(k) {
			return true
		}
	}
	return false
}

// grants checks a single key: exact membership, or any held wildcard covering it.
// "orders:*" is covered only by a held "orders:*" (or a broader held wildcard),
// never by a narrower "orders:view".
func (s *Snapshot) grants(key string) bool {
	if s.index[key] {
		return true
	}
	for i := 0; i < len(key); i++ {
		if key[i] != ':' {
			continue
		}
		wildcard := key[:i+1] + "*"
		if wildcard != key && s.index[wildcard] {
			return true
		}
	}
	return false
}
