package cache

import (
	"fmt"
	"strings"

	"github.com/maxpoletaev/nacosclient/nacoserr"
)

// GroupKey identifies one subscribable config item.
type GroupKey struct {
	DataID string
	Group  string
	Tenant string
}

// NewGroupKey validates the parts of a key. The tenant may be empty.
func NewGroupKey(dataID, group, tenant string) (GroupKey, error) {
	if strings.TrimSpace(dataID) == "" {
		return GroupKey{}, nacoserr.Errorf(nacoserr.ErrInvalidArgument, "data id is blank")
	}

	if strings.TrimSpace(group) == "" {
		return GroupKey{}, nacoserr.Errorf(nacoserr.ErrInvalidArgument, "group is blank")
	}

	return GroupKey{DataID: dataID, Group: group, Tenant: tenant}, nil
}

// String returns the canonical form dataId+group[+tenant], with '+' and '%'
// escaped inside the parts.
func (k GroupKey) String() string {
	var b strings.Builder

	escapeTo(&b, k.DataID)
	b.WriteByte('+')
	escapeTo(&b, k.Group)

	if k.Tenant != "" {
		b.WriteByte('+')
		escapeTo(&b, k.Tenant)
	}

	return b.String()
}

func escapeTo(b *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '+':
			b.WriteString("%2B")
		case '%':
			b.WriteString("%25")
		default:
			b.WriteByte(s[i])
		}
	}
}

// ParseGroupKey is the inverse of GroupKey.String.
func ParseGroupKey(s string) (GroupKey, error) {
	parts := strings.Split(s, "+")
	if len(parts) < 2 || len(parts) > 3 {
		return GroupKey{}, nacoserr.Errorf(nacoserr.ErrInvalidArgument, "invalid group key %q", s)
	}

	for i, p := range parts {
		unescaped, err := unescape(p)
		if err != nil {
			return GroupKey{}, nacoserr.Errorf(nacoserr.ErrInvalidArgument, "invalid group key %q: %s", s, err)
		}

		parts[i] = unescaped
	}

	key := GroupKey{DataID: parts[0], Group: parts[1]}
	if len(parts) == 3 {
		key.Tenant = parts[2]
	}

	if key.DataID == "" || key.Group == "" {
		return GroupKey{}, nacoserr.Errorf(nacoserr.ErrInvalidArgument, "invalid group key %q", s)
	}

	return key, nil
}

func unescape(s string) (string, error) {
	if !strings.Contains(s, "%") {
		return s, nil
	}

	var b strings.Builder

	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}

		switch {
		case strings.HasPrefix(s[i:], "%2B"):
			b.WriteByte('+')
		case strings.HasPrefix(s[i:], "%25"):
			b.WriteByte('%')
		default:
			return "", fmt.Errorf("bad escape at offset %d", i)
		}

		i += 2
	}

	return b.String(), nil
}
