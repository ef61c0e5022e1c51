// Package configdiff turns two versions of a config text into a set of
// per-key changes. The text is flattened into a key/value mapping by a parser
// chosen from the declared config type, then both mappings are compared.
package configdiff

type ChangeType int

const (
	Added ChangeType = iota + 1
	Modified
	Deleted
)

func (t ChangeType) String() string {
	switch t {
	case Added:
		return "ADDED"
	case Modified:
		return "MODIFIED"
	case Deleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

type ChangeItem struct {
	Key      string
	OldValue string
	NewValue string
	Type     ChangeType
}

// Compare classifies every key of both mappings. Unchanged keys are omitted,
// a key missing on one side is reported with an empty value on that side.
func Compare(old, new map[string]string) map[string]ChangeItem {
	changes := make(map[string]ChangeItem)

	for key, oldValue := range old {
		newValue, ok := new[key]

		switch {
		case !ok:
			changes[key] = ChangeItem{Key: key, OldValue: oldValue, Type: Deleted}
		case newValue != oldValue:
			changes[key] = ChangeItem{Key: key, OldValue: oldValue, NewValue: newValue, Type: Modified}
		}
	}

	for key, newValue := range new {
		if _, ok := old[key]; !ok {
			changes[key] = ChangeItem{Key: key, NewValue: newValue, Type: Added}
		}
	}

	return changes
}
