package configdiff

import (
	"strings"

	"github.com/maxpoletaev/nacosclient/nacoserr"
)

// ConfigType is the declared format of a config item.
type ConfigType string

const (
	TypeProperties ConfigType = "properties"
	TypeXML        ConfigType = "xml"
	TypeJSON       ConfigType = "json"
	TypeText       ConfigType = "text"
	TypeHTML       ConfigType = "html"
	TypeYAML       ConfigType = "yaml"
)

// ParseConfigType accepts the type names used by the server, case
// insensitively. An empty name means text.
func ParseConfigType(s string) (ConfigType, error) {
	switch t := ConfigType(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return TypeText, nil
	case "yml":
		return TypeYAML, nil
	case TypeProperties, TypeXML, TypeJSON, TypeText, TypeHTML, TypeYAML:
		return t, nil
	default:
		return "", nacoserr.Errorf(nacoserr.ErrUnsupportedFormat, "unknown config type %q", s)
	}
}
