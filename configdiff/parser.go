package configdiff

import (
	"fmt"
	"strings"

	"github.com/maxpoletaev/nacosclient/nacoserr"
)

type Parser interface {
	// IsResponsibleFor reports whether the parser handles the given type.
	IsResponsibleFor(typ ConfigType) bool
	Diff(oldText, newText string) (map[string]ChangeItem, error)
}

// Detector picks the first parser of its chain that claims a config type.
type Detector struct {
	parsers []Parser
}

func NewDetector(parsers ...Parser) *Detector {
	return &Detector{parsers: parsers}
}

// DefaultDetector handles properties, yaml and json content.
func DefaultDetector() *Detector {
	return NewDetector(PropertiesParser{}, YAMLParser{}, JSONParser{})
}

// Diff compares two versions of a config of the given declared type. Types
// that no parser claims fail with ErrUnsupportedFormat.
func (d *Detector) Diff(typ string, oldText, newText string) (map[string]ChangeItem, error) {
	ct := ConfigType(strings.ToLower(strings.TrimSpace(typ)))
	if ct == "yml" {
		ct = TypeYAML
	}

	for _, p := range d.parsers {
		if p.IsResponsibleFor(ct) {
			return p.Diff(oldText, newText)
		}
	}

	return nil, nacoserr.Errorf(nacoserr.ErrUnsupportedFormat, "no parser for config type %q", typ)
}

type parseFunc func(text string) (map[string]string, error)

func diffWith(parse parseFunc, oldText, newText string) (map[string]ChangeItem, error) {
	oldMap, err := parse(oldText)
	if err != nil {
		return nil, fmt.Errorf("old content: %w", err)
	}

	newMap, err := parse(newText)
	if err != nil {
		return nil, fmt.Errorf("new content: %w", err)
	}

	return Compare(oldMap, newMap), nil
}

// PropertiesParser reads key=value lines. Lines starting with '#' are
// comments, blank lines are skipped and the key ends at the first '='.
type PropertiesParser struct{}

func (PropertiesParser) IsResponsibleFor(typ ConfigType) bool {
	return typ == TypeProperties
}

func (p PropertiesParser) Diff(oldText, newText string) (map[string]ChangeItem, error) {
	return diffWith(p.Parse, oldText, newText)
}

func (PropertiesParser) Parse(text string) (map[string]string, error) {
	result := make(map[string]string)

	for n, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, nacoserr.Errorf(nacoserr.ErrParse, "properties line %d: missing '='", n+1)
		}

		result[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	return result, nil
}
