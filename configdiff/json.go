package configdiff

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/maxpoletaev/nacosclient/nacoserr"
)

// JSONParser flattens a JSON document the same way YAMLParser does.
type JSONParser struct{}

func (JSONParser) IsResponsibleFor(typ ConfigType) bool {
	return typ == TypeJSON
}

func (p JSONParser) Diff(oldText, newText string) (map[string]ChangeItem, error) {
	return diffWith(p.Parse, oldText, newText)
}

func (JSONParser) Parse(text string) (map[string]string, error) {
	result := make(map[string]string)

	if strings.TrimSpace(text) == "" {
		return result, nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, nacoserr.Wrap(nacoserr.ErrParse, err)
	}

	switch root.(type) {
	case map[string]any, []any:
	default:
		return nil, nacoserr.Errorf(nacoserr.ErrParse, "json document must be an object or an array")
	}

	flattenJSON(root, "", result)

	return result, nil
}

func flattenJSON(v any, prefix string, out map[string]string) {
	switch v := v.(type) {
	case map[string]any:
		for key, value := range v {
			flattenJSON(value, joinKey(prefix, key), out)
		}
	case []any:
		for i, item := range v {
			flattenJSON(item, prefix+"["+strconv.Itoa(i)+"]", out)
		}
	case json.Number:
		out[prefix] = v.String()
	case string:
		out[prefix] = v
	case bool:
		out[prefix] = strconv.FormatBool(v)
	case nil:
		out[prefix] = ""
	}
}
