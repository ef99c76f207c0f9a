package verify

import (
	"fmt"
	"strconv"

	"sigs.k8s.io/yaml"
)

// ParseManifest decodes a component->version manifest from JSON or YAML.
// Scalar values are coerced to strings so a version written as 1.2 in YAML
// compares equal to the image tag "1.2".
func ParseManifest(data []byte) (map[string]string, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ManifestParseError{Err: err}
	}
	if len(raw) == 0 {
		return nil, &ManifestParseError{Err: fmt.Errorf("manifest has no components")}
	}

	manifest := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			manifest[key] = v
		case float64:
			manifest[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			manifest[key] = strconv.FormatBool(v)
		default:
			return nil, &ManifestParseError{
				Err: fmt.Errorf("component %q has non-scalar version %v", key, value),
			}
		}
	}
	return manifest, nil
}
