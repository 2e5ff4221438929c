package script

import "strings"

// GJSONPath converts a simple JSONPath ("$.users[0].name", "$['a']") to
// gjson syntax ("users.0.name"). Paths without a leading "$" are taken to
// be gjson already.
func GJSONPath(path string) string {
	if !strings.HasPrefix(path, "$") {
		return path
	}
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	r := strings.NewReplacer(`['`, ".", `']`, "", `["`, ".", `"]`, "", "[", ".", "]", "")
	path = r.Replace(path)
	return strings.TrimPrefix(path, ".")
}
