package customers

import "strings"

// SplitName prefers explicit first/last metadata and otherwise splits the
// display name on its first space.
func SplitName(name string, metadata map[string]string) (first, last string) {
	first = strings.TrimSpace(metadata["first_name"])
	last = strings.TrimSpace(metadata["last_name"])
	if first != "" || last != "" {
		return first, last
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	parts := strings.SplitN(name, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.TrimSpace(parts[1])
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
