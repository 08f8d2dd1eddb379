package strx

// Coalesce returns the first non-empty string, or "" when all are empty.
func Coalesce(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
