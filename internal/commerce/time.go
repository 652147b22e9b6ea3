package commerce

import "time"

// parseCommerceTime parses the RFC3339 timestamps COMMERCE returns for
// createdAt/sale window fields.
func parseCommerceTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
