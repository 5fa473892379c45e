package idempotency

import (
	"net/http"
	"strings"
)

// Header carries the client-chosen key that makes order creation
// replay-safe.
const Header = "Idempotency-Key"

func Key(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(Header))
}
