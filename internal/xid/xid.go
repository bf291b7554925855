package xid

import (
	"github.com/google/uuid"
)

// New returns a random identifier tagged with a short type prefix, e.g. "sale-<uuid>".
func New(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "-" + uuid.NewString()
}
