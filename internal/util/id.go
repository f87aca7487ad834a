package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random hex identifier, optionally prefixed ("post_…").
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
