// Package checksum derives content tags for stored graphs.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/starford/piko/internal/models"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Graph returns the digest of the graph's JSON encoding. Nodes and edges keep
// their order, so two graphs differing only in z-order get different tags.
func Graph(g models.Graph) (string, error) {
	raw, err := json.Marshal(g.Normalize())
	if err != nil {
		return "", err
	}
	return Sum(raw), nil
}
