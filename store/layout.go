package store

import (
	"encoding/base64"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Layout controls how keys are spread over nested shard directories.
type Layout struct {
	// Segments is the number of nested directory levels.
	Segments int `yaml:"segments"`
	// Length is the number of characters per directory name.
	Length int `yaml:"length"`
}

// DefaultLayout nests five levels of two-character directories.
var DefaultLayout = Layout{Segments: 5, Length: 2}

// keyEncoder swaps the two base64 characters that are awkward in paths.
var keyEncoder = strings.NewReplacer("+", "X", "/", "Y")

// Shards returns the directory names for key: the base64 form of the key,
// made filesystem safe, cut into Segments chunks of Length characters. Keys
// whose encoding is too short produce fewer or shorter chunks.
func (l Layout) Shards(key string) []string {
	encoded := keyEncoder.Replace(base64.StdEncoding.EncodeToString([]byte(key)))

	shards := make([]string, 0, l.Segments)
	for i := 0; i < l.Segments; i++ {
		start := i * l.Length
		if start >= len(encoded) {
			break
		}
		end := start + l.Length
		if end > len(encoded) {
			end = len(encoded)
		}
		shards = append(shards, encoded[start:end])
	}
	return shards
}

// leaf names the per-key directory placed below the shards so keys sharing
// an encoded prefix never share an artifact directory.
func leaf(key string) string {
	return digest.FromString(key).Encoded()
}
