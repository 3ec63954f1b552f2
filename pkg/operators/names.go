package operators

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nodeset-org/nodeset-analytics/pkg/cache"
)

// NamesTTL is how long loaded names are kept before the file is read again.
const NamesTTL = time.Hour

// Names maps operator addresses to display names, such as ENS names.
type Names map[string]string

// Key normalises an operator identity for lookups. Hex addresses compare
// case-insensitively, anything else is compared as is.
func Key(operator string) string {
	operator = strings.TrimSpace(operator)
	if common.IsHexAddress(operator) {
		return strings.ToLower(common.HexToAddress(operator).Hex())
	}
	return operator
}

// ParseNames decodes a JSON object of operator addresses to names.
func ParseNames(data []byte) (Names, error) {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode names: %w", err)
	}
	names := make(Names, len(raw))
	for operator, name := range raw {
		names[Key(operator)] = strings.TrimSpace(name)
	}
	return names, nil
}

// LoadNames reads the names file through the cache, reloading it when the
// file changes or NamesTTL passes. An empty path yields no names.
func LoadNames(ctx context.Context, c *cache.Cache[Names], path string) (Names, error) {
	if path == "" {
		return Names{}, nil
	}
	return c.GetOrLoad(ctx, "names:"+path, func(ctx context.Context) (Names, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read names file: %w", err)
		}
		return ParseNames(data)
	}, NamesTTL, cache.FileFingerprint(path))
}

func (n Names) Name(operator string) (string, bool) {
	name, ok := n[Key(operator)]
	if !ok || name == "" || Key(name) == Key(operator) {
		return "", false
	}
	return name, true
}

// Display formats the operator as "name (0x1234ab...cdef12)", or only the
// shortened address if it has no name.
func (n Names) Display(operator string) string {
	if operator == "" {
		return "Unknown"
	}
	if name, ok := n.Name(operator); ok {
		return fmt.Sprintf("%s (%s)", name, Short(operator))
	}
	return Short(operator)
}

// Short abbreviates long identities to their first 8 and last 6 characters.
func Short(operator string) string {
	if len(operator) <= 14 {
		return operator
	}
	return operator[:8] + "..." + operator[len(operator)-6:]
}
