package source

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/airport-bench/internal/types"
	"gopkg.in/yaml.v3"
)

// Keys a Clash YAML document starts with. Content that doesn't look like
// YAML is tried as a base64-encoded subscription first.
var clashYAMLPrefixes = []string{
	"port:", "mixed-port:", "proxies:", "mode:", "socks-port:", "#",
}

// Patterns identifying informational pseudo-nodes (traffic/expiry notices
// that subscriptions embed as fake proxies).
var infoPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)套餐到期`),
	regexp.MustCompile(`(?i)订阅获取时间`),
	regexp.MustCompile(`(?i)Traffic Reset`),
	regexp.MustCompile(`(?i)Expire Date`),
	regexp.MustCompile(`(?i)Days Left`),
	regexp.MustCompile(`(?i)\d+(\.\d+)?\s*(G|GB|T|TB)\s*\|`), // e.g. "50.74 G | 500.00 G"
	regexp.MustCompile(`(?i)剩余流量`),
	regexp.MustCompile(`(?i)到期时间`),
}

// ParseClashSubscription decodes a subscription body (plain or base64
// Clash YAML) and returns the raw proxy entries.
func ParseClashSubscription(raw []byte) ([]map[string]interface{}, error) {
	text := decodeContent(raw)

	var doc struct {
		Proxies []map[string]interface{} `yaml:"proxies"`
	}
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("parse Clash YAML: %w", err)
	}
	if len(doc.Proxies) == 0 {
		return nil, fmt.Errorf("no proxies key in subscription")
	}
	return doc.Proxies, nil
}

func decodeContent(raw []byte) string {
	text := strings.TrimSpace(string(raw))

	firstLine := text
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		firstLine = strings.TrimSpace(text[:idx])
	}
	for _, prefix := range clashYAMLPrefixes {
		if strings.HasPrefix(firstLine, prefix) {
			return text
		}
	}

	// Pad to a multiple of 4 so truncated padding still decodes.
	padded := text + strings.Repeat("=", (4-len(text)%4)%4)
	if decoded, err := base64.StdEncoding.DecodeString(padded); err == nil {
		return string(decoded)
	}
	return text
}

// IsInformational reports whether the entry looks like a traffic/expiry
// notice rather than a real proxy.
func IsInformational(entry map[string]interface{}) bool {
	name, _ := entry["name"].(string)
	for _, pat := range infoPatterns {
		if pat.MatchString(name) {
			return true
		}
	}
	return false
}

// FilterRealNodes drops informational pseudo-nodes.
// Returns (real entries, filtered count).
func FilterRealNodes(entries []map[string]interface{}) ([]map[string]interface{}, int) {
	real := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		if !IsInformational(e) {
			real = append(real, e)
		}
	}
	return real, len(entries) - len(real)
}

// DeduplicateNames makes node names globally unique by appending " (2)",
// " (3)" and so on. The control service rejects duplicate proxy names.
func DeduplicateNames(nodes []types.NodeDescriptor) []types.NodeDescriptor {
	seen := make(map[string]int, len(nodes))
	out := make([]types.NodeDescriptor, 0, len(nodes))
	for _, n := range nodes {
		count := seen[n.NodeName]
		seen[n.NodeName] = count + 1
		if count > 0 {
			renamed := n
			renamed.NodeName = fmt.Sprintf("%s (%d)", n.NodeName, count+1)
			if renamed.Params != nil {
				params := make(map[string]interface{}, len(n.Params))
				for k, v := range n.Params {
					params[k] = v
				}
				params["name"] = renamed.NodeName
				renamed.Params = params
			}
			out = append(out, renamed)
			continue
		}
		out = append(out, n)
	}
	return out
}
