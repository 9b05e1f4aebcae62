package routing

import "strings"

// PublicPaths is the explicit allowlist of paths that never require a
// credential, even when a route asks for authentication.
type PublicPaths struct {
	Prefixes []string `yaml:"prefixes"`
	Exact    []string `yaml:"exact"`
}

func DefaultPublicPaths() PublicPaths {
	return PublicPaths{
		Prefixes: []string{"/auth/", "/actuator/", "/ws/"},
		Exact:    []string{"/health", "/"},
	}
}

func (p PublicPaths) Contains(path string) bool {
	for _, exact := range p.Exact {
		if path == exact {
			return true
		}
	}
	for _, prefix := range p.Prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
