package ratelimit

const (
	KeyPrefix  = "ratelimit:"
	UnknownKey = "unknown"
)

// Key picks the limiter key: authenticated identity, then a trusted
// forwarded user id, then the caller address.
func Key(identity, trustedUserID, clientIP string) string {
	for _, candidate := range []string{identity, trustedUserID, clientIP} {
		if candidate != "" {
			return KeyPrefix + candidate
		}
	}
	return KeyPrefix + UnknownKey
}
