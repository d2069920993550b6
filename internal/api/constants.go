package api //nolint:revive // package name is intentional

const (
	// DefaultMaxBodySize is the default maximum request body size (32MB).
	// Source images and masks travel base64-encoded inside the JSON body.
	DefaultMaxBodySize = 32 * 1024 * 1024
)
