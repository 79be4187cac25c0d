package objectplugin

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// MaxTypeNameLen is the maximum length of an object type name.
	MaxTypeNameLen = 128

	// MaxScopeNameLen is the maximum length of a published object name.
	MaxScopeNameLen = 256

	// MaxSessionIDLen is the maximum length of a session ID header.
	MaxSessionIDLen = 64
)

var (
	// validTypeNamePattern matches object type names.
	// Must start with a letter, contain only alphanumeric, underscore, hyphen, dot.
	validTypeNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.\-]*$`)

	// validSessionIDPattern matches session IDs minted by the server.
	validSessionIDPattern = regexp.MustCompile(`^sess-[0-9a-f]+$`)
)

// ValidateTypeName validates an object type name.
// Returns an error if:
// - Empty or too long
// - Contains invalid characters
func ValidateTypeName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidTypeName)
	}

	if len(name) > MaxTypeNameLen {
		return fmt.Errorf("%w: %d bytes (max: %d)", ErrInvalidTypeName, len(name), MaxTypeNameLen)
	}

	if !validTypeNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q contains invalid characters (must match: %s)", ErrInvalidTypeName, name, validTypeNamePattern.String())
	}

	return nil
}

// ValidateScopeName validates the name an object is published under.
// Any printable name is allowed; empty names and control bytes are not.
func ValidateScopeName(name string) error {
	if name == "" {
		return fmt.Errorf("scope name cannot be empty")
	}

	if len(name) > MaxScopeNameLen {
		return fmt.Errorf("scope name too long: %d bytes (max: %d)", len(name), MaxScopeNameLen)
	}

	// Check for null bytes and other control characters
	if strings.ContainsFunc(name, func(r rune) bool { return r < 0x20 || r == 0x7f }) {
		return fmt.Errorf("scope name %q contains control characters", name)
	}

	return nil
}

// ValidateSessionID validates a session ID sent by a client.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}

	if len(id) > MaxSessionIDLen {
		return fmt.Errorf("session id too long: %d bytes (max: %d)", len(id), MaxSessionIDLen)
	}

	if !validSessionIDPattern.MatchString(id) {
		return fmt.Errorf("session id %q is malformed", id)
	}

	return nil
}
