package session

import (
	"fmt"
	"regexp"
)

// Session names become directory names under ~/.chatsync/sessions, so they
// are restricted to a filesystem-safe lowercase alphabet.
var namePattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName rejects names that cannot serve as a session directory.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("session name %q: want 1-64 chars of [a-z0-9_-]", name)
	}
	return nil
}
