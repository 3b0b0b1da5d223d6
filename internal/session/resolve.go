package session

import "github.com/corpchat/chatsync/internal/config"

// DefaultSessionName is used when neither a flag nor the config names one.
const DefaultSessionName = "main"

// Resolve picks the session to run: an explicit flag wins, then the
// config file's default_session, then DefaultSessionName. A missing or
// unreadable config falls through silently; the daemon can run without one.
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if cfg, err := config.Load(ConfigPath()); err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
