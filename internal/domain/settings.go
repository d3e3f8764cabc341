package domain

import "time"

// ProfileSettings holds the profile fields auto-events are derived from.
// A nil date suppresses the corresponding derived event.
type ProfileSettings struct {
	Person1Name      string
	Person1BirthDate *time.Time
	Person2Name      string
	Person2BirthDate *time.Time
	RelationshipDate *time.Time
}

// ChannelSettings holds durable credentials for the notification channel.
type ChannelSettings struct {
	BotToken string
	ChatID   string
}

// Configured reports whether both a token and a destination are present.
func (c ChannelSettings) Configured() bool {
	return c.BotToken != "" && c.ChatID != ""
}
