package postgres

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/djlord-it/keepsake/internal/domain"
)

// Keys of the settings table.
const (
	KeyPerson1Name      = "person1_name"
	KeyPerson1BirthDate = "person1_birth_date"
	KeyPerson2Name      = "person2_name"
	KeyPerson2BirthDate = "person2_birth_date"
	KeyRelationshipDate = "relationship_date"
	KeyTelegramBotToken = "telegram_bot_token"
	KeyTelegramChatID   = "telegram_chat_id"
)

const settingsDateLayout = "2006-01-02"

// GetProfileSettings reads the profile keys. Missing or unparsable dates are
// returned as nil so the matching auto-event is skipped.
func (s *Store) GetProfileSettings(ctx context.Context) (domain.ProfileSettings, error) {
	values, err := s.settings(ctx,
		KeyPerson1Name, KeyPerson1BirthDate,
		KeyPerson2Name, KeyPerson2BirthDate,
		KeyRelationshipDate,
	)
	if err != nil {
		return domain.ProfileSettings{}, err
	}
	return profileFromValues(values), nil
}

// GetChannelSettings reads the durable Telegram credentials.
func (s *Store) GetChannelSettings(ctx context.Context) (domain.ChannelSettings, error) {
	values, err := s.settings(ctx, KeyTelegramBotToken, KeyTelegramChatID)
	if err != nil {
		return domain.ChannelSettings{}, err
	}
	return domain.ChannelSettings{
		BotToken: values[KeyTelegramBotToken],
		ChatID:   values[KeyTelegramChatID],
	}, nil
}

func (s *Store) settings(ctx context.Context, keys ...string) (map[string]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, querySettingsByKeys, pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string, len(keys))
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		values[k] = v
	}
	return values, rows.Err()
}

func profileFromValues(values map[string]string) domain.ProfileSettings {
	return domain.ProfileSettings{
		Person1Name:      values[KeyPerson1Name],
		Person1BirthDate: parseDate(KeyPerson1BirthDate, values[KeyPerson1BirthDate]),
		Person2Name:      values[KeyPerson2Name],
		Person2BirthDate: parseDate(KeyPerson2BirthDate, values[KeyPerson2BirthDate]),
		RelationshipDate: parseDate(KeyRelationshipDate, values[KeyRelationshipDate]),
	}
}

// parseDate accepts YYYY-MM-DD or RFC 3339.
func parseDate(key, value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{settingsDateLayout, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	log.Printf("store: setting %s has unparsable date %q, ignoring", key, value)
	return nil
}
