package postgres

const eventColumns = `
    id, title, description, icon, event_date, event_time,
    is_recurring, recurring_type, reminder_days_before,
    reminder_enabled, is_active, tags, special_message,
    created_at, updated_at`

const queryFindActiveReminderEvents = `
SELECT` + eventColumns + `
FROM events
WHERE is_active = true AND reminder_enabled = true
ORDER BY event_date, id
`

const queryListActiveEvents = `
SELECT` + eventColumns + `
FROM events
WHERE is_active = true
ORDER BY event_date, id
`

const queryFindEventByTag = `
SELECT` + eventColumns + `
FROM events
WHERE $1 = ANY(tags)
ORDER BY created_at, id
LIMIT 1
`

const queryGetEvent = `
SELECT` + eventColumns + `
FROM events
WHERE id = $1
`

// History is never written here; it only grows through queryInsertNotification.
const queryUpsertEvent = `
INSERT INTO events (
    id, title, description, icon, event_date, event_time,
    is_recurring, recurring_type, reminder_days_before,
    reminder_enabled, is_active, tags, special_message,
    created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (id) DO UPDATE SET
    title                = EXCLUDED.title,
    description          = EXCLUDED.description,
    icon                 = EXCLUDED.icon,
    event_date           = EXCLUDED.event_date,
    event_time           = EXCLUDED.event_time,
    is_recurring         = EXCLUDED.is_recurring,
    recurring_type       = EXCLUDED.recurring_type,
    reminder_days_before = EXCLUDED.reminder_days_before,
    reminder_enabled     = EXCLUDED.reminder_enabled,
    is_active            = EXCLUDED.is_active,
    tags                 = EXCLUDED.tags,
    special_message      = EXCLUDED.special_message,
    updated_at           = EXCLUDED.updated_at
`

const queryInsertNotification = `
INSERT INTO event_notifications (event_id, sent_at, channel, days_before, reminder_type)
VALUES ($1, $2, $3, $4, $5)
`

const queryNotificationsForEvents = `
SELECT event_id, sent_at, channel, days_before, reminder_type
FROM event_notifications
WHERE event_id = ANY($1::uuid[])
ORDER BY event_id, id
`

const querySettingsByKeys = `
SELECT key, value
FROM settings
WHERE key = ANY($1)
`
