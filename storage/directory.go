package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"orgchat/models"
)

// DirectoryEntry is one published directory row: display profile plus the
// public key bytes.
type DirectoryEntry struct {
	Profile   models.Profile
	PublicKey []byte
}

// PublishDirectoryUser upserts a user's public key and display profile in
// the organization directory.
func (s *Store) PublishDirectoryUser(ctx context.Context, orgID string, profile models.Profile, publicKey []byte) error {
	if orgID == "" {
		return errors.New("org_id is required")
	}
	if profile.UserID == "" {
		return errors.New("user_id is required")
	}
	if len(publicKey) == 0 {
		return errors.New("public key is required")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO directory_users (user_id, org_id, display_name, avatar_url, public_key, published_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id, user_id) DO UPDATE SET
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url,
			public_key = excluded.public_key,
			published_at = excluded.published_at`,
		profile.UserID, orgID, profile.DisplayName, profile.AvatarURL, publicKey, nowUnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("publish directory user %q: %w", profile.UserID, err)
	}

	return nil
}

// DirectoryUser fetches one directory entry.
func (s *Store) DirectoryUser(ctx context.Context, orgID, userID string) (DirectoryEntry, error) {
	if userID == "" {
		return DirectoryEntry{}, errors.New("user_id is required")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, display_name, avatar_url, public_key
		FROM directory_users
		WHERE org_id = ? AND user_id = ?`,
		orgID, userID,
	)

	var entry DirectoryEntry
	if err := row.Scan(
		&entry.Profile.UserID,
		&entry.Profile.DisplayName,
		&entry.Profile.AvatarURL,
		&entry.PublicKey,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DirectoryEntry{}, models.ErrNotFound
		}
		return DirectoryEntry{}, fmt.Errorf("get directory user %q: %w", userID, err)
	}

	return entry, nil
}

// DirectoryUsers batch-fetches directory entries for the given ids in one
// query. Absent ids are simply missing from the result map.
func (s *Store) DirectoryUsers(ctx context.Context, orgID string, userIDs []string) (map[string]DirectoryEntry, error) {
	entries := make(map[string]DirectoryEntry, len(userIDs))
	if len(userIDs) == 0 {
		return entries, nil
	}

	placeholders := strings.Repeat("?,", len(userIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(userIDs)+1)
	args = append(args, orgID)
	for _, id := range userIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, display_name, avatar_url, public_key
		FROM directory_users
		WHERE org_id = ? AND user_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("batch get directory users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry DirectoryEntry
		if err := rows.Scan(
			&entry.Profile.UserID,
			&entry.Profile.DisplayName,
			&entry.Profile.AvatarURL,
			&entry.PublicKey,
		); err != nil {
			return nil, fmt.Errorf("scan directory row: %w", err)
		}
		entries[entry.Profile.UserID] = entry
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate directory rows: %w", err)
	}

	return entries, nil
}
