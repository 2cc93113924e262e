// Package nickname enforces global uniqueness of case-insensitive nicknames.
// The lowercase form is the key; the original casing is kept as the display
// name and denormalized onto the user record for cheap reverse lookups.
package nickname

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"throwbot/internal/store"
)

var (
	// ErrInvalid rejects nicknames outside alphanumerics and underscores.
	ErrInvalid = errors.New("invalid nickname")
	// ErrTaken means the lowercase form is already registered.
	ErrTaken = errors.New("nickname taken")
)

var nickPattern = regexp.MustCompile(`^\w+$`)

type Directory struct {
	records store.Records
}

func NewDirectory(records store.Records) *Directory {
	return &Directory{records: records}
}

// Register claims nick for userID. The uniqueness check and the claim are one
// conditional put; winning it, the user record is updated with the
// canonical lowercase nickname and the display casing. Callers are expected
// to have verified the user holds no prior nickname; the directory does not.
func (d *Directory) Register(ctx context.Context, userID, nick string) error {
	if !nickPattern.MatchString(nick) {
		return ErrInvalid
	}
	rec := store.NicknameRecord{
		Nickname:    strings.ToLower(nick),
		UserID:      userID,
		DisplayName: nick,
	}
	err := d.records.PutNickname(ctx, rec)
	if errors.Is(err, store.ErrConditionFailed) {
		return ErrTaken
	}
	if err != nil {
		return fmt.Errorf("register nickname %s: %w", nick, err)
	}
	if err := d.records.SetNickname(ctx, userID, rec.Nickname, rec.DisplayName); err != nil {
		return fmt.Errorf("denormalize nickname %s: %w", nick, err)
	}
	return nil
}

// Resolve returns the user record owning nick, or store.ErrNotFound.
func (d *Directory) Resolve(ctx context.Context, nick string) (*store.UserRecord, error) {
	rec, err := d.records.GetNickname(ctx, nick)
	if err != nil {
		return nil, err
	}
	u, err := d.records.GetUser(ctx, rec.UserID)
	if errors.Is(err, store.ErrNotFound) {
		// dangling mapping; treat as unregistered
		return nil, store.ErrNotFound
	}
	return u, err
}

// Exists reports whether nick currently resolves to a registration.
func (d *Directory) Exists(ctx context.Context, nick string) (bool, error) {
	_, err := d.records.GetNickname(ctx, nick)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Unregister drops the nickname record. Used during quit.
func (d *Directory) Unregister(ctx context.Context, nick string) error {
	return d.records.DeleteNickname(ctx, nick)
}
