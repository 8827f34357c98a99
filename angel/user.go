package angel

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnUserTraits     = "traits"
	columnUserUsername   = "username"
	columnUserGlobalName = "global_name"
	columnUserLastSeen   = "last_seen"

	userMaxTraits      = 20
	userMaxTraitLength = 100
)

// User is a record of a Discord user who has used the bot.
// See: https://discord.com/developers/docs/resources/user
//
//nolint:lll // struct tags can't be split
type User struct {
	// ID is the Discord user ID
	ID string `json:"id" gorm:"primaryKey"`

	// Username, not unique
	Username string `json:"username"`

	// User's display name
	GlobalName string `json:"global_name"`

	Bot bool `json:"bot"`

	// Traits describe the user to the AI, added with /add_trait
	Traits Traits `json:"traits" gorm:"type:text"`

	// LastSeen is the last interaction from this user, unix milliseconds
	LastSeen int64 `json:"last_seen"`

	ModelUnixTime
}

func NewUser(u discordgo.User) *User {
	return &User{
		ID:         u.ID,
		Username:   u.Username,
		GlobalName: u.GlobalName,
		Bot:        u.Bot,
		LastSeen:   time.Now().UTC().UnixMilli(),
	}
}

func (u *User) String() string {
	return fmt.Sprintf("%s [%s]", u.Username, u.ID)
}

// DisplayName prefers the global display name over the username
func (u *User) DisplayName() string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func userLogAttrs(u User) []any {
	return []any{
		"id", u.ID,
		"username", u.Username,
		"global_name", u.GlobalName,
	}
}

// Traits is stored as a JSON array
type Traits []string

func (t *Traits) Scan(value any) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*t = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unexpected type for Traits: %T", value)
	}
	if len(data) == 0 {
		*t = nil
		return nil
	}
	return json.Unmarshal(data, (*[]string)(t))
}

func (t Traits) Value() (driver.Value, error) {
	if t == nil {
		t = Traits{}
	}
	data, err := json.Marshal([]string(t))
	return string(data), err
}

// UserStore keeps track of users and their traits
type UserStore struct {
	db      *gorm.DB
	writeDB DBI
	logger  *slog.Logger
}

func NewUserStore(writeDB DBI, logger *slog.Logger) *UserStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserStore{db: writeDB.DB(), writeDB: writeDB, logger: logger}
}

// GetOrCreate returns the stored user for u, creating it on first sight
// and refreshing the name and last-seen time otherwise. The bool is true
// when the user was created.
func (s *UserStore) GetOrCreate(ctx context.Context, u discordgo.User) (*User, bool, error) {
	var user User
	created := false
	err := s.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			newUser := NewUser(u)
			rv := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(newUser)
			if rv.Error != nil {
				return rv.Error
			}
			if rv.RowsAffected > 0 {
				created = true
				user = *newUser
				return nil
			}

			if err := tx.Take(&user, "id = ?", u.ID).Error; err != nil {
				return err
			}
			user.LastSeen = newUser.LastSeen
			updates := map[string]any{columnUserLastSeen: user.LastSeen}
			if user.Username != u.Username || user.GlobalName != u.GlobalName {
				user.Username = u.Username
				user.GlobalName = u.GlobalName
				updates[columnUserUsername] = u.Username
				updates[columnUserGlobalName] = u.GlobalName
			}
			return tx.Model(&user).Updates(updates).Error
		},
	)
	if err != nil {
		return nil, false, fmt.Errorf("error getting user %s: %w", u.ID, err)
	}
	if created {
		contextLoggerOr(ctx, s.logger).InfoContext(ctx, "created user", "user", userLogAttrs(user))
	}
	return &user, created, nil
}

func (s *UserStore) Get(ctx context.Context, userID string) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// AddTrait appends trait to the user's traits, ignoring duplicates
// (case-insensitive). Returns the updated traits.
func (s *UserStore) AddTrait(ctx context.Context, userID string, trait string) (Traits, error) {
	trait = strings.TrimSpace(trait)
	switch {
	case trait == "":
		return nil, newValidationError(ErrInvalidTrait, "Please describe the trait.")
	case utf8.RuneCountInString(trait) > userMaxTraitLength:
		return nil, newValidationError(
			ErrInvalidTrait,
			"Traits can be at most %d characters.",
			userMaxTraitLength,
		)
	}

	var traits Traits
	err := s.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			var user User
			if err := tx.Take(&user, "id = ?", userID).Error; err != nil {
				return err
			}
			for _, existing := range user.Traits {
				if strings.EqualFold(existing, trait) {
					traits = user.Traits
					return nil
				}
			}
			if len(user.Traits) >= userMaxTraits {
				return newValidationError(
					ErrInvalidTrait,
					"You already have %d traits, which is the limit.",
					userMaxTraits,
				)
			}
			traits = append(user.Traits, trait)
			return tx.Model(&user).Update(columnUserTraits, traits).Error
		},
	)
	return traits, err
}
