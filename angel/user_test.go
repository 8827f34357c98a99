package angel

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUserStore(t testing.TB) *UserStore {
	t.Helper()
	return NewUserStore(NewDatabase(setupTestDB(t), nil, false), nil)
}

func TestUserStore_GetOrCreate(t *testing.T) {
	t.Parallel()
	store := newTestUserStore(t)
	ctx := context.Background()
	du := discordgo.User{ID: "u1", Username: "frosty", GlobalName: "Frosty"}

	user, created, err := store.GetOrCreate(ctx, du)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Frosty", user.DisplayName())
	assert.NotZero(t, user.LastSeen)
	firstSeen := user.LastSeen

	du.GlobalName = ""
	du.Username = "frosty_renamed"
	user, created, err = store.GetOrCreate(ctx, du)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "frosty_renamed", user.DisplayName())
	assert.GreaterOrEqual(t, user.LastSeen, firstSeen)

	stored, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "frosty_renamed", stored.Username)
	assert.Empty(t, stored.GlobalName)
	assert.Equal(t, "frosty_renamed [u1]", stored.String())

	_, err = store.Get(ctx, "nobody")
	assert.True(t, isRecordNotFound(err))
}

func TestUserStore_AddTrait(t *testing.T) {
	t.Parallel()
	store := newTestUserStore(t)
	ctx := context.Background()
	_, _, err := store.GetOrCreate(ctx, discordgo.User{ID: "u1", Username: "frosty"})
	require.NoError(t, err)

	traits, err := store.AddTrait(ctx, "u1", "  furnace level 25  ")
	require.NoError(t, err)
	assert.Equal(t, Traits{"furnace level 25"}, traits)

	traits, err = store.AddTrait(ctx, "u1", "FURNACE LEVEL 25")
	require.NoError(t, err)
	assert.Equal(t, Traits{"furnace level 25"}, traits)

	traits, err = store.AddTrait(ctx, "u1", "plays infantry")
	require.NoError(t, err)
	assert.Equal(t, Traits{"furnace level 25", "plays infantry"}, traits)

	user, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, traits, user.Traits)

	_, err = store.AddTrait(ctx, "u1", "   ")
	assert.ErrorIs(t, err, ErrInvalidTrait)
	_, err = store.AddTrait(ctx, "u1", strings.Repeat("a", userMaxTraitLength+1))
	assert.ErrorIs(t, err, ErrInvalidTrait)
	_, err = store.AddTrait(ctx, "u1", strings.Repeat("❄", userMaxTraitLength))
	assert.NoError(t, err, "length is counted in runes")

	_, err = store.AddTrait(ctx, "nobody", "a trait")
	assert.Error(t, err)
}

func TestUserStore_AddTrait_Limit(t *testing.T) {
	t.Parallel()
	store := newTestUserStore(t)
	ctx := context.Background()
	_, _, err := store.GetOrCreate(ctx, discordgo.User{ID: "u1", Username: "frosty"})
	require.NoError(t, err)

	for i := 0; i < userMaxTraits; i++ {
		_, err = store.AddTrait(ctx, "u1", fmt.Sprintf("trait %d", i))
		require.NoError(t, err)
	}

	_, err = store.AddTrait(ctx, "u1", "one too many")
	assert.ErrorIs(t, err, ErrInvalidTrait)
	assert.Equal(
		t,
		fmt.Sprintf("❌ You already have %d traits, which is the limit.", userMaxTraits),
		userErrorMessage(err, "generic"),
	)

	// a duplicate isn't an addition
	traits, err := store.AddTrait(ctx, "u1", "trait 0")
	require.NoError(t, err)
	assert.Len(t, traits, userMaxTraits)
}

func TestTraits_ScanValue(t *testing.T) {
	t.Parallel()

	v, err := Traits(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	v, err = Traits{"a", "b"}.Value()
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, v)

	var traits Traits
	require.NoError(t, traits.Scan(`["x"]`))
	assert.Equal(t, Traits{"x"}, traits)
	require.NoError(t, traits.Scan([]byte(`["y","z"]`)))
	assert.Equal(t, Traits{"y", "z"}, traits)
	require.NoError(t, traits.Scan(nil))
	assert.Nil(t, traits)
	require.NoError(t, traits.Scan(""))
	assert.Nil(t, traits)

	assert.Error(t, traits.Scan(42))
	assert.Error(t, traits.Scan("not json"))
}
