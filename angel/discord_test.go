package angel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChannelMessage struct {
	ChannelID string
	Content   string
	Data      *discordgo.MessageSend
}

// mockDiscordSession implements DiscordSessionHandler, recording what
// the bot sends instead of talking to discord
type mockDiscordSession struct {
	mu sync.Mutex

	opened       bool
	closed       bool
	identify     discordgo.Identify
	customStatus string
	handlers     []any
	commands     []*discordgo.ApplicationCommand
	messages     []stubChannelMessage
	responses    []*discordgo.InteractionResponse
	edits        []*discordgo.WebhookEdit
	followups    []*discordgo.WebhookParams

	// sendErr is returned from ChannelMessageSendComplex when set
	sendErr error

	guild    *discordgo.Guild
	channels []*discordgo.Channel
	roles    []*discordgo.Role
	guildErr error

	// history holds each channel's messages, newest first
	history     map[string][]*discordgo.Message
	historyErr  error
	historyReqs int
}

func newMockDiscordSession() *mockDiscordSession {
	return &mockDiscordSession{}
}

func (m *mockDiscordSession) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = true
	return nil
}

func (m *mockDiscordSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockDiscordSession) ChannelMessageSend(
	channelID string,
	content string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, stubChannelMessage{ChannelID: channelID, Content: content})
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (m *mockDiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.messages = append(
		m.messages,
		stubChannelMessage{ChannelID: channelID, Content: data.Content, Data: data},
	)
	return &discordgo.Message{ChannelID: channelID, Content: data.Content}, nil
}

func (m *mockDiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	_ string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := make([]*discordgo.ApplicationCommand, 0, len(commands))
	for _, cmd := range commands {
		c := *cmd
		c.ApplicationID = appID
		created = append(created, &c)
	}
	m.commands = created
	return created, nil
}

func (m *mockDiscordSession) UpdateCustomStatus(status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customStatus = status
	return nil
}

func (m *mockDiscordSession) AddHandler(handler any) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
	return func() {}
}

func (m *mockDiscordSession) InteractionRespond(
	_ *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	return nil
}

func (m *mockDiscordSession) InteractionResponseEdit(
	_ *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, newresp)
	return &discordgo.Message{}, nil
}

func (m *mockDiscordSession) FollowupMessageCreate(
	_ *discordgo.Interaction,
	_ bool,
	data *discordgo.WebhookParams,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.followups = append(m.followups, data)
	return &discordgo.Message{}, nil
}

func (m *mockDiscordSession) GuildWithCounts(
	guildID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Guild, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.guildErr != nil {
		return nil, m.guildErr
	}
	if m.guild == nil || m.guild.ID != guildID {
		return nil, errors.New("unknown guild")
	}
	g := *m.guild
	return &g, nil
}

func (m *mockDiscordSession) GuildChannels(
	_ string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels, nil
}

func (m *mockDiscordSession) GuildRoles(
	_ string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roles, nil
}

// ChannelMessages pages through history the way discord does for a
// before cursor. afterID and aroundID aren't used by the bot.
func (m *mockDiscordSession) ChannelMessages(
	channelID string,
	limit int,
	beforeID, _, _ string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.historyReqs++
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	if limit <= 0 || limit > 100 {
		return nil, fmt.Errorf("invalid limit %d", limit)
	}
	msgs := m.history[channelID]
	start := 0
	if beforeID != "" {
		start = len(msgs)
		for idx, msg := range msgs {
			if msg.ID == beforeID {
				start = idx + 1
				break
			}
		}
	}
	end := min(start+limit, len(msgs))
	return append([]*discordgo.Message(nil), msgs[start:end]...), nil
}

func (m *mockDiscordSession) SetIdentify(i discordgo.Identify) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identify = i
}

func (m *mockDiscordSession) SetLogLevel(slog.Level) error {
	return nil
}

func (m *mockDiscordSession) SetHTTPClient(*http.Client) {}

func (m *mockDiscordSession) Messages() []stubChannelMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]stubChannelMessage(nil), m.messages...)
}

func (m *mockDiscordSession) Responses() []*discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*discordgo.InteractionResponse(nil), m.responses...)
}

// interactionHandler returns the InteractionCreate handler the bot
// registered, so tests can feed it interactions
func (m *mockDiscordSession) interactionHandler(t testing.TB) func(*discordgo.Session, *discordgo.InteractionCreate) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.handlers {
		if fn, ok := h.(func(*discordgo.Session, *discordgo.InteractionCreate)); ok {
			return fn
		}
	}
	t.Fatal("no interaction handler registered")
	return nil
}

func (m *mockDiscordSession) connectHandler(t testing.TB) func(*discordgo.Session, *discordgo.Connect) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.handlers {
		if fn, ok := h.(func(*discordgo.Session, *discordgo.Connect)); ok {
			return fn
		}
	}
	t.Fatal("no connect handler registered")
	return nil
}

// stubInteractionHandler implements InteractionHandler for calling
// command handlers directly
type stubInteractionHandler struct {
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger

	mu        sync.Mutex
	responses []*discordgo.InteractionResponse
	edits     []*discordgo.WebhookEdit
	followups []*discordgo.WebhookParams
}

func newStubInteractionHandler(i *discordgo.InteractionCreate) *stubInteractionHandler {
	return &stubInteractionHandler{interaction: i, logger: slog.Default()}
}

func (s *stubInteractionHandler) Respond(_ context.Context, r *discordgo.InteractionResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, r)
	return nil
}

func (s *stubInteractionHandler) Edit(
	_ context.Context,
	e *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edits = append(s.edits, e)
	return &discordgo.Message{}, nil
}

func (s *stubInteractionHandler) Followup(
	_ context.Context,
	params *discordgo.WebhookParams,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.followups = append(s.followups, params)
	return &discordgo.Message{}, nil
}

func (s *stubInteractionHandler) GetInteraction() *discordgo.InteractionCreate {
	return s.interaction
}

func (s *stubInteractionHandler) Logger() *slog.Logger {
	return s.logger
}

// lastResponse returns the only response sent, failing otherwise
func (s *stubInteractionHandler) lastResponse(t testing.TB) *discordgo.InteractionResponse {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.responses, 1)
	return s.responses[0]
}

// lastEdit returns the final edit of the deferred response
func (s *stubInteractionHandler) lastEdit(t testing.TB) *discordgo.WebhookEdit {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.edits)
	return s.edits[len(s.edits)-1]
}

func newDiscordUser(t testing.TB) *discordgo.User {
	t.Helper()
	return &discordgo.User{
		ID:         "user-" + t.Name(),
		Username:   "frosty",
		GlobalName: "Frosty",
	}
}

func newCommandInteraction(
	u *discordgo.User,
	name string,
	options ...*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        "interaction-" + name,
			AppID:     testApplicationID,
			Type:      discordgo.InteractionApplicationCommand,
			ChannelID: testChannelID,
			GuildID:   testGuildID,
			Token:     "interaction-token",
			Member:    &discordgo.Member{User: u},
			Data: discordgo.ApplicationCommandInteractionData{
				ID:      "command-" + name,
				Name:    name,
				Options: options,
			},
		},
	}
}

func stringOption(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: value,
	}
}

func intOption(name string, value int) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionInteger,
		Value: float64(value),
	}
}

func boolOption(name string, value bool) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionBoolean,
		Value: value,
	}
}

func idOption(
	name string,
	optionType discordgo.ApplicationCommandOptionType,
	id string,
) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  optionType,
		Value: id,
	}
}

func TestReminderMessage(t *testing.T) {
	t.Parallel()
	base := Reminder{
		ModelUintID: ModelUintID{ID: 7},
		ChannelID:   testChannelID,
		CreatorID:   "creator",
		Message:     "Bear hunt in 5!",
		FireAt:      time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC).UnixMilli(),
	}

	t.Run(
		"no mention", func(t *testing.T) {
			msg := reminderMessage(base)
			assert.Empty(t, msg.Content)
			require.NotNil(t, msg.AllowedMentions)
			assert.Empty(t, msg.AllowedMentions.Parse)
			assert.Empty(t, msg.AllowedMentions.Users)
			assert.Empty(t, msg.AllowedMentions.Roles)
			require.Len(t, msg.Embeds, 1)
			assert.Equal(t, reminderEmbedTitle, msg.Embeds[0].Title)
			assert.Equal(t, base.Message, msg.Embeds[0].Description)
			assert.Equal(t, "Reminder #7", msg.Embeds[0].Footer.Text)
		},
	)

	t.Run(
		"role mention", func(t *testing.T) {
			r := base
			r.Mention, r.MentionID = MentionRole, "role-1"
			msg := reminderMessage(r)
			assert.Equal(t, "<@&role-1>", msg.Content)
			assert.Equal(t, []string{"role-1"}, msg.AllowedMentions.Roles)
			assert.Empty(t, msg.AllowedMentions.Parse)
		},
	)

	t.Run(
		"everyone", func(t *testing.T) {
			r := base
			r.Mention = MentionEveryone
			msg := reminderMessage(r)
			assert.Equal(t, "@everyone", msg.Content)
			assert.Equal(
				t,
				[]discordgo.AllowedMentionType{discordgo.AllowedMentionTypeEveryone},
				msg.AllowedMentions.Parse,
			)
		},
	)

	t.Run(
		"recurring", func(t *testing.T) {
			r := base
			r.Interval = Duration{Duration: day}
			msg := reminderMessage(r)
			var repeats string
			for _, f := range msg.Embeds[0].Fields {
				if f.Name == "Repeats" {
					repeats = f.Value
				}
			}
			assert.Equal(t, "every day", repeats)
		},
	)
}

func TestDiscord_SendReminder(t *testing.T) {
	t.Parallel()
	session := newMockDiscordSession()
	d := newDiscord(DefaultTestConfig(t).Discord, slog.Default())
	d.session = session

	r := Reminder{ChannelID: "chan-1", Message: "hi", Mention: MentionUser, MentionID: "u1"}
	require.NoError(t, d.SendReminder(context.Background(), r))

	msgs := session.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "chan-1", msgs[0].ChannelID)
	assert.Equal(t, "<@u1>", msgs[0].Content)

	session.sendErr = errors.New("missing access")
	assert.ErrorContains(t, d.SendReminder(context.Background(), r), "missing access")
}

func TestDiscord_RegisterCommands(t *testing.T) {
	t.Parallel()
	session := newMockDiscordSession()
	d := newDiscord(DefaultTestConfig(t).Discord, slog.Default())
	d.session = session

	created, err := d.registerCommands()
	require.NoError(t, err)
	assert.Len(t, created, len(appCommands()))

	names := make([]string, 0, len(created))
	for _, cmd := range created {
		assert.Equal(t, testApplicationID, cmd.ApplicationID)
		names = append(names, cmd.Name)
	}
	for name := range commandHandlers {
		assert.Contains(t, names, name)
	}
}

func TestDiscord_HandlerConnect(t *testing.T) {
	t.Parallel()
	session := newMockDiscordSession()
	cfg := DefaultTestConfig(t).Discord
	d := newDiscord(cfg, slog.Default())
	d.session = session

	d.handlerConnect()(nil, &discordgo.Connect{})
	assert.True(t, d.Connected())
	assert.Equal(t, cfg.CustomStatus, session.customStatus)

	msgs := session.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, testNotifyChannel, msgs[0].ChannelID)
	assert.Equal(t, cfg.StartupMessage, msgs[0].Content)

	d.handlerDisconnect()(nil, &discordgo.Disconnect{})
	assert.False(t, d.Connected())
	assert.Equal(t, int64(1), d.metricDisconnects.Load())
}

func TestGetDiscordUser(t *testing.T) {
	t.Parallel()
	member := &discordgo.User{ID: "member"}
	direct := &discordgo.User{ID: "direct"}

	guild := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{Member: &discordgo.Member{User: member}},
	}
	assert.Equal(t, member, getDiscordUser(guild))

	dm := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{User: direct}}
	assert.Equal(t, direct, getDiscordUser(dm))

	assert.Nil(t, getDiscordUser(&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}}))
}
