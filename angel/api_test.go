package angel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAdminUsername = "admin"
	testAdminPassword = "hunter2hunter2"
)

type apiReminder struct {
	ID        uint   `json:"id"`
	ChannelID string `json:"channel_id"`
	Message   string `json:"message"`
}

func newTestAPI(t testing.TB) (*API, *Bot, *mockDiscordSession) {
	t.Helper()
	bot, session := newTestBot(t, nil)
	api, err := newAPI(bot, bot.config.API)
	require.NoError(t, err)
	bot.api = api
	require.NoError(
		t,
		SetAdminCredential(context.Background(), bot.writeDB, testAdminUsername, testAdminPassword),
	)
	return api, bot, session
}

// doRequest sends a request through the API's router. Requests are
// authenticated as the test admin unless auth is false.
func doRequest(
	t testing.TB,
	api *API,
	method, path string,
	auth bool,
) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if auth {
		req.SetBasicAuth(testAdminUsername, testAdminPassword)
	}
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)
	return w
}

func decodeBody(t testing.TB, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestAPI_HealthCheck(t *testing.T) {
	api, _, _ := newTestAPI(t)

	w := doRequest(t, api, http.MethodGet, apiHealthCheck, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(xRequestIDHeader))

	var resp healthCheckResponse
	decodeBody(t, w, &resp)
	assert.False(t, resp.DiscordConnected)
	assert.Equal(t, SchedulerIdle.String(), resp.SchedulerState)
	assert.Nil(t, resp.LastTick)
}

func TestAPI_Unauthorized(t *testing.T) {
	api, _, _ := newTestAPI(t)

	w := doRequest(t, api, http.MethodGet, apiPrefix+apiPathReminders, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, `Basic realm="angel"`, w.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, apiPrefix+apiPathReminders, nil)
	req.SetBasicAuth(testAdminUsername, "wrong password")
	w = httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, apiPrefix+apiPathReminders, nil)
	req.SetBasicAuth("nobody", testAdminPassword)
	w = httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_ChangePassword(t *testing.T) {
	api, bot, _ := newTestAPI(t)
	ctx := context.Background()

	require.NoError(t, SetAdminCredential(ctx, bot.writeDB, testAdminUsername, "a new password"))
	assert.Equal(t, http.StatusUnauthorized, doRequest(t, api, http.MethodGet, apiPrefix+apiPathGiftCodes, true).Code)

	req := httptest.NewRequest(http.MethodGet, apiPrefix+apiPathGiftCodes, nil)
	req.SetBasicAuth(testAdminUsername, "a new password")
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var count int64
	require.NoError(t, bot.db.Model(&AdminCredential{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	assert.Error(t, SetAdminCredential(ctx, bot.writeDB, " ", "pw"))
}

func TestAPI_Reminders(t *testing.T) {
	api, bot, session := newTestAPI(t)
	ctx := context.Background()

	due := &Reminder{
		ChannelID: "c1",
		CreatorID: "creator",
		Message:   "Crazy Joe incoming",
		FireAt:    time.Now().Add(-time.Minute).UnixMilli(),
	}
	later := &Reminder{
		ChannelID: "c2",
		CreatorID: "creator",
		Message:   "Canyon Clash signup",
		FireAt:    time.Now().Add(time.Hour).UnixMilli(),
	}
	for _, r := range []*Reminder{due, later} {
		_, err := bot.reminders.Create(ctx, r)
		require.NoError(t, err)
	}

	t.Run(
		"list", func(t *testing.T) {
			w := doRequest(t, api, http.MethodGet, apiPrefix+apiPathReminders, true)
			require.Equal(t, http.StatusOK, w.Code)
			var reminders []apiReminder
			decodeBody(t, w, &reminders)
			require.Len(t, reminders, 2)
			assert.Equal(t, due.ID, reminders[0].ID)

			w = doRequest(t, api, http.MethodGet, apiPrefix+apiPathReminders+"?channel_id=c2", true)
			require.Equal(t, http.StatusOK, w.Code)
			decodeBody(t, w, &reminders)
			require.Len(t, reminders, 1)
			assert.Equal(t, "Canyon Clash signup", reminders[0].Message)

			w = doRequest(t, api, http.MethodGet, apiPrefix+apiPathReminders+"?channel_id=nowhere", true)
			assert.JSONEq(t, "[]", w.Body.String())

			w = doRequest(t, api, http.MethodGet, apiPrefix+apiPathReminders+"?limit=1000", true)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		},
	)

	t.Run(
		"get", func(t *testing.T) {
			w := doRequest(t, api, http.MethodGet, fmt.Sprintf("%s/reminders/%d", apiPrefix, later.ID), true)
			require.Equal(t, http.StatusOK, w.Code)
			var r apiReminder
			decodeBody(t, w, &r)
			assert.Equal(t, later.ID, r.ID)
			assert.Equal(t, "c2", r.ChannelID)

			w = doRequest(t, api, http.MethodGet, apiPrefix+"/reminders/9999", true)
			assert.Equal(t, http.StatusNotFound, w.Code)

			w = doRequest(t, api, http.MethodGet, apiPrefix+"/reminders/abc", true)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		},
	)

	t.Run(
		"tick", func(t *testing.T) {
			w := doRequest(t, api, http.MethodPost, apiPrefix+apiPathSchedulerTick, true)
			require.Equal(t, http.StatusOK, w.Code)
			var result TickResult
			decodeBody(t, w, &result)
			assert.Equal(t, TickResult{Due: 1, Delivered: 1, Completed: 1}, result)

			msgs := session.Messages()
			require.Len(t, msgs, 1)
			assert.Equal(t, "c1", msgs[0].ChannelID)

			w = doRequest(t, api, http.MethodGet, fmt.Sprintf("%s/reminders/%d/deliveries", apiPrefix, due.ID), true)
			require.Equal(t, http.StatusOK, w.Code)
			var deliveries []ReminderDelivery
			decodeBody(t, w, &deliveries)
			require.Len(t, deliveries, 1)
			assert.Equal(t, deliveryOutcomeCompleted, deliveries[0].Outcome)

			w = doRequest(t, api, http.MethodGet, apiPrefix+apiHealthCheck, true)
			assert.Equal(t, http.StatusNotFound, w.Code)
			w = doRequest(t, api, http.MethodGet, apiHealthCheck, false)
			var health healthCheckResponse
			decodeBody(t, w, &health)
			assert.NotNil(t, health.LastTick)
		},
	)

	t.Run(
		"delete", func(t *testing.T) {
			path := fmt.Sprintf("%s/reminders/%d", apiPrefix, later.ID)
			w := doRequest(t, api, http.MethodDelete, path, true)
			require.Equal(t, http.StatusOK, w.Code)
			var reply httpReply
			decodeBody(t, w, &reply)
			assert.Equal(t, fmt.Sprintf("reminder %d deleted", later.ID), reply.Message)

			w = doRequest(t, api, http.MethodDelete, path, true)
			assert.Equal(t, http.StatusNotFound, w.Code)
		},
	)
}

func TestAPI_GiftCodes(t *testing.T) {
	api, bot, _ := newTestAPI(t)

	w := doRequest(t, api, http.MethodGet, apiPrefix+apiPathGiftCodes, true)
	require.Equal(t, http.StatusOK, w.Code)
	var list GiftCodeList
	decodeBody(t, w, &list)
	require.Len(t, list.Codes, 1)
	assert.Equal(t, "WOSTEST", list.Codes[0].Code)
	assert.False(t, list.Fallback)

	bot.giftCodes.fetcher = staticGiftCodes{
		codes: []GiftCode{{Code: "WOSFRESH", Expiry: giftCodeExpiryUnknown}},
	}
	w = doRequest(t, api, http.MethodPost, apiPrefix+apiPathGiftCodesRefresh, true)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &list)
	require.Len(t, list.Codes, 1)
	assert.Equal(t, "WOSFRESH", list.Codes[0].Code)
}

func TestAPI_RegisterCommands(t *testing.T) {
	api, _, session := newTestAPI(t)

	w := doRequest(t, api, http.MethodPost, apiPrefix+apiPathRegisterCommands, true)
	require.Equal(t, http.StatusCreated, w.Code)

	var created []map[string]any
	decodeBody(t, w, &created)
	assert.Len(t, created, len(appCommands()))

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Len(t, session.commands, len(appCommands()))
}

func TestAPI_CORS(t *testing.T) {
	api, _, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodOptions, apiPrefix+apiPathReminders, nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)

	assert.Less(t, w.Code, 300)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, apiHealthCheck, nil)
	req.Header.Set("Origin", "https://example.com")
	w = httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAPICORSConfig(t *testing.T) {
	t.Parallel()

	t.Run(
		"wildcard", func(t *testing.T) {
			cfg := DefaultConfig().API
			cfg.CORS.AllowOrigins = []string{"*"}
			cfg.CORS.AllowCredentials = true
			c := apiCORSConfig(cfg)
			assert.True(t, c.AllowAllOrigins)
			assert.Empty(t, c.AllowOrigins)
			assert.False(t, c.AllowCredentials)
			assert.NoError(t, c.Validate())
		},
	)

	t.Run(
		"explicit origins", func(t *testing.T) {
			cfg := DefaultConfig().API
			cfg.CORS.AllowOrigins = []string{"https://localhost:5000"}
			c := apiCORSConfig(cfg)
			assert.False(t, c.AllowAllOrigins)
			assert.Equal(t, []string{"https://localhost:5000"}, c.AllowOrigins)
			assert.Equal(t, DefaultAPICORSAllowCredentials, c.AllowCredentials)
		},
	)

	t.Run(
		"none configured", func(t *testing.T) {
			cfg := DefaultConfig().API
			cfg.Listen = "127.0.0.1:5050"
			c := apiCORSConfig(cfg)
			assert.Equal(t, []string{"http://127.0.0.1:5050"}, c.AllowOrigins)

			cfg.Development = true
			c = apiCORSConfig(cfg)
			assert.True(t, c.AllowAllOrigins)
			assert.False(t, c.AllowCredentials)
		},
	)
}

func TestAPI_Serve(t *testing.T) {
	api, _, _ := newTestAPI(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	api.listener = ln

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() {
		served <- api.Serve(ctx)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + apiHealthCheck)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "scheduler_state")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	require.NoError(t, api.Shutdown(shutdownCtx))
	select {
	case err = <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server didn't stop")
	}
}

func TestAPI_Users(t *testing.T) {
	api, bot, _ := newTestAPI(t)
	ctx := context.Background()

	u := newDiscordUser(t)
	newTestUser(t, bot, u)
	_, err := bot.users.AddTrait(ctx, u.ID, "runs a lancer march")
	require.NoError(t, err)
	require.NoError(t, bot.chats.SaveExchange(ctx, u.ID, "q", "a"))

	w := doRequest(t, api, http.MethodGet, apiPrefix+"/users/"+u.ID, true)
	require.Equal(t, http.StatusOK, w.Code)
	var user User
	decodeBody(t, w, &user)
	assert.Equal(t, "frosty", user.Username)
	assert.Equal(t, Traits{"runs a lancer march"}, user.Traits)

	w = doRequest(t, api, http.MethodGet, apiPrefix+"/users/nobody", true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, api, http.MethodDelete, apiPrefix+"/users/"+u.ID+"/history", true)
	require.Equal(t, http.StatusOK, w.Code)
	var reply httpReply
	decodeBody(t, w, &reply)
	assert.Equal(t, fmt.Sprintf("deleted 2 messages for user %s", u.ID), reply.Message)

	history, err := bot.chats.History(ctx, u.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}
