package bot

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"
	"pgregory.net/rapid"

	"task-reward-engine/internal/config"
)

// fakeContext implements the parts of tele.Context the middleware touches.
// Calling anything else panics through the nil embedded interface.
type fakeContext struct {
	tele.Context
	sender  *tele.User
	chat    *tele.Chat
	text    string
	replies []string
}

func (c *fakeContext) Sender() *tele.User { return c.sender }
func (c *fakeContext) Chat() *tele.Chat   { return c.chat }
func (c *fakeContext) Text() string       { return c.text }

func (c *fakeContext) Reply(what interface{}, _ ...interface{}) error {
	c.replies = append(c.replies, what.(string))
	return nil
}

func run(mw tele.MiddlewareFunc, c tele.Context) (bool, error) {
	called := false
	err := mw(func(tele.Context) error {
		called = true
		return nil
	})(c)
	return called, err
}

// TestAdminMiddlewareProperty checks that admin commands run if and only if
// the sender is in the configured admin list.
func TestAdminMiddlewareProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numAdmins := rapid.IntRange(0, 10).Draw(t, "numAdmins")
		adminIDs := make([]int64, numAdmins)
		adminSet := make(map[int64]bool)
		for i := range adminIDs {
			adminIDs[i] = rapid.Int64Range(1, 1000000000).Draw(t, "adminID")
			adminSet[adminIDs[i]] = true
		}
		cfg := &config.Config{Admin: config.AdminConfig{IDs: adminIDs}}

		var userID int64
		if numAdmins > 0 && rapid.Bool().Draw(t, "pickAdmin") {
			userID = adminIDs[rapid.IntRange(0, numAdmins-1).Draw(t, "adminIndex")]
		} else {
			userID = rapid.Int64Range(1, 1000000000).Draw(t, "userID")
		}

		c := &fakeContext{
			sender: &tele.User{ID: userID},
			chat:   &tele.Chat{ID: userID, Type: tele.ChatPrivate},
			text:   "/approve 1",
		}
		called, err := run(AdminMiddleware(cfg), c)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if called != adminSet[userID] {
			t.Fatalf("user %d admin=%v but handler called=%v", userID, adminSet[userID], called)
		}
		if !called && len(c.replies) != 1 {
			t.Fatalf("non-admin should get one permission reply, got %d", len(c.replies))
		}
	})
}

// TestPrivateChatMiddlewareProperty checks that only private chats reach handlers.
func TestPrivateChatMiddlewareProperty(t *testing.T) {
	chatTypes := []tele.ChatType{
		tele.ChatPrivate,
		tele.ChatGroup,
		tele.ChatSuperGroup,
		tele.ChatChannel,
		tele.ChatChannelPrivate,
	}
	rapid.Check(t, func(t *rapid.T) {
		chatType := rapid.SampledFrom(chatTypes).Draw(t, "chatType")
		c := &fakeContext{
			sender: &tele.User{ID: 1},
			chat:   &tele.Chat{ID: rapid.Int64().Draw(t, "chatID"), Type: chatType},
		}
		called, err := run(PrivateChatMiddleware(), c)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if called != (chatType == tele.ChatPrivate) {
			t.Fatalf("chat type %s: handler called=%v", chatType, called)
		}
	})
}

func TestPrivateChatMiddlewareNilChat(t *testing.T) {
	called, err := run(PrivateChatMiddleware(), &fakeContext{})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestRecoveryMiddleware(t *testing.T) {
	c := &fakeContext{}
	err := RecoveryMiddleware()(func(tele.Context) error {
		panic("boom")
	})(c)
	require.NoError(t, err)
	require.Len(t, c.replies, 1)
	assert.Contains(t, c.replies[0], "Internal error")

	boom := errors.New("boom")
	err = RecoveryMiddleware()(func(tele.Context) error { return boom })(c)
	assert.ErrorIs(t, err, boom)
}
