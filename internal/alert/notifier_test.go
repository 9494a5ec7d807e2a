package alert

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/ledger-sniper-bot/internal/config"
)

// MockDiscordSession is a mock for the discordSession interface.
type MockDiscordSession struct {
	mock.Mock
}

func (m *MockDiscordSession) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	args := m.Called(recipientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*discordgo.Channel), args.Error(1)
}

func (m *MockDiscordSession) ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	args := m.Called(channelID, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*discordgo.Message), args.Error(1)
}

func (m *MockDiscordSession) Close() error {
	args := m.Called()
	return args.Error(0)
}

// newTestNotifier creates a notifier with a mocked session.
func newTestNotifier(t *testing.T, cfg config.DiscordConfig) (*DiscordNotifier, *MockDiscordSession) {
	notifier, err := NewDiscordNotifier(cfg, zap.NewNop())
	require.NoError(t, err)
	mockSession := new(MockDiscordSession)
	notifier.session = mockSession
	return notifier, mockSession
}

func TestNewDiscordNotifier(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		cfg := config.DiscordConfig{BotToken: "fake-token", UserID: "fake-user-id", BufferIntervalMinutes: 2}
		notifier, err := NewDiscordNotifier(cfg, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, cfg.UserID, notifier.userID)
		assert.NotNil(t, notifier.session)
		assert.Equal(t, 2*time.Minute, notifier.bufferInterval)
	})

	t.Run("zero interval defaults to a minute", func(t *testing.T) {
		notifier, err := NewDiscordNotifier(config.DiscordConfig{BotToken: "t", UserID: "u"}, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, time.Minute, notifier.bufferInterval)
	})

	t.Run("missing bot token", func(t *testing.T) {
		notifier, err := NewDiscordNotifier(config.DiscordConfig{UserID: "fake-user-id"}, zap.NewNop())
		assert.Nil(t, notifier)
		assert.EqualError(t, err, "discord bot token and user ID must be configured")
	})
}

func TestDiscordNotifier_Buffering(t *testing.T) {
	const (
		testUserID    = "test-user-id"
		testChannelID = "test-channel-id"
	)
	notifier, mockSession := newTestNotifier(t, config.DiscordConfig{BotToken: "fake-token", UserID: testUserID})
	notifier.bufferInterval = 50 * time.Millisecond

	mockSession.On("UserChannelCreate", testUserID).Return(&discordgo.Channel{ID: testChannelID}, nil).Once()
	mockSession.On("ChannelMessageSend", testChannelID, mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) {
			content := args.String(1)
			assert.Contains(t, content, "bought MintA")
			assert.Contains(t, content, "sold MintA")
			assert.True(t, strings.HasPrefix(content, "--- **Trade Report"))
		}).
		Return(&discordgo.Message{}, nil).
		Once()

	require.NoError(t, notifier.Send("bought MintA"))
	require.NoError(t, notifier.Send("sold MintA"))
	mockSession.AssertNotCalled(t, "ChannelMessageSend", mock.Anything, mock.Anything)

	time.Sleep(150 * time.Millisecond)
	mockSession.AssertExpectations(t)

	mockSession.On("Close").Return(nil).Once()
	assert.NoError(t, notifier.Close())
}

func TestDiscordNotifier_CloseSendsRemaining(t *testing.T) {
	const testUserID = "test-user-id"
	notifier, mockSession := newTestNotifier(t, config.DiscordConfig{BotToken: "fake-token", UserID: testUserID, BufferIntervalMinutes: 60})

	mockSession.On("UserChannelCreate", testUserID).Return(&discordgo.Channel{ID: "c"}, nil).Once()
	mockSession.On("ChannelMessageSend", "c", mock.MatchedBy(func(s string) bool {
		return strings.Contains(s, "final message")
	})).Return(&discordgo.Message{}, nil).Once()
	mockSession.On("Close").Return(nil).Once()

	require.NoError(t, notifier.Send("final message"))
	require.NoError(t, notifier.Close())
	mockSession.AssertExpectations(t)

	assert.NoError(t, notifier.Close(), "second close is a no-op")
}

func TestDiscordNotifier_ErrorHandling(t *testing.T) {
	cfg := config.DiscordConfig{BotToken: "fake-token", UserID: "test-user-id", BufferIntervalMinutes: 1}

	t.Run("send on closed notifier", func(t *testing.T) {
		notifier, mockSession := newTestNotifier(t, cfg)
		mockSession.On("Close").Return(nil).Once()
		require.NoError(t, notifier.Close())

		assert.EqualError(t, notifier.Send("should fail"), "notifier is closed")
	})

	t.Run("channel create error drops the batch", func(t *testing.T) {
		notifier, mockSession := newTestNotifier(t, cfg)
		notifier.bufferInterval = 10 * time.Millisecond

		mockSession.On("UserChannelCreate", cfg.UserID).Return(nil, errors.New("channel create failed")).Once()
		require.NoError(t, notifier.Send("test"))
		time.Sleep(50 * time.Millisecond)
		mockSession.AssertExpectations(t)

		mockSession.On("Close").Return(nil).Once()
		assert.NoError(t, notifier.Close())
		mockSession.AssertNotCalled(t, "ChannelMessageSend", mock.Anything, mock.Anything)
	})
}

func TestChunk(t *testing.T) {
	s := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8) + "\n" + strings.Repeat("c", 25)
	parts := chunk(s, 10)
	assert.Equal(t, []string{"aaaaaaaa\n", "bbbbbbbb\n", "cccccccccc", "cccccccccc", "ccccc"}, parts)
	for _, p := range parts {
		assert.LessOrEqual(t, len(p), 10)
	}
	assert.Equal(t, strings.Join(parts, ""), s)
}

func TestNoOpNotifier(t *testing.T) {
	var n Notifier = NewNoOpNotifier()
	assert.NoError(t, n.Send("x"))
	assert.NoError(t, n.Close())
}
