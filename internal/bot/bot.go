// Package bot provides the Telegram bot initialization and handler registration.
package bot

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"task-reward-engine/internal/config"
	"task-reward-engine/internal/handler"
	"task-reward-engine/internal/pkg/lock"
	"task-reward-engine/internal/service"
)

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot *tele.Bot
	cfg *config.Config

	// Handlers
	accountHandler *handler.AccountHandler
	taskHandler    *handler.TaskHandler
	adminHandler   *handler.AdminHandler
	rankingHandler *handler.RankingHandler
}

// Dependencies holds all the dependencies needed by the bot handlers.
type Dependencies struct {
	Config      *config.Config
	Wallets     *service.WalletService
	Tasks       *service.TaskService
	StopPoints  *service.StopPointService
	Commissions *service.CommissionService
	Rankings    *service.RankingService
	UserLock    *lock.UserLock
}

// NewTelebot creates the telebot client. It is created before the services so
// that the notifier can send through it.
func NewTelebot(cfg *config.BotConfig) (*tele.Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	pref := tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return teleBot, nil
}

// New wires handlers onto teleBot.
func New(teleBot *tele.Bot, deps *Dependencies) *Bot {
	timeout := deps.Config.Lock.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	b := &Bot{
		bot:            teleBot,
		cfg:            deps.Config,
		accountHandler: handler.NewAccountHandler(deps.Wallets, deps.UserLock, timeout),
		taskHandler:    handler.NewTaskHandler(deps.Tasks, deps.UserLock, timeout),
		adminHandler: handler.NewAdminHandler(
			deps.Wallets, deps.Tasks, deps.StopPoints, deps.Commissions, deps.UserLock, timeout,
		),
		rankingHandler: handler.NewRankingHandler(deps.Rankings),
	}

	b.registerMiddleware()
	b.registerHandlers()

	return b
}

// registerMiddleware registers all middleware.
func (b *Bot) registerMiddleware() {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(PrivateChatMiddleware())
	b.bot.Use(LoggingMiddleware())
}

// registerHandlers registers all command and callback handlers.
func (b *Bot) registerHandlers() {
	b.bot.Handle("/start", b.accountHandler.HandleStart)
	b.bot.Handle("/balance", b.accountHandler.HandleBalance)
	b.bot.Handle("/recharge", b.accountHandler.HandleRecharge)
	b.bot.Handle("/history", b.accountHandler.HandleHistory)

	b.bot.Handle("/task", b.taskHandler.HandleTask)
	b.bot.Handle("/complete", b.taskHandler.HandleComplete)

	b.bot.Handle("/top", b.rankingHandler.HandleDailyTop)

	adminGroup := b.bot.Group()
	adminGroup.Use(AdminMiddleware(b.cfg))
	adminGroup.Handle("/pending", b.adminHandler.HandlePending)
	adminGroup.Handle("/approve", b.adminHandler.HandleApprove)
	adminGroup.Handle("/reject", b.adminHandler.HandleReject)
	adminGroup.Handle("/limit", b.adminHandler.HandleLimit)
	adminGroup.Handle("/stoppoint", b.adminHandler.HandleStopPoint)
	adminGroup.Handle("/stoppoints", b.adminHandler.HandleStopPoints)
	adminGroup.Handle("/adjust", b.adminHandler.HandleAdjust)
	adminGroup.Handle("/reset", b.adminHandler.HandleReset)
	adminGroup.Handle("/addproduct", b.adminHandler.HandleAddProduct)

	b.bot.Handle(tele.OnCallback, b.handleCallback)
}

// handleCallback routes inline button presses.
func (b *Bot) handleCallback(c tele.Context) error {
	callback := c.Callback()
	if callback == nil {
		return nil
	}

	unique, payload := handler.ParseCallback(callback.Data)
	log.Debug().Str("unique", unique).Str("payload", payload).Msg("Callback received")

	switch unique {
	case handler.CallbackComplete:
		return b.taskHandler.HandleCompleteCallback(c, payload)
	default:
		return c.Respond()
	}
}

// Start starts the bot polling. It blocks until Stop is called.
func (b *Bot) Start() {
	log.Info().Str("username", b.bot.Me.Username).Msg("Starting bot...")
	b.bot.Start()
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.bot.Stop()
}
