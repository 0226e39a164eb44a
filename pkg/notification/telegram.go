package notification

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/raykavin/tradedash/pkg/logger"
	tb "gopkg.in/tucnak/telebot.v2"
)

// TelegramSettings configures the operator bot
type TelegramSettings struct {
	Token string
	Users []int
}

// ReportFunc renders the current dashboard state for the /status command
type ReportFunc func() string

// Telegram notifies authorized users and answers their status queries
type Telegram struct {
	settings TelegramSettings
	report   ReportFunc
	client   *tb.Bot
	log      logger.Logger
}

// NewTelegram creates the bot. Messages from users not listed in settings are ignored.
func NewTelegram(settings TelegramSettings, report ReportFunc, log logger.Logger) (*Telegram, error) {
	poller := &tb.LongPoller{Timeout: 10 * time.Second}

	client, err := tb.NewBot(tb.Settings{
		ParseMode: tb.ModeMarkdown,
		Token:     settings.Token,
		Poller:    authMiddleware(poller, settings.Users, log),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	if err := client.SetCommands([]tb.Command{
		{Text: "/help", Description: "Display help instructions"},
		{Text: "/status", Description: "Connected dashboards and their feeds"},
	}); err != nil {
		return nil, fmt.Errorf("failed to set commands: %w", err)
	}

	bot := &Telegram{
		settings: settings,
		report:   report,
		client:   client,
		log:      log,
	}

	client.Handle("/help", bot.HelpHandle)
	client.Handle("/status", bot.StatusHandle)

	return bot, nil
}

func authMiddleware(poller *tb.LongPoller, users []int, log logger.Logger) *tb.MiddlewarePoller {
	return tb.NewMiddlewarePoller(poller, func(u *tb.Update) bool {
		if u.Message == nil || u.Message.Sender == nil {
			log.Debug("ignoring telegram update without sender")
			return false
		}

		if slices.Contains(users, int(u.Message.Sender.ID)) {
			return true
		}

		log.WithField("user", u.Message.Sender.ID).Warn("unauthorized telegram user")
		return false
	})
}

// Start polls for commands in the background
func (t *Telegram) Start() {
	go t.client.Start()
	t.Notify("Dashboard monitor started.")
}

// Stop ends polling
func (t *Telegram) Stop() {
	t.client.Stop()
}

// Notify sends text to every authorized user
func (t *Telegram) Notify(text string) {
	for _, user := range t.settings.Users {
		if _, err := t.client.Send(&tb.User{ID: int64(user)}, text); err != nil {
			t.log.WithError(err).Error("failed to send telegram notification")
		}
	}
}

func (t *Telegram) sendMessage(to *tb.User, text string) {
	if _, err := t.client.Send(to, text); err != nil {
		t.log.WithError(err).Error("failed to send telegram message")
	}
}

func (t *Telegram) HelpHandle(m *tb.Message) {
	commands, err := t.client.GetCommands()
	if err != nil {
		t.log.WithError(err).Error("failed to get telegram commands")
		return
	}

	lines := make([]string, 0, len(commands))
	for _, command := range commands {
		lines = append(lines, fmt.Sprintf("/%s - %s", strings.TrimPrefix(command.Text, "/"), command.Description))
	}

	t.sendMessage(m.Sender, strings.Join(lines, "\n"))
}

func (t *Telegram) StatusHandle(m *tb.Message) {
	t.sendMessage(m.Sender, statusMessage(t.report()))
}

func statusMessage(report string) string {
	if strings.TrimSpace(report) == "" {
		return "No dashboards connected."
	}
	return "*DASHBOARDS*\n```\n" + report + "```"
}
