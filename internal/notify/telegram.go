// Package notify tells customers about settlements and refund decisions.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"rentalcore/internal/config"
	"rentalcore/internal/database"
	"rentalcore/internal/domain"
	"rentalcore/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

var _ domain.Notifier = (*TelegramNotifier)(nil)

// Sender is the part of *tgbotapi.BotAPI the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// NewBotAPI connects to Telegram. An empty endpoint means the public API.
func NewBotAPI(cfg config.TelegramConfig, client *http.Client, endpoint string) (*tgbotapi.BotAPI, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("telegram bot token is required")
	}
	if client == nil {
		client = &http.Client{}
	}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	return bot, nil
}

type TelegramNotifier struct {
	sender    Sender
	customers domain.CustomerRepository
	logger    *zerolog.Logger
}

func NewTelegramNotifier(sender Sender, customers domain.CustomerRepository, logger *zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{sender: sender, customers: customers, logger: logger}
}

func (n *TelegramNotifier) NotifySettlement(ctx context.Context, b *models.Booking) error {
	return n.send(ctx, b, settlementText(b))
}

func (n *TelegramNotifier) NotifyRefund(ctx context.Context, b *models.Booking) error {
	return n.send(ctx, b, refundText(b))
}

func (n *TelegramNotifier) send(ctx context.Context, b *models.Booking, text string) error {
	customer, err := n.customers.GetCustomer(ctx, b.UserID)
	if errors.Is(err, database.ErrCustomerNotFound) {
		n.logger.Debug().Int64("user_id", b.UserID).Msg("no customer record, skipping notification")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load customer %d: %w", b.UserID, err)
	}
	if customer.TelegramChatID == 0 {
		return nil
	}

	msg := tgbotapi.NewMessage(customer.TelegramChatID, text)
	msg.ParseMode = models.ParseModeMarkdown
	if _, err := n.sender.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	n.logger.Debug().Int64("booking_id", b.ID).Int64("chat_id", customer.TelegramChatID).Msg("notification sent")
	return nil
}

func settlementText(b *models.Booking) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*Rental #%d completed*\n\n", b.ID)
	fmt.Fprintf(&sb, "Paid: %s (%s)\n", money(b.FullPaymentAmount), escape(string(b.FullPaymentMethod)))
	if b.LateHours > 0 {
		fmt.Fprintf(&sb, "Late return: %d h, fee %s\n", b.LateHours, money(b.LateFee))
	}
	if damage := b.ChargedDamage(); damage > 0 {
		fmt.Fprintf(&sb, "Damage: %s\n", money(damage))
	}
	sb.WriteString("\nThank you for riding with us!")
	return sb.String()
}

func refundText(b *models.Booking) string {
	if b.RefundStatus == models.RefundRejected {
		text := fmt.Sprintf("*Refund for booking #%d was declined*", b.ID)
		if b.RefundReason != "" {
			text += "\n\nReason: " + escape(b.RefundReason)
		}
		return text
	}
	return fmt.Sprintf("*Refund for booking #%d processed*\n\nAmount: %s (%s)",
		b.ID, money(b.RefundAmount), escape(string(b.RefundType)))
}

func money(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}
