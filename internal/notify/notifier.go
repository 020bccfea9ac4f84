package notify

import (
	"context"
	"fmt"

	"orderflow/internal/database"
	"orderflow/internal/domain"
	"orderflow/internal/events"
	"orderflow/internal/repo"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Notifier turns order events into user notifications and chat messages.
// Every row it writes carries a key derived from the event ID, so a
// redelivered event writes nothing new.
type Notifier struct {
	tx            database.Transactor
	notifications repo.NotificationRepo
	chats         repo.ChatRepo
	printer       *message.Printer
	logger        *zap.Logger
}

func NewNotifier(
	tx database.Transactor,
	notifications repo.NotificationRepo,
	chats repo.ChatRepo,
	logger *zap.Logger,
) *Notifier {
	return &Notifier{
		tx:            tx,
		notifications: notifications,
		chats:         chats,
		printer:       message.NewPrinter(language.Indonesian),
		logger:        logger,
	}
}

func (n *Notifier) Register(bus *events.Bus) {
	bus.Subscribe(domain.EventOrderPaid, n.OnOrderPaid)
	bus.Subscribe(domain.EventOrderCancelled, n.OnOrderCancelled)
	bus.Subscribe(domain.EventRefundInitiated, n.OnRefundInitiated)
}

// OnOrderPaid opens the order chat, posts the order summary into it and tells
// the freelancer a new order is waiting for confirmation.
func (n *Notifier) OnOrderPaid(ctx context.Context, evt domain.Event) error {
	return n.tx.WithinTx(ctx, func(q database.Querier) error {
		chat, err := n.chats.EnsureChat(ctx, q, &domain.Chat{
			ID:           uuid.NewString(),
			OrderID:      evt.OrderID,
			ClientID:     evt.ClientID,
			FreelancerID: evt.FreelancerID,
			CreatedAt:    evt.OccurredAt,
		})
		if err != nil {
			return err
		}

		_, err = n.chats.AddMessage(ctx, q, &domain.ChatMessage{
			ID:       uuid.NewString(),
			ChatID:   chat.ID,
			SenderID: evt.ClientID,
			Type:     domain.ChatMessageOrderNotification,
			Content: fmt.Sprintf("Pesanan \"%s\" telah dibayar (%s). Menunggu konfirmasi freelancer.",
				evt.Title, n.formatIDR(evt.Amount)),
			DedupeKey: evt.ID + ":chat",
			CreatedAt: evt.OccurredAt,
		})
		if err != nil {
			return err
		}

		return n.notify(ctx, q, evt, evt.FreelancerID, domain.NotificationOrder,
			"Pesanan Baru",
			fmt.Sprintf("Pesanan \"%s\" sudah dibayar dan menunggu konfirmasi Anda.", evt.Title))
	})
}

func (n *Notifier) OnOrderCancelled(ctx context.Context, evt domain.Event) error {
	return n.tx.WithinTx(ctx, func(q database.Querier) error {
		switch evt.Cause {
		case domain.CausePaymentTimeout:
			return n.notify(ctx, q, evt, evt.ClientID, domain.NotificationPayment,
				"Pembayaran Kedaluwarsa",
				fmt.Sprintf("Waktu pembayaran untuk \"%s\" telah habis. Pesanan dibatalkan.", evt.Title))

		case domain.CauseConfirmationTimeout:
			err := n.notify(ctx, q, evt, evt.ClientID, domain.NotificationOrder,
				"Pesanan Dibatalkan",
				fmt.Sprintf("Pesanan \"%s\" dibatalkan karena freelancer tidak merespons tepat waktu. Refund akan diproses.", evt.Title))
			if err != nil {
				return err
			}
			return n.notify(ctx, q, evt, evt.FreelancerID, domain.NotificationOrder,
				"Pesanan Kedaluwarsa",
				fmt.Sprintf("Pesanan \"%s\" dibatalkan karena tidak dikonfirmasi tepat waktu.", evt.Title))

		default:
			return n.notify(ctx, q, evt, evt.ClientID, domain.NotificationPayment,
				"Pembayaran Dibatalkan",
				fmt.Sprintf("Pesanan \"%s\" dibatalkan: %s.", evt.Title, evt.Reason))
		}
	})
}

func (n *Notifier) OnRefundInitiated(ctx context.Context, evt domain.Event) error {
	return n.tx.WithinTx(ctx, func(q database.Querier) error {
		err := n.notify(ctx, q, evt, evt.ClientID, domain.NotificationRefund,
			"Refund Diproses",
			fmt.Sprintf("Refund sebesar %s untuk pesanan \"%s\" sedang diproses. %s",
				n.formatIDR(evt.Amount), evt.Title, evt.Reason))
		if err != nil {
			return err
		}
		return n.notify(ctx, q, evt, evt.FreelancerID, domain.NotificationOrder,
			"Pesanan Dibatalkan",
			fmt.Sprintf("Pesanan \"%s\" dibatalkan dan refund diproses untuk client. %s", evt.Title, evt.Reason))
	})
}

func (n *Notifier) notify(
	ctx context.Context,
	q database.Querier,
	evt domain.Event,
	userID string,
	typ domain.NotificationType,
	title, msg string,
) error {
	if userID == "" {
		return nil
	}
	created, err := n.notifications.CreateNotification(ctx, q, &domain.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   msg,
		OrderID:   evt.OrderID,
		DedupeKey: evt.ID + ":" + userID,
		CreatedAt: evt.OccurredAt,
	})
	if err != nil {
		return err
	}
	if !created {
		n.logger.Debug("Notification already delivered",
			zap.String("event_id", evt.ID),
			zap.String("user_id", userID),
		)
	}
	return nil
}

func (n *Notifier) formatIDR(amount int64) string {
	return n.printer.Sprintf("Rp%d", amount)
}
