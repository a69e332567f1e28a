package services

import (
	"context"
	"fmt"
	"html"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"taskflow/internal/models"
	"taskflow/internal/repositories"
)

// TelegramSender is satisfied by *tgbotapi.BotAPI.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// MailSender is satisfied by *gomail.Dialer.
type MailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// NotificationService tells an assignee about a task handed to them.
// Delivery problems are logged and swallowed.
type NotificationService interface {
	NotifyAssignee(ctx context.Context, task *models.Task, prefix string)
}

type notificationService struct {
	users repositories.UserRepository
	tg    TelegramSender
	mail  MailSender
	from  string
	log   *zap.SugaredLogger
}

// NewNotificationService accepts nil senders; a channel without a sender is skipped.
func NewNotificationService(users repositories.UserRepository, tg TelegramSender, mail MailSender, from string, log *zap.SugaredLogger) NotificationService {
	return &notificationService{users: users, tg: tg, mail: mail, from: from, log: log}
}

// NewMailDialer wraps the SMTP settings into a gomail dialer.
func NewMailDialer(host string, port int, user, password string) *gomail.Dialer {
	return gomail.NewDialer(host, port, user, password)
}

func (s *notificationService) NotifyAssignee(ctx context.Context, task *models.Task, prefix string) {
	if task == nil || task.AssigneeID == nil {
		return
	}
	user, err := s.users.GetByID(ctx, *task.AssigneeID)
	if err != nil {
		s.log.Warnw("[notify][user][err]", "assignee_id", *task.AssigneeID, "err", err)
		return
	}

	if s.tg != nil && user.NotifyTasksTelegram && user.TelegramChatID != 0 {
		msg := tgbotapi.NewMessage(user.TelegramChatID, formatTaskHTML(prefix, task))
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		if _, err := s.tg.Send(msg); err != nil {
			s.log.Warnw("[notify][tg][err]", "task", task.Key(), "chat_id", user.TelegramChatID, "err", err)
			return
		}
		s.log.Infow("[notify][tg][ok]", "task", task.Key(), "user_id", user.ID)
		return
	}

	if s.mail != nil && user.Email != "" {
		m := gomail.NewMessage()
		m.SetHeader("From", s.from)
		m.SetHeader("To", user.Email)
		m.SetHeader("Subject", fmt.Sprintf("%s: %s", task.Key(), task.Title))
		m.SetBody("text/html", formatTaskHTML(prefix, task))
		if err := s.mail.DialAndSend(m); err != nil {
			s.log.Warnw("[notify][mail][err]", "task", task.Key(), "email", user.Email, "err", err)
			return
		}
		s.log.Infow("[notify][mail][ok]", "task", task.Key(), "user_id", user.ID)
		return
	}

	s.log.Debugw("[notify][skip] no channel", "task", task.Key(), "user_id", user.ID)
}

func formatTaskHTML(prefix string, t *models.Task) string {
	due := "-"
	if t.DueDate != nil {
		due = t.DueDate.Format("2006-01-02")
	}
	return prefix + "\n" +
		"• <b>" + html.EscapeString(t.Key()) + " " + html.EscapeString(t.Title) + "</b>\n" +
		"• Status: <code>" + string(t.Status) + "</code>\n" +
		"• Priority: <code>" + string(t.Priority) + "</code>\n" +
		"• Due: <code>" + due + "</code>"
}
