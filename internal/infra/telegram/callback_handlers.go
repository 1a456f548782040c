package telegram

import (
	"errors"
	"fmt"
	"strings"

	"bra_notification_bot/internal/app"
	"bra_notification_bot/internal/command"
	"bra_notification_bot/internal/domain/massif"
	"bra_notification_bot/internal/domain/messaging"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// callback handles inline button presses. Tokens are the same as on WhatsApp.
func (h *subscriberHandlers) callback(c telebot.Context) error {
	data := strings.TrimPrefix(c.Callback().Data, "\f")
	cmd := command.Parse(data)
	log := h.logger.WithFields(logrus.Fields{"callback": cmd.Kind, "recipient": recipientOf(c)})
	log.Debug("Callback received")

	err := h.dispatch(c, cmd)
	if err != nil {
		log.WithError(err).Error("Failed to handle callback")
		return c.Respond(&telebot.CallbackResponse{Text: "Une erreur est survenue."})
	}
	return c.Respond()
}

func (h *subscriberHandlers) dispatch(c telebot.Context, cmd command.Command) error {
	withMassif := func(fn func(m *massif.Massif) error) error {
		m := h.deps.Massifs.ByCode(cmd.MassifCode)
		if m == nil {
			return c.Send("Ce massif n'existe pas ou plus.")
		}
		return fn(m)
	}

	switch cmd.Kind {
	case command.SelectMassif:
		return withMassif(func(m *massif.Massif) error {
			buttons := []messaging.Button{
				{ID: command.DownloadToken(m.Code), Title: "Recevoir le BRA"},
				{ID: command.SubscribeToken(m.Code), Title: "S'abonner"},
			}
			return c.Send(fmt.Sprintf("🏔️ %s : que souhaitez-vous faire ?", m.Name), &telebot.SendOptions{ReplyMarkup: inlineMarkup(buttons)})
		})
	case command.Subscribe:
		return withMassif(func(m *massif.Massif) error { return h.subscribe(c, m) })
	case command.Download:
		return withMassif(func(m *massif.Massif) error { return h.deliver(c, m) })
	case command.Unsubscribe:
		return h.unsubscribe(c, cmd.MassifCode)
	case command.UnsubscribeAll:
		return h.unsubscribeAll(c)
	case command.ManageMenu:
		return h.listSubscriptions(c)
	case command.ManageMassif:
		return h.showManage(c, cmd.MassifCode)
	case command.ManageToggle:
		_, err := h.deps.Subscriptions.ToggleContent(h.ctx, platform, recipientOf(c), cmd.MassifCode, cmd.Content)
		switch {
		case errors.Is(err, app.ErrNoContentSelected):
			if err := c.Send("Au moins un contenu doit rester actif. Pour tout arrêter, désabonnez-vous."); err != nil {
				return err
			}
		case err != nil && !errors.Is(err, app.ErrNotSubscribed):
			return err
		}
		return h.showManage(c, cmd.MassifCode)
	case command.Welcome:
		return h.start(c)
	default:
		return c.Send("Action inconnue. /help pour la liste des commandes.")
	}
}
