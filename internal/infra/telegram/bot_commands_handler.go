// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"bra_notification_bot/internal/app"
	"bra_notification_bot/internal/command"
	"bra_notification_bot/internal/conversation"
	"bra_notification_bot/internal/domain/massif"
	"bra_notification_bot/internal/domain/messaging"
	"bra_notification_bot/internal/domain/subscription"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const (
	platform       = subscription.PlatformTelegram
	maxChoices     = 10
	unavailableMsg = "Une erreur est survenue. Réessayez dans un instant."
)

// SubscriberDeps groups the services used by the subscriber commands.
type SubscriberDeps struct {
	Subscriptions conversation.Subscriptions
	Massifs       conversation.MassifIndex
	Bulletins     conversation.BulletinProvider
	Deliverer     conversation.Deliverer
	Sender        messaging.Sender
	AdminID       int64
}

type subscriberHandlers struct {
	ctx    context.Context
	deps   SubscriberDeps
	logger *logrus.Entry
}

func recipientOf(c telebot.Context) string {
	if chat := c.Chat(); chat != nil {
		return strconv.FormatInt(chat.ID, 10)
	}
	return strconv.FormatInt(c.Sender().ID, 10)
}

// RegisterSubscriberHandlers registers the subscriber commands and the inline
// button callbacks.
func RegisterSubscriberHandlers(ctx context.Context, b *telebot.Bot, deps SubscriberDeps, baseLogger *logrus.Entry) {
	h := &subscriberHandlers{ctx: ctx, deps: deps, logger: baseLogger.WithField("handler_group", "subscriber")}

	b.Handle("/start", h.start)
	b.Handle("/help", h.help)
	b.Handle("/abonner", h.subscribeCommand)
	b.Handle("/desabonner", h.unsubscribeCommand)
	b.Handle("/abonnements", h.listCommand)
	b.Handle("/bra", h.bulletinCommand)
	b.Handle(telebot.OnCallback, h.callback)
}

func (h *subscriberHandlers) log(c telebot.Context, cmd string) *logrus.Entry {
	return h.logger.WithFields(logrus.Fields{"command": cmd, "recipient": recipientOf(c)})
}

func (h *subscriberHandlers) start(c telebot.Context) error {
	h.log(c, "/start").Info("Processing /start command")
	greeting := "Bonjour"
	if c.Sender() != nil && c.Sender().FirstName != "" {
		greeting += " " + c.Sender().FirstName
	}
	return c.Send(greeting + " ! Je vous envoie le bulletin d'estimation du risque d'avalanche (BRA) de Météo-France dès sa publication.\n\n" +
		"Exemples :\n/abonner Vanoise\n/bra Mont-Blanc\n/abonnements\n\n/help pour la liste des commandes.")
}

func (h *subscriberHandlers) help(c telebot.Context) error {
	h.log(c, "/help").Info("Processing /help command")
	var text strings.Builder
	text.WriteString("Commandes disponibles :\n\n")
	text.WriteString("/abonner <massif> - recevoir chaque nouveau BRA du massif\n")
	text.WriteString("/desabonner <massif|tout> - arrêter les envois\n")
	text.WriteString("/abonnements - voir et modifier vos abonnements\n")
	text.WriteString("/bra <massif> - recevoir le BRA actuel\n")
	if c.Sender() != nil && h.deps.AdminID != 0 && c.Sender().ID == h.deps.AdminID {
		text.WriteString("\nAdministration :\n")
		text.WriteString("/executions - dernières exécutions du pipeline\n")
		text.WriteString("/verifier - lancer une vérification maintenant\n")
	}
	return c.Send(text.String())
}

// pickMassif resolves a free-text massif argument. When it returns nil the
// user has already been answered (usage, not found or a choice of buttons).
func (h *subscriberHandlers) pickMassif(c telebot.Context, usage string, token func(code int) string) (*massif.Massif, error) {
	query := strings.TrimSpace(strings.Join(c.Args(), " "))
	if query == "" {
		return nil, c.Send(usage)
	}
	matches := h.deps.Massifs.SearchByName(query)
	switch len(matches) {
	case 0:
		return nil, c.Send(fmt.Sprintf("Je n'ai trouvé aucun massif pour « %s ».", query))
	case 1:
		return matches[0], nil
	}
	if len(matches) > maxChoices {
		matches = matches[:maxChoices]
	}
	buttons := make([]messaging.Button, len(matches))
	for i, m := range matches {
		buttons[i] = messaging.Button{ID: token(m.Code), Title: m.Name}
	}
	return nil, c.Send("Plusieurs massifs correspondent, lequel ?", &telebot.SendOptions{ReplyMarkup: inlineMarkup(buttons)})
}

func (h *subscriberHandlers) subscribeCommand(c telebot.Context) error {
	h.log(c, "/abonner").Info("Processing /abonner command")
	m, err := h.pickMassif(c, "Utilisation : /abonner <massif>, par exemple /abonner Vanoise", command.SubscribeToken)
	if m == nil {
		return err
	}
	return h.subscribe(c, m)
}

func (h *subscriberHandlers) unsubscribeCommand(c telebot.Context) error {
	h.log(c, "/desabonner").Info("Processing /desabonner command")
	if args := c.Args(); len(args) == 1 && strings.EqualFold(args[0], "tout") {
		return h.unsubscribeAll(c)
	}
	m, err := h.pickMassif(c, "Utilisation : /desabonner <massif> ou /desabonner tout", command.UnsubscribeToken)
	if m == nil {
		return err
	}
	return h.unsubscribe(c, m.Code)
}

func (h *subscriberHandlers) listCommand(c telebot.Context) error {
	h.log(c, "/abonnements").Info("Processing /abonnements command")
	return h.listSubscriptions(c)
}

func (h *subscriberHandlers) bulletinCommand(c telebot.Context) error {
	h.log(c, "/bra").Info("Processing /bra command")
	m, err := h.pickMassif(c, "Utilisation : /bra <massif>, par exemple /bra Vanoise", command.DownloadToken)
	if m == nil {
		return err
	}
	return h.deliver(c, m)
}

func (h *subscriberHandlers) massifName(code int) string {
	if m := h.deps.Massifs.ByCode(code); m != nil {
		return m.Name
	}
	return fmt.Sprintf("massif %d", code)
}

func (h *subscriberHandlers) subscribe(c telebot.Context, m *massif.Massif) error {
	rid := recipientOf(c)
	manage := []messaging.Button{
		{ID: command.ManageMassifToken(m.Code), Title: "Choisir les contenus"},
		{ID: command.DownloadToken(m.Code), Title: "Recevoir le BRA actuel"},
	}

	_, err := h.deps.Subscriptions.Get(h.ctx, platform, rid, m.Code)
	switch {
	case err == nil:
		return c.Send(fmt.Sprintf("Vous êtes déjà abonné à %s.", m.Name), &telebot.SendOptions{ReplyMarkup: inlineMarkup(manage)})
	case !errors.Is(err, app.ErrNotSubscribed):
		h.log(c, "subscribe").WithError(err).Error("Failed to read subscription")
		return c.Send(unavailableMsg)
	}

	if _, err := h.deps.Subscriptions.Subscribe(h.ctx, platform, rid, m.Code, subscription.DefaultPreferences()); err != nil {
		h.log(c, "subscribe").WithError(err).WithField("massif", m.Code).Error("Failed to subscribe")
		return c.Send(unavailableMsg)
	}
	return c.Send(fmt.Sprintf("✅ Abonné à %s. Vous recevrez chaque nouveau bulletin.", m.Name), &telebot.SendOptions{ReplyMarkup: inlineMarkup(manage)})
}

func (h *subscriberHandlers) unsubscribe(c telebot.Context, code int) error {
	err := h.deps.Subscriptions.Unsubscribe(h.ctx, platform, recipientOf(c), code)
	switch {
	case errors.Is(err, app.ErrNotSubscribed):
		return c.Send(fmt.Sprintf("Vous n'étiez pas abonné à %s.", h.massifName(code)))
	case err != nil:
		h.log(c, "unsubscribe").WithError(err).WithField("massif", code).Error("Failed to unsubscribe")
		return c.Send(unavailableMsg)
	}
	return c.Send(fmt.Sprintf("Vous êtes désabonné de %s.", h.massifName(code)))
}

func (h *subscriberHandlers) unsubscribeAll(c telebot.Context) error {
	n, err := h.deps.Subscriptions.UnsubscribeAll(h.ctx, platform, recipientOf(c))
	if err != nil {
		h.log(c, "unsubscribe_all").WithError(err).Error("Failed to unsubscribe from everything")
		return c.Send(unavailableMsg)
	}
	if n == 0 {
		return c.Send("Vous n'aviez aucun abonnement.")
	}
	return c.Send(fmt.Sprintf("%d abonnement(s) supprimé(s).", n))
}

func (h *subscriberHandlers) listSubscriptions(c telebot.Context) error {
	subs, err := h.deps.Subscriptions.ListForRecipient(h.ctx, platform, recipientOf(c))
	if err != nil {
		h.log(c, "list").WithError(err).Error("Failed to list subscriptions")
		return c.Send(unavailableMsg)
	}
	if len(subs) == 0 {
		return c.Send("Vous n'avez aucun abonnement. Utilisez /abonner <massif>.")
	}

	var text strings.Builder
	text.WriteString("Vos abonnements :\n")
	buttons := make([]messaging.Button, 0, len(subs)+1)
	for _, s := range subs {
		labels := make([]string, 0, len(subscription.AllContentTypes))
		for _, ct := range s.Preferences.Enabled() {
			labels = append(labels, ct.Label())
		}
		name := h.massifName(s.MassifCode)
		fmt.Fprintf(&text, "• %s : %s\n", name, strings.Join(labels, ", "))
		if len(buttons) < maxChoices-1 {
			buttons = append(buttons, messaging.Button{ID: command.ManageMassifToken(s.MassifCode), Title: "Modifier " + name})
		}
	}
	buttons = append(buttons, messaging.Button{ID: command.UnsubscribeAllToken(), Title: "Tout désabonner"})
	return c.Send(text.String(), &telebot.SendOptions{ReplyMarkup: inlineMarkup(buttons)})
}

func (h *subscriberHandlers) showManage(c telebot.Context, code int) error {
	sub, err := h.deps.Subscriptions.Get(h.ctx, platform, recipientOf(c), code)
	switch {
	case errors.Is(err, app.ErrNotSubscribed):
		return c.Send(fmt.Sprintf("Vous n'êtes pas abonné à %s.", h.massifName(code)))
	case err != nil:
		h.log(c, "manage").WithError(err).Error("Failed to read subscription")
		return c.Send(unavailableMsg)
	}

	buttons := make([]messaging.Button, 0, len(subscription.AllContentTypes)+1)
	for _, ct := range subscription.AllContentTypes {
		mark := "⬜"
		if sub.Preferences.Has(ct) {
			mark = "☑️"
		}
		buttons = append(buttons, messaging.Button{ID: command.ManageToggleToken(code, ct), Title: mark + " " + ct.Label()})
	}
	buttons = append(buttons, messaging.Button{ID: command.UnsubscribeToken(code), Title: "🚫 Se désabonner"})
	body := fmt.Sprintf("Abonnement %s : touchez un contenu pour l'activer ou le désactiver.", h.massifName(code))
	return c.Send(body, &telebot.SendOptions{ReplyMarkup: inlineMarkup(buttons)})
}

// deliver sends the current bulletin with the subscriber's preferences, or
// the default ones when not subscribed.
func (h *subscriberHandlers) deliver(c telebot.Context, m *massif.Massif) error {
	rid := recipientOf(c)
	log := h.log(c, "deliver").WithField("massif", m.Code)

	prefs := subscription.DefaultPreferences()
	if sub, err := h.deps.Subscriptions.Get(h.ctx, platform, rid, m.Code); err == nil {
		prefs = sub.Preferences
	}

	b, err := h.deps.Bulletins.LatestOrFetch(h.ctx, m.Code)
	if err != nil {
		log.WithError(err).Warn("No bulletin available on demand")
		return c.Send(fmt.Sprintf("Le bulletin de %s n'est pas disponible pour le moment.", m.Name))
	}
	recipient := subscription.Subscriber{RecipientID: rid, Preferences: prefs}
	if err := h.deps.Deliverer.DeliverTo(h.ctx, h.deps.Sender, b, m.Name, recipient); err != nil {
		log.WithError(err).Error("On-demand delivery failed")
		return c.Send("L'envoi du bulletin a échoué, réessayez plus tard.")
	}
	return nil
}
