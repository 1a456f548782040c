// Package conversation drives the WhatsApp chat flow: search, disambiguation,
// content selection, on-demand delivery and subscription management.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bra_notification_bot/internal/app"
	"bra_notification_bot/internal/command"
	"bra_notification_bot/internal/domain/bulletin"
	"bra_notification_bot/internal/domain/geocode"
	"bra_notification_bot/internal/domain/massif"
	"bra_notification_bot/internal/domain/messaging"
	"bra_notification_bot/internal/domain/subscription"

	"github.com/sirupsen/logrus"
)

const (
	maxButtons  = 3
	maxListRows = 10
	platform    = subscription.PlatformWhatsApp
)

const apologyText = "Désolé, un problème est survenu. Réessayez dans un instant."

// MassifIndex is the read side of the massif directory.
type MassifIndex interface {
	ByCode(code int) *massif.Massif
	ByMountain(mountain string) []*massif.Massif
	Mountains() []string
	SearchByName(query string) []*massif.Massif
	FindByLocation(lat, lng float64) *massif.Massif
}

// Subscriptions is the subscription management used by the chat flow.
type Subscriptions interface {
	Subscribe(ctx context.Context, p subscription.Platform, recipientID string, massifCode int, prefs subscription.ContentPreferences) (*subscription.Subscription, error)
	Unsubscribe(ctx context.Context, p subscription.Platform, recipientID string, massifCode int) error
	UnsubscribeAll(ctx context.Context, p subscription.Platform, recipientID string) (int64, error)
	ListForRecipient(ctx context.Context, p subscription.Platform, recipientID string) ([]*subscription.Subscription, error)
	Get(ctx context.Context, p subscription.Platform, recipientID string, massifCode int) (*subscription.Subscription, error)
	ToggleContent(ctx context.Context, p subscription.Platform, recipientID string, massifCode int, ct subscription.ContentType) (*subscription.Subscription, error)
}

// BulletinProvider returns the current bulletin of a massif, fetching it when missing.
type BulletinProvider interface {
	LatestOrFetch(ctx context.Context, massifCode int) (*bulletin.Bulletin, error)
}

// Deliverer sends a bulletin to one recipient and records the delivery.
type Deliverer interface {
	DeliverTo(ctx context.Context, sender messaging.Sender, b *bulletin.Bulletin, massifName string, recipient subscription.Subscriber) error
}

// Router handles inbound WhatsApp messages one at a time per user.
type Router struct {
	messenger messaging.Messenger
	sessions  *SessionStore
	massifs   MassifIndex
	subs      Subscriptions
	bulletins BulletinProvider
	deliverer Deliverer
	geocoder  geocode.Geocoder // nil disables place search
	logger    *logrus.Entry
}

func NewRouter(
	messenger messaging.Messenger,
	sessions *SessionStore,
	massifs MassifIndex,
	subs Subscriptions,
	bulletins BulletinProvider,
	deliverer Deliverer,
	geocoder geocode.Geocoder,
	logger *logrus.Entry,
) *Router {
	return &Router{
		messenger: messenger,
		sessions:  sessions,
		massifs:   massifs,
		subs:      subs,
		bulletins: bulletins,
		deliverer: deliverer,
		geocoder:  geocoder,
		logger:    logger.WithField("component", "conversation_router"),
	}
}

// Handle processes one inbound message. It never returns an error: failures
// are logged and the user is brought back to the welcome screen.
func (r *Router) Handle(ctx context.Context, msg messaging.Inbound) {
	r.sessions.Sweep()
	log := r.logger.WithFields(logrus.Fields{"from": msg.From, "kind": msg.Kind})

	if msg.ID != "" {
		if err := r.messenger.MarkRead(ctx, msg.ID); err != nil {
			log.WithError(err).Debug("Failed to mark message as read")
		}
	}

	var err error
	switch msg.Kind {
	case messaging.InboundInteractive:
		cmd := command.Parse(msg.ReplyID)
		log = log.WithField("command", cmd.Kind)
		err = r.handleCommand(ctx, msg, cmd)
	case messaging.InboundLocation:
		err = r.handleLocation(ctx, msg)
	case messaging.InboundText:
		err = r.handleText(ctx, msg)
	default:
		err = r.sendWelcome(ctx, msg.From, msg.Name)
	}

	if err != nil {
		log.WithError(err).Error("Failed to handle message")
		r.sessions.Clear(msg.From)
		r.fallback(ctx, msg.From)
	}
}

func (r *Router) fallback(ctx context.Context, to string) {
	if err := r.messenger.SendText(ctx, to, apologyText); err != nil {
		r.logger.WithField("to", to).WithError(err).Warn("Failed to send apology")
		return
	}
	if err := r.sendWelcome(ctx, to, ""); err != nil {
		r.logger.WithField("to", to).WithError(err).Warn("Failed to send welcome after error")
	}
}

func (r *Router) react(ctx context.Context, msg messaging.Inbound, emoji string) {
	if msg.ID == "" {
		return
	}
	if err := r.messenger.React(ctx, msg.From, msg.ID, emoji); err != nil {
		r.logger.WithField("to", msg.From).WithError(err).Debug("Failed to react")
	}
}

func (r *Router) handleText(ctx context.Context, msg messaging.Inbound) error {
	query, _ := StripGreeting(msg.Text)
	if query == "" {
		r.sessions.Clear(msg.From)
		return r.sendWelcome(ctx, msg.From, msg.Name)
	}
	return r.search(ctx, msg, query)
}

// search resolves free text: name search first, then geocoding.
func (r *Router) search(ctx context.Context, msg messaging.Inbound, query string) error {
	matches := r.massifs.SearchByName(query)
	switch {
	case len(matches) == 1:
		r.react(ctx, msg, "🏔️")
		return r.showMassif(ctx, msg.From, matches[0], "")
	case len(matches) > 1:
		return r.showMatches(ctx, msg.From, matches)
	}

	if r.geocoder != nil {
		place, err := r.geocoder.Geocode(ctx, query)
		switch {
		case err != nil:
			r.logger.WithField("query", query).WithError(err).Warn("Geocoding failed")
		case place != nil:
			if m := r.massifs.FindByLocation(place.Lat, place.Lng); m != nil {
				r.react(ctx, msg, "📍")
				return r.showMassif(ctx, msg.From, m, fmt.Sprintf("📍 %s se trouve dans le massif %s.", place.Name, m.Name))
			}
			if err := r.messenger.SendText(ctx, msg.From, fmt.Sprintf("📍 %s n'est dans aucun massif couvert par les bulletins.", place.Name)); err != nil {
				return err
			}
			return r.sendWelcome(ctx, msg.From, "")
		}
	}

	if err := r.messenger.SendText(ctx, msg.From, fmt.Sprintf("Je n'ai trouvé aucun massif pour « %s ».", query)); err != nil {
		return err
	}
	return r.sendWelcome(ctx, msg.From, "")
}

func (r *Router) handleLocation(ctx context.Context, msg messaging.Inbound) error {
	m := r.massifs.FindByLocation(msg.Lat, msg.Lng)
	if m == nil {
		if err := r.messenger.SendText(ctx, msg.From, "Cette position n'est dans aucun massif couvert par les bulletins."); err != nil {
			return err
		}
		return r.sendWelcome(ctx, msg.From, "")
	}
	r.react(ctx, msg, "📍")
	return r.showMassif(ctx, msg.From, m, fmt.Sprintf("📍 Votre position se trouve dans le massif %s.", m.Name))
}

func (r *Router) handleCommand(ctx context.Context, msg messaging.Inbound, cmd command.Command) error {
	to := msg.From
	switch cmd.Kind {
	case command.Welcome:
		r.sessions.Clear(to)
		return r.sendWelcome(ctx, to, msg.Name)
	case command.Search:
		r.sessions.Clear(to)
		return r.messenger.SendText(ctx, to, "Écrivez le nom d'un massif ou d'une station (ex. « Vanoise », « Chamonix »), ou partagez votre position.")
	case command.Browse:
		return r.showMountains(ctx, to)
	case command.SelectMountain:
		return r.showMountainMassifs(ctx, to, cmd.Mountain, 0)
	case command.MoreMassifs:
		st := r.sessions.Get(to)
		if st.Mountain == "" {
			return r.showMountains(ctx, to)
		}
		return r.showMountainMassifs(ctx, to, st.Mountain, cmd.Offset)
	case command.SelectMassif:
		m := r.massifs.ByCode(cmd.MassifCode)
		if m == nil {
			return r.unknownMassif(ctx, to)
		}
		return r.showMassif(ctx, to, m, "")
	case command.Download:
		return r.startContentSelection(ctx, to, cmd.MassifCode, ActionDownload)
	case command.Subscribe:
		return r.startContentSelection(ctx, to, cmd.MassifCode, ActionSubscribe)
	case command.ToggleContent:
		return r.toggleContent(ctx, to, cmd.Content)
	case command.ConfirmContent:
		return r.confirmContent(ctx, to)
	case command.ManageMenu:
		return r.showSubscriptions(ctx, to)
	case command.ManageMassif:
		return r.showManageMassif(ctx, to, cmd.MassifCode)
	case command.ManageToggle:
		return r.manageToggle(ctx, to, cmd.MassifCode, cmd.Content)
	case command.Unsubscribe:
		return r.unsubscribe(ctx, to, cmd.MassifCode)
	case command.UnsubscribeAll:
		return r.unsubscribeAll(ctx, to)
	default:
		r.logger.WithField("token", cmd.Raw).Warn("Unknown callback token")
		r.sessions.Clear(to)
		return r.sendWelcome(ctx, to, "")
	}
}

func (r *Router) sendWelcome(ctx context.Context, to, name string) error {
	greeting := "Bonjour"
	if name != "" {
		greeting += " " + name
	}
	body := greeting + " 👋\n" +
		"Je vous envoie le bulletin d'estimation du risque d'avalanche (BRA) de Météo-France.\n\n" +
		"Écrivez le nom d'un massif ou d'une station, partagez votre position 📍 ou parcourez la liste."
	return r.messenger.SendButtons(ctx, to, body, []messaging.Button{
		{ID: command.BrowseToken(), Title: "Parcourir massifs"},
		{ID: command.SearchToken(), Title: "Rechercher"},
		{ID: command.ManageMenuToken(), Title: "Mes abonnements"},
	})
}

func (r *Router) unknownMassif(ctx context.Context, to string) error {
	r.sessions.Clear(to)
	if err := r.messenger.SendText(ctx, to, "Ce massif n'existe pas ou plus."); err != nil {
		return err
	}
	return r.sendWelcome(ctx, to, "")
}

// showMatches asks the user to pick among ambiguous search results: buttons
// for a few, a list capped at maxListRows otherwise.
func (r *Router) showMatches(ctx context.Context, to string, matches []*massif.Massif) error {
	r.sessions.Set(to, State{Step: StepSelectMassif, Action: ActionBrowse})

	if len(matches) <= maxButtons {
		buttons := make([]messaging.Button, len(matches))
		for i, m := range matches {
			buttons[i] = messaging.Button{ID: command.SelectMassifToken(m.Code), Title: m.Name}
		}
		return r.messenger.SendButtons(ctx, to, "Plusieurs massifs correspondent. Lequel vous intéresse ?", buttons)
	}

	shown := matches
	body := fmt.Sprintf("%d massifs correspondent à votre recherche.", len(matches))
	if len(shown) > maxListRows {
		shown = shown[:maxListRows]
		body += fmt.Sprintf(" Voici les %d premiers, précisez votre recherche si besoin.", maxListRows)
	}
	return r.messenger.SendList(ctx, to, body, "Choisir", []messaging.ListSection{{Title: "Massifs", Rows: massifRows(shown)}})
}

func massifRows(ms []*massif.Massif) []messaging.ListRow {
	rows := make([]messaging.ListRow, len(ms))
	for i, m := range ms {
		rows[i] = messaging.ListRow{ID: command.SelectMassifToken(m.Code), Title: m.Name, Description: m.Mountain}
	}
	return rows
}

func (r *Router) showMountains(ctx context.Context, to string) error {
	mountains := r.massifs.Mountains()
	if len(mountains) > maxListRows {
		mountains = mountains[:maxListRows]
	}
	rows := make([]messaging.ListRow, len(mountains))
	for i, name := range mountains {
		rows[i] = messaging.ListRow{
			ID:          command.MountainToken(name),
			Title:       name,
			Description: fmt.Sprintf("%d massifs", len(r.massifs.ByMountain(name))),
		}
	}
	r.sessions.Set(to, State{Step: StepSelectMountain, Action: ActionBrowse})
	return r.messenger.SendList(ctx, to, "Choisissez une chaîne de montagnes.", "Montagnes", []messaging.ListSection{{Title: "Montagnes", Rows: rows}})
}

// showMountainMassifs lists one page of a mountain's massifs. When more
// remain, the last row links to the next page.
func (r *Router) showMountainMassifs(ctx context.Context, to, mountain string, offset int) error {
	all := r.massifs.ByMountain(mountain)
	if len(all) == 0 {
		return r.showMountains(ctx, to)
	}
	if offset < 0 || offset >= len(all) {
		offset = 0
	}

	page := all[offset:]
	more := len(page) > maxListRows
	if more {
		page = page[:maxListRows-1]
	}
	rows := massifRows(page)
	if more {
		next := offset + len(page)
		rows = append(rows, messaging.ListRow{
			ID:          command.MoreMassifsToken(next),
			Title:       "Suite…",
			Description: fmt.Sprintf("%d autres massifs", len(all)-next),
		})
	}

	r.sessions.Set(to, State{Step: StepSelectMassif, Action: ActionBrowse, Mountain: mountain})
	body := fmt.Sprintf("Massifs de %s : choisissez-en un.", mountain)
	return r.messenger.SendList(ctx, to, body, "Massifs", []messaging.ListSection{{Title: mountain, Rows: rows}})
}

func (r *Router) showMassif(ctx context.Context, to string, m *massif.Massif, intro string) error {
	r.sessions.Set(to, State{Step: StepSelectMassif, Action: ActionBrowse, Mountain: m.Mountain, MassifCode: m.Code})

	var b strings.Builder
	if intro != "" {
		b.WriteString(intro)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "🏔️ *%s*", m.Name)
	if m.Mountain != "" {
		fmt.Fprintf(&b, " (%s)", m.Mountain)
	}
	b.WriteString("\nQue souhaitez-vous faire ?")

	return r.messenger.SendButtons(ctx, to, b.String(), []messaging.Button{
		{ID: command.DownloadToken(m.Code), Title: "Recevoir le BRA"},
		{ID: command.SubscribeToken(m.Code), Title: "S'abonner"},
		{ID: command.BrowseToken(), Title: "Autre massif"},
	})
}

func (r *Router) startContentSelection(ctx context.Context, to string, code int, action Action) error {
	m := r.massifs.ByCode(code)
	if m == nil {
		return r.unknownMassif(ctx, to)
	}
	prefs := subscription.DefaultPreferences()
	if action == ActionSubscribe {
		existing, err := r.subs.Get(ctx, platform, to, code)
		switch {
		case err == nil:
			prefs = existing.Preferences
		case !errors.Is(err, app.ErrNotSubscribed):
			return err
		}
	}
	st := State{Step: StepSelectContent, Action: action, Mountain: m.Mountain, MassifCode: code, Content: prefs}
	r.sessions.Set(to, st)
	return r.showContentSelection(ctx, to, st, m)
}

func checkbox(on bool) string {
	if on {
		return "☑️"
	}
	return "⬜"
}

func (r *Router) showContentSelection(ctx context.Context, to string, st State, m *massif.Massif) error {
	rows := make([]messaging.ListRow, 0, len(subscription.AllContentTypes)+1)
	for _, ct := range subscription.AllContentTypes {
		rows = append(rows, messaging.ListRow{
			ID:    command.ToggleContentToken(ct),
			Title: checkbox(st.Content.Has(ct)) + " " + ct.Label(),
		})
	}
	confirm := messaging.ListRow{ID: command.ConfirmContentToken(), Title: "✅ Valider", Description: "Recevoir maintenant"}
	if st.Action == ActionSubscribe {
		confirm.Description = "Confirmer l'abonnement"
	}
	rows = append(rows, confirm)

	body := fmt.Sprintf("Choisissez les contenus pour %s (touchez pour cocher ou décocher), puis validez.", m.Name)
	return r.messenger.SendList(ctx, to, body, "Contenus", []messaging.ListSection{{Title: "Contenus", Rows: rows}})
}

// selectionExpired handles callbacks that arrive after the session was lost.
func (r *Router) selectionExpired(ctx context.Context, to string) error {
	if err := r.messenger.SendText(ctx, to, "Cette sélection a expiré, recommencez s'il vous plaît."); err != nil {
		return err
	}
	return r.sendWelcome(ctx, to, "")
}

func (r *Router) toggleContent(ctx context.Context, to string, ct subscription.ContentType) error {
	st := r.sessions.Get(to)
	m := r.massifs.ByCode(st.MassifCode)
	if st.Step != StepSelectContent || m == nil {
		return r.selectionExpired(ctx, to)
	}
	st.Content.Toggle(ct)
	r.sessions.Set(to, st)
	return r.showContentSelection(ctx, to, st, m)
}

func (r *Router) confirmContent(ctx context.Context, to string) error {
	st := r.sessions.Get(to)
	m := r.massifs.ByCode(st.MassifCode)
	if st.Step != StepSelectContent || m == nil {
		return r.selectionExpired(ctx, to)
	}
	if st.Content.IsEmpty() {
		if err := r.messenger.SendText(ctx, to, "Sélectionnez au moins un contenu."); err != nil {
			return err
		}
		return r.showContentSelection(ctx, to, st, m)
	}

	switch st.Action {
	case ActionSubscribe:
		if _, err := r.subs.Subscribe(ctx, platform, to, m.Code, st.Content); err != nil {
			return err
		}
		r.sessions.Clear(to)
		body := fmt.Sprintf("✅ Abonnement enregistré pour %s (%s). Vous recevrez chaque nouveau bulletin.", m.Name, contentSummary(st.Content))
		return r.messenger.SendButtons(ctx, to, body, []messaging.Button{
			{ID: command.ManageMenuToken(), Title: "Mes abonnements"},
			{ID: command.WelcomeToken(), Title: "Menu"},
		})
	default:
		r.sessions.Clear(to)
		delivered, err := r.deliverNow(ctx, to, m, st.Content)
		if err != nil || !delivered {
			return err
		}
		body := fmt.Sprintf("Voulez-vous recevoir automatiquement les prochains bulletins de %s ?", m.Name)
		return r.messenger.SendButtons(ctx, to, body, []messaging.Button{
			{ID: command.SubscribeToken(m.Code), Title: "S'abonner"},
			{ID: command.WelcomeToken(), Title: "Menu"},
		})
	}
}

// deliverNow sends the latest bulletin. An unavailable bulletin is reported
// to the user and is not an error.
func (r *Router) deliverNow(ctx context.Context, to string, m *massif.Massif, prefs subscription.ContentPreferences) (bool, error) {
	b, err := r.bulletins.LatestOrFetch(ctx, m.Code)
	if err != nil {
		r.logger.WithField("massif", m.Code).WithError(err).Warn("No bulletin available on demand")
		if err := r.messenger.SendText(ctx, to, fmt.Sprintf("Le bulletin de %s n'est pas disponible pour le moment.", m.Name)); err != nil {
			return false, err
		}
		return false, r.sendWelcome(ctx, to, "")
	}
	recipient := subscription.Subscriber{RecipientID: to, Preferences: prefs}
	if err := r.deliverer.DeliverTo(ctx, r.messenger, b, m.Name, recipient); err != nil {
		return false, fmt.Errorf("deliver bulletin of massif %d: %w", m.Code, err)
	}
	return true, nil
}

func contentSummary(p subscription.ContentPreferences) string {
	labels := make([]string, 0, len(subscription.AllContentTypes))
	for _, ct := range p.Enabled() {
		labels = append(labels, ct.Label())
	}
	return strings.Join(labels, ", ")
}

func (r *Router) massifName(code int) string {
	if m := r.massifs.ByCode(code); m != nil {
		return m.Name
	}
	return fmt.Sprintf("massif %d", code)
}

func (r *Router) showSubscriptions(ctx context.Context, to string) error {
	r.sessions.Clear(to)
	subs, err := r.subs.ListForRecipient(ctx, platform, to)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		if err := r.messenger.SendText(ctx, to, "Vous n'avez aucun abonnement pour le moment."); err != nil {
			return err
		}
		return r.sendWelcome(ctx, to, "")
	}

	shown := subs
	if len(shown) > maxListRows-1 {
		shown = shown[:maxListRows-1]
	}
	rows := make([]messaging.ListRow, 0, len(shown)+1)
	for _, s := range shown {
		rows = append(rows, messaging.ListRow{
			ID:          command.ManageMassifToken(s.MassifCode),
			Title:       r.massifName(s.MassifCode),
			Description: contentSummary(s.Preferences),
		})
	}
	rows = append(rows, messaging.ListRow{ID: command.UnsubscribeAllToken(), Title: "🚫 Tout désabonner"})

	body := fmt.Sprintf("Vous êtes abonné à %d massif(s). Choisissez-en un pour modifier les contenus.", len(subs))
	return r.messenger.SendList(ctx, to, body, "Abonnements", []messaging.ListSection{{Title: "Abonnements", Rows: rows}})
}

func (r *Router) showManageMassif(ctx context.Context, to string, code int) error {
	sub, err := r.subs.Get(ctx, platform, to, code)
	if errors.Is(err, app.ErrNotSubscribed) {
		if err := r.messenger.SendText(ctx, to, fmt.Sprintf("Vous n'êtes pas abonné à %s.", r.massifName(code))); err != nil {
			return err
		}
		return r.showSubscriptions(ctx, to)
	}
	if err != nil {
		return err
	}

	r.sessions.Set(to, State{Step: StepSelectSubContent, MassifCode: code})
	rows := make([]messaging.ListRow, 0, len(subscription.AllContentTypes)+1)
	for _, ct := range subscription.AllContentTypes {
		rows = append(rows, messaging.ListRow{
			ID:    command.ManageToggleToken(code, ct),
			Title: checkbox(sub.Preferences.Has(ct)) + " " + ct.Label(),
		})
	}
	rows = append(rows, messaging.ListRow{ID: command.UnsubscribeToken(code), Title: "🚫 Se désabonner"})

	body := fmt.Sprintf("Abonnement %s : touchez un contenu pour l'activer ou le désactiver.", r.massifName(code))
	return r.messenger.SendList(ctx, to, body, "Modifier", []messaging.ListSection{{Title: "Contenus", Rows: rows}})
}

func (r *Router) manageToggle(ctx context.Context, to string, code int, ct subscription.ContentType) error {
	_, err := r.subs.ToggleContent(ctx, platform, to, code, ct)
	switch {
	case errors.Is(err, app.ErrNoContentSelected):
		if err := r.messenger.SendText(ctx, to, "Au moins un contenu doit rester actif. Pour tout arrêter, désabonnez-vous."); err != nil {
			return err
		}
	case err != nil && !errors.Is(err, app.ErrNotSubscribed):
		return err
	}
	return r.showManageMassif(ctx, to, code)
}

func (r *Router) unsubscribe(ctx context.Context, to string, code int) error {
	r.sessions.Clear(to)
	text := fmt.Sprintf("Vous êtes désabonné de %s.", r.massifName(code))
	err := r.subs.Unsubscribe(ctx, platform, to, code)
	switch {
	case errors.Is(err, app.ErrNotSubscribed):
		text = fmt.Sprintf("Vous n'étiez pas abonné à %s.", r.massifName(code))
	case err != nil:
		return err
	}
	return r.messenger.SendButtons(ctx, to, text, []messaging.Button{
		{ID: command.ManageMenuToken(), Title: "Mes abonnements"},
		{ID: command.WelcomeToken(), Title: "Menu"},
	})
}

func (r *Router) unsubscribeAll(ctx context.Context, to string) error {
	r.sessions.Clear(to)
	n, err := r.subs.UnsubscribeAll(ctx, platform, to)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("%d abonnement(s) supprimé(s). Vous ne recevrez plus de bulletins.", n)
	if n == 0 {
		text = "Vous n'aviez aucun abonnement."
	}
	return r.messenger.SendButtons(ctx, to, text, []messaging.Button{
		{ID: command.WelcomeToken(), Title: "Menu"},
	})
}
