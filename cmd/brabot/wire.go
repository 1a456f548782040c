package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bra_notification_bot/internal/app"
	"bra_notification_bot/internal/conversation"
	"bra_notification_bot/internal/domain/geocode"
	"bra_notification_bot/internal/domain/messaging"
	"bra_notification_bot/internal/domain/subscription"
	"bra_notification_bot/internal/infra/alert"
	"bra_notification_bot/internal/infra/config"
	idb "bra_notification_bot/internal/infra/database"
	igeocode "bra_notification_bot/internal/infra/geocode"
	"bra_notification_bot/internal/infra/logger"
	"bra_notification_bot/internal/infra/meteofrance"
	"bra_notification_bot/internal/infra/storage"
	"bra_notification_bot/internal/infra/telegram"
	"bra_notification_bot/internal/infra/whatsapp"
	"bra_notification_bot/internal/massifs"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// components is the wired object graph shared by the run and serve commands.
type components struct {
	cfg *config.AppConfig
	log *logrus.Entry

	db       *sql.DB
	bot      *telebot.Bot
	uploader *storage.GCSUploader
	alerts   *alert.TelegramNotifier

	telegram *telegram.TelebotAdapter
	whatsapp *whatsapp.Client

	massifs       *massifs.Directory
	subscriptions *app.SubscriptionService
	fetcher       *app.BulletinFetcher
	dispatcher    *app.DeliveryDispatcher
	orchestrator  *app.CronOrchestrator
	admin         *app.AdminService
	geocoder      geocode.Geocoder
}

// loadConfig reads the configuration and initialises the process logger.
func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("could not load application configuration: %w", err)
	}
	logger.Init(cfg)
	return cfg, nil
}

// wire builds every component. When poll is set the Telegram bot receives
// updates by long polling.
func wire(ctx context.Context, cfg *config.AppConfig, poll bool) (_ *components, err error) {
	c := &components{cfg: cfg, log: logger.For("main")}
	base := logrus.NewEntry(logger.Log)
	defer func() {
		if err != nil {
			c.close()
		}
	}()

	if c.db, err = idb.NewPostgresConnection(ctx, cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}
	c.log.Info("Database connection established")

	massifRepo := idb.NewPostgresMassifRepository(c.db)
	bulletinRepo := idb.NewPostgresBulletinRepository(c.db)
	subscriptionRepo := idb.NewPostgresSubscriptionRepository(c.db)
	deliveryRepo := idb.NewPostgresDeliveryRepository(c.db)
	execRepo := idb.NewPostgresCronExecutionRepository(c.db)

	if c.massifs, err = massifs.Load(ctx, massifRepo); err != nil {
		return nil, err
	}
	c.log.WithField("massifs", len(c.massifs.All())).Info("Massif directory loaded")

	settings := telebot.Settings{
		Token: cfg.TelegramToken,
		OnError: func(err error, tc telebot.Context) {
			entry := logger.For("telebot").WithError(err)
			if tc != nil && tc.Sender() != nil {
				entry = entry.WithField("sender_id", tc.Sender().ID)
			}
			entry.Error("Telegram handler error")
		},
	}
	if poll {
		settings.Poller = &telebot.LongPoller{Timeout: 10 * time.Second}
	}
	if c.bot, err = telebot.NewBot(settings); err != nil {
		return nil, fmt.Errorf("could not create Telegram bot: %w", err)
	}
	c.telegram = telegram.NewTelebotAdapter(c.bot)
	c.alerts = alert.NewTelegramNotifier(c.telegram, cfg.AdminTelegramID, base)

	c.whatsapp = whatsapp.NewClient(whatsapp.Config{
		AccessToken:   cfg.WhatsAppAccessToken,
		PhoneNumberID: cfg.WhatsAppPhoneNumberID,
		TemplateName:  cfg.WhatsAppTemplateName,
		TemplateLang:  cfg.WhatsAppTemplateLang,
	}, nil, base)

	if c.uploader, err = storage.NewGCSUploader(ctx, cfg.GCSBucket, base); err != nil {
		return nil, err
	}

	upstream := meteofrance.NewClient(meteofrance.Config{
		BaseURL:           cfg.MeteoFranceBaseURL,
		APIKey:            cfg.MeteoFranceAPIKey,
		RequestsPerMinute: cfg.MeteoFranceRequestsPerMin,
		Timeout:           cfg.UpstreamTimeout,
	}, base)

	if cfg.GoogleMapsAPIKey != "" {
		google, err := igeocode.NewGoogleGeocoder(igeocode.GoogleConfig{APIKey: cfg.GoogleMapsAPIKey}, base)
		if err != nil {
			return nil, err
		}
		c.geocoder = igeocode.NewCachedGeocoder(google, idb.NewPostgresGeocodeCacheRepository(c.db), base)
	} else {
		c.log.Warn("GOOGLE_MAPS_API_KEY not set, place search disabled")
	}

	checker := app.NewFreshnessChecker(subscriptionRepo, bulletinRepo, upstream, c.alerts, cfg.UpstreamTimeout, cfg.FetchConcurrency, base)
	c.fetcher = app.NewBulletinFetcher(bulletinRepo, upstream, upstream, c.uploader, c.massifs, c.alerts, cfg.ScratchDir, cfg.FetchConcurrency, base)
	planner := app.NewDeliveryPlanner(subscriptionRepo, deliveryRepo, c.massifs, base)
	c.dispatcher = app.NewDeliveryDispatcher(deliveryRepo, upstream, c.alerts, app.DispatcherConfig{
		BatchSizes: map[subscription.Platform]int{
			subscription.PlatformTelegram: cfg.TelegramBatchSize,
			subscription.PlatformWhatsApp: cfg.WhatsAppBatchSize,
		},
		BatchDelay: cfg.BatchDelay,
	}, base)
	c.orchestrator = app.NewCronOrchestrator(checker, c.fetcher, planner, c.dispatcher, bulletinRepo,
		[]messaging.Sender{c.telegram, c.whatsapp}, execRepo, base)
	c.subscriptions = app.NewSubscriptionService(subscriptionRepo, c.massifs, base)
	c.admin = app.NewAdminService(execRepo, c.orchestrator, cfg.AdminTelegramID)

	return c, nil
}

// router builds the WhatsApp conversation router.
func (c *components) router() *conversation.Router {
	return conversation.NewRouter(
		c.whatsapp,
		conversation.NewSessionStore(conversation.SessionTTL),
		c.massifs,
		c.subscriptions,
		c.fetcher,
		c.dispatcher,
		c.geocoder,
		logrus.NewEntry(logger.Log),
	)
}

// registerTelegram installs the subscriber and admin command handlers.
func (c *components) registerTelegram(ctx context.Context) {
	base := logger.For("telegram_handlers")
	telegram.RegisterSubscriberHandlers(ctx, c.bot, telegram.SubscriberDeps{
		Subscriptions: c.subscriptions,
		Massifs:       c.massifs,
		Bulletins:     c.fetcher,
		Deliverer:     c.dispatcher,
		Sender:        c.telegram,
		AdminID:       c.cfg.AdminTelegramID,
	}, base)
	telegram.RegisterAdminHandlers(ctx, c.bot, c.admin, base)
}

// close flushes pending alerts and releases connections.
func (c *components) close() {
	if c.alerts != nil {
		c.alerts.Close()
	}
	if c.uploader != nil {
		if err := c.uploader.Close(); err != nil {
			c.log.WithError(err).Warn("Failed to close storage client")
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.log.WithError(err).Warn("Failed to close database")
		}
	}
}
