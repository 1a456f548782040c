package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bra_notification_bot/internal/app"
	"bra_notification_bot/internal/domain/cronrun"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const recentExecutionsLimit = 5

const unauthorizedMsg = "Erreur : vous n'avez pas les droits pour cette commande."

// RegisterAdminHandlers registers the operator commands. Authorization is
// checked by the admin service.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, adminService *app.AdminService, baseLogger *logrus.Entry) {
	b.Handle("/executions", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/executions",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		executions, err := adminService.RecentExecutions(ctx, c.Sender().ID, recentExecutionsLimit)
		if err != nil {
			if errors.Is(err, app.ErrAdminNotAuthorized) {
				handlerLogger.Warn("Unauthorized access attempt")
				return c.Send(unauthorizedMsg)
			}
			handlerLogger.WithError(err).Error("Failed to list executions")
			return c.Send("Impossible de lire l'historique des exécutions.")
		}
		if len(executions) == 0 {
			return c.Send("Aucune exécution enregistrée.")
		}

		var response strings.Builder
		response.WriteString("Dernières exécutions :\n")
		for _, e := range executions {
			response.WriteString(FormatExecution(e))
			response.WriteString("\n")
		}
		return c.Send(response.String())
	})

	b.Handle("/verifier", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/verifier",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		exec, err := adminService.TriggerRun(ctx, c.Sender().ID)
		switch {
		case errors.Is(err, app.ErrAdminNotAuthorized):
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send(unauthorizedMsg)
		case errors.Is(err, app.ErrRunInProgress):
			return c.Send("Une vérification est déjà en cours.")
		case exec == nil:
			handlerLogger.WithError(err).Error("Pipeline run could not start")
			return c.Send("La vérification n'a pas pu démarrer.")
		}
		return c.Send("Vérification terminée.\n" + FormatExecution(exec))
	})
}

// FormatExecution renders one execution on a single line.
func FormatExecution(e *cronrun.Execution) string {
	line := fmt.Sprintf("• %s %s (%s) : %s",
		e.StartedAt.UTC().Format("02/01 15:04"),
		e.Status,
		e.Duration.Round(100 * time.Millisecond),
		e.Summary)
	if e.Status == cronrun.StatusFailed {
		line += fmt.Sprintf(" [étape %s : %s]", e.FailedStage, e.Error)
	}
	return line
}
