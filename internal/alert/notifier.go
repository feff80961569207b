package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"snapspend/internal/core"
)

type Notifier interface {
	Notify(ctx context.Context, a core.Alert) error
}

// Message renders the user-facing alert text.
func Message(a core.Alert) string {
	return fmt.Sprintf("You've spent %d%% of your budget for %s.", a.Percent, a.CollectionName)
}

// LogNotifier writes alerts to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, a core.Alert) error {
	n.logger.WarnContext(ctx, Message(a),
		"collection", a.CollectionName,
		"percent", a.Percent,
		"spent", core.FormatAmount(a.Spent),
		"budget", core.FormatAmount(a.Budget))
	return nil
}

// MultiNotifier delivers to every notifier and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, a core.Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, a core.Alert) error

func (f NotifierFunc) Notify(ctx context.Context, a core.Alert) error {
	return f(ctx, a)
}
