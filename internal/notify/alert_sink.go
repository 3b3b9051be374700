package notify

import (
	"context"
	"fmt"

	"github.com/farrukhsid/brokerledger/internal/domain"
)

// Event types emitted by the ledger. Configure the notifier's event filter
// with a subset of these.
const (
	EventTradeOpened  = "trade_opened"
	EventTradeClosed  = "trade_closed"
	EventSLHit        = "sl_hit"
	EventTPHit        = "tp_hit"
	EventRiskWarning  = "risk_warning"
	EventRiskCritical = "risk_critical"
)

// AlertSink adapts the Notifier to domain.AlertSink so the wallet service
// can deliver daily-loss alerts without knowing about channels or filters.
type AlertSink struct {
	notifier *Notifier
}

// NewAlertSink wraps a Notifier.
func NewAlertSink(n *Notifier) *AlertSink {
	return &AlertSink{notifier: n}
}

// SendRiskAlert formats and dispatches a daily-loss alert. Warning and
// critical alerts carry distinct event types so operators can filter on
// severity.
func (s *AlertSink) SendRiskAlert(ctx context.Context, a domain.RiskAlert) error {
	event := EventRiskWarning
	title := "Daily loss warning"
	if a.Level == domain.AlertCritical {
		event = EventRiskCritical
		title = "Daily loss limit breached"
	}

	message := fmt.Sprintf("account %s: daily loss %s of limit %s",
		a.AccountID, a.DailyLoss.StringFixed(2), a.Limit.StringFixed(2))

	return s.notifier.Notify(ctx, event, title, message)
}

var _ domain.AlertSink = (*AlertSink)(nil)
