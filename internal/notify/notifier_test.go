package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farrukhsid/brokerledger/internal/domain"
)

// fakeSender records delivered messages and can fail on demand.
type fakeSender struct {
	name     string
	err      error
	titles   []string
	messages []string
}

func (s *fakeSender) Send(_ context.Context, title, message string) error {
	if s.err != nil {
		return s.err
	}
	s.titles = append(s.titles, title)
	s.messages = append(s.messages, message)
	return nil
}

func (s *fakeSender) Name() string { return s.name }

func newTestNotifier(events []string, senders ...Sender) *Notifier {
	return NewNotifier(senders, events, slog.New(slog.DiscardHandler))
}

func TestNotifyFiltersEvents(t *testing.T) {
	sender := &fakeSender{name: "test"}
	n := newTestNotifier([]string{EventSLHit}, sender)

	require.NoError(t, n.Notify(context.Background(), EventTradeOpened, "opened", "msg"))
	assert.Empty(t, sender.titles, "filtered event must not reach senders")

	require.NoError(t, n.Notify(context.Background(), EventSLHit, "stop hit", "msg"))
	assert.Equal(t, []string{"stop hit"}, sender.titles)
}

func TestNotifyEmptyFilterAllowsAll(t *testing.T) {
	sender := &fakeSender{name: "test"}
	n := newTestNotifier(nil, sender)

	require.NoError(t, n.Notify(context.Background(), "anything", "title", "msg"))
	assert.Len(t, sender.titles, 1)
}

func TestNotifyAllBypassesFilter(t *testing.T) {
	sender := &fakeSender{name: "test"}
	n := newTestNotifier([]string{EventSLHit}, sender)

	require.NoError(t, n.NotifyAll(context.Background(), "title", "msg"))
	assert.Len(t, sender.titles, 1)
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	broken := &fakeSender{name: "broken", err: errors.New("down")}
	healthy := &fakeSender{name: "healthy"}
	n := newTestNotifier(nil, broken, healthy)

	err := n.Notify(context.Background(), "evt", "title", "msg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Len(t, healthy.titles, 1, "one failing sender must not block the rest")
}

func TestNotifierNoSenders(t *testing.T) {
	n := newTestNotifier(nil)
	assert.NoError(t, n.Notify(context.Background(), "evt", "title", "msg"))
}

func TestAlertSinkSeverityEvents(t *testing.T) {
	sender := &fakeSender{name: "test"}
	// Only critical alerts configured; warnings are filtered.
	sink := NewAlertSink(newTestNotifier([]string{EventRiskCritical}, sender))

	alert := domain.RiskAlert{
		AccountID: uuid.New(),
		Level:     domain.AlertWarning,
		DailyLoss: decimal.RequireFromString("430"),
		Limit:     decimal.RequireFromString("500"),
		At:        time.Now(),
	}
	require.NoError(t, sink.SendRiskAlert(context.Background(), alert))
	assert.Empty(t, sender.titles)

	alert.Level = domain.AlertCritical
	alert.DailyLoss = decimal.RequireFromString("530")
	require.NoError(t, sink.SendRiskAlert(context.Background(), alert))
	require.Len(t, sender.titles, 1)
	assert.Equal(t, "Daily loss limit breached", sender.titles[0])
	assert.Contains(t, sender.messages[0], "530.00")
	assert.Contains(t, sender.messages[0], "500.00")
}
