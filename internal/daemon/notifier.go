package daemon

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	notificationsDest      = "org.freedesktop.Notifications"
	notificationsPath      = "/org/freedesktop/Notifications"
	notificationsNotifyRPC = "org.freedesktop.Notifications.Notify"
)

// NotificationLevel indicates the severity of a desktop notification.
type NotificationLevel int

const (
	NotificationLevelInfo NotificationLevel = iota
	NotificationLevelWarning
	NotificationLevelError
)

// urgency maps a level onto the freedesktop urgency hint.
func (l NotificationLevel) urgency() byte {
	switch l {
	case NotificationLevelInfo:
		return 0
	case NotificationLevelError:
		return 2
	default:
		return 1
	}
}

func (l NotificationLevel) icon() string {
	switch l {
	case NotificationLevelInfo:
		return "dialog-information"
	case NotificationLevelError:
		return "dialog-error"
	default:
		return "dialog-warning"
	}
}

// SendFunc delivers a single desktop notification.
type SendFunc func(summary, body string, level NotificationLevel) error

// DesktopNotifier surfaces daemon events, mainly rejected config reloads,
// as desktop notifications. Repeats of the same key are rate limited.
type DesktopNotifier struct {
	mu     sync.Mutex
	logger *slog.Logger

	send SendFunc

	lastNotifyTime map[string]time.Time
	minInterval    time.Duration

	enabled bool
}

// NewDesktopNotifier creates a notifier that sends through the session bus.
func NewDesktopNotifier(logger *slog.Logger) *DesktopNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &DesktopNotifier{
		logger:         logger,
		send:           sessionBusSend,
		lastNotifyTime: make(map[string]time.Time),
		minInterval:    5 * time.Second,
	}
}

// SetSendFunc replaces the delivery function.
func (n *DesktopNotifier) SetSendFunc(send SendFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.send = send
}

// SetEnabled enables or disables notifications.
func (n *DesktopNotifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// SetMinInterval sets the minimum interval between notifications with the same key.
func (n *DesktopNotifier) SetMinInterval(interval time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.minInterval = interval
}

// Notify sends a notification unless disabled or rate limited. Delivery
// failures are logged and otherwise ignored.
func (n *DesktopNotifier) Notify(key, summary, body string, level NotificationLevel) {
	n.mu.Lock()
	if !n.enabled || n.send == nil {
		n.mu.Unlock()
		return
	}
	if last, ok := n.lastNotifyTime[key]; ok && time.Since(last) < n.minInterval {
		n.mu.Unlock()
		n.logger.Debug("desktop notification rate-limited", "key", key)
		return
	}
	n.lastNotifyTime[key] = time.Now()
	send := n.send
	n.mu.Unlock()

	if err := send(summary, body, level); err != nil {
		n.logger.Debug("failed to send desktop notification", "key", key, "error", err)
	}
}

// NotifyConfigError reports a rejected reload.
func (n *DesktopNotifier) NotifyConfigError(err error) {
	n.Notify(
		"config-error",
		"termsfx: configuration error",
		"The previous rules remain active. "+err.Error(),
		NotificationLevelWarning,
	)
}

// NotifyConfigReloaded reports a successful reload.
func (n *DesktopNotifier) NotifyConfigReloaded(rules int) {
	n.Notify(
		"config-reload",
		"termsfx: configuration reloaded",
		fmt.Sprintf("%d rules loaded.", rules),
		NotificationLevelInfo,
	)
}

func sessionBusSend(summary, body string, level NotificationLevel) error {
	conn, err := dbus.SessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}

	hints := map[string]dbus.Variant{
		"urgency":   dbus.MakeVariant(level.urgency()),
		"transient": dbus.MakeVariant(true),
	}

	obj := conn.Object(notificationsDest, dbus.ObjectPath(notificationsPath))
	call := obj.Call(notificationsNotifyRPC, 0,
		"termsfx",      // app_name
		uint32(0),      // replaces_id
		level.icon(),   // app_icon
		summary,        // summary
		body,           // body
		[]string{},     // actions
		hints,          // hints
		int32(5000),    // expire_timeout
	)
	if call.Err != nil {
		return fmt.Errorf("notify call failed: %w", call.Err)
	}
	return nil
}
