package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecon/internal/device"
	"github.com/srg/blecon/internal/ringchan"
)

// Notification is a delivered characteristic value change.
type Notification struct {
	Characteristic string
	UUID           string
	Data           []byte
	Text           string
	Received       time.Time
}

type subscription struct {
	entry  *CharacteristicEntry
	primed atomic.Bool
	active atomic.Bool
}

// SubscriptionManager tracks notify registrations, one per characteristic.
//
// The first value after a subscription is enabled is treated as stale and
// dropped. Later values are rendered, pushed to the notification feed and
// handed to a waiter armed through Wait, if any.
type SubscriptionManager struct {
	subs   *hashmap.Map[string, *subscription]
	render func([]byte) string
	feed   *ringchan.RingChannel[Notification]
	slot   waitSlot
	logger *logrus.Logger
}

func NewSubscriptionManager(render func([]byte) string, bufferSize int, logger *logrus.Logger) *SubscriptionManager {
	if logger == nil {
		logger = logrus.New()
	}
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &SubscriptionManager{
		subs:   hashmap.New[string, *subscription](),
		render: render,
		feed:   ringchan.New[Notification](bufferSize),
		logger: logger,
	}
}

// Len returns the number of active subscriptions.
func (m *SubscriptionManager) Len() int {
	return m.subs.Len()
}

// Names returns the display names of the subscribed characteristics.
func (m *SubscriptionManager) Names() []string {
	var names []string
	m.subs.Range(func(_ string, sub *subscription) bool {
		names = append(names, sub.entry.Name())
		return true
	})
	return names
}

// Notifications is the feed of delivered values. Old values are overwritten
// when the consumer falls behind.
func (m *SubscriptionManager) Notifications() <-chan Notification {
	return m.feed.C()
}

func (m *SubscriptionManager) Subscribe(ctx context.Context, entry *CharacteristicEntry) error {
	id := entry.char.ID()
	if _, ok := m.subs.Get(id); ok {
		return fmt.Errorf("%w: %s", ErrAlreadySubscribed, entry.Name())
	}

	sub := &subscription{entry: entry}
	sub.active.Store(true)
	err := entry.char.SetNotify(ctx, true, func(data []byte) {
		m.onValueChanged(sub, data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", entry.Name(), platformError(err))
	}

	m.subs.Set(id, sub)
	m.logger.WithFields(logrus.Fields{
		"characteristic": entry.Name(),
		"subscriptions":  m.subs.Len(),
	}).Info("Subscribed to value changes")
	return nil
}

func (m *SubscriptionManager) Unsubscribe(ctx context.Context, entry *CharacteristicEntry) error {
	id := entry.char.ID()
	sub, ok := m.subs.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, entry.Name())
	}

	if err := sub.entry.char.SetNotify(ctx, false, nil); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", entry.Name(), platformError(err))
	}
	sub.active.Store(false)
	m.subs.Del(id)

	m.logger.WithField("characteristic", entry.Name()).Info("Unsubscribed from value changes")
	return nil
}

// UnsubscribeAll disables every subscription and empties the set, even when
// the platform rejects some of the disable requests.
func (m *SubscriptionManager) UnsubscribeAll(ctx context.Context) error {
	var ids []string
	m.subs.Range(func(id string, _ *subscription) bool {
		ids = append(ids, id)
		return true
	})

	var errs []error
	for _, id := range ids {
		sub, ok := m.subs.Get(id)
		if !ok {
			continue
		}
		sub.active.Store(false)
		m.subs.Del(id)

		if err := sub.entry.char.SetNotify(ctx, false, nil); err != nil {
			m.logger.WithError(err).WithField("characteristic", sub.entry.Name()).Warn("Failed to disable notifications")
			errs = append(errs, fmt.Errorf("%s: %w", sub.entry.Name(), platformError(err)))
		}
	}

	if len(ids) > 0 {
		m.logger.WithField("count", len(ids)).Info("Unsubscribed from all value changes")
	}
	return errors.Join(errs...)
}

// Wait blocks until the next delivered notification or until timeout elapses.
// Only one value is handed over per arming; values arriving with no waiter
// reach the feed only.
func (m *SubscriptionManager) Wait(ctx context.Context, timeout time.Duration) (Notification, error) {
	ch := m.slot.arm()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case n := <-ch:
		return n, nil
	case <-timer.C:
		return m.disarm(ch, fmt.Errorf("%w: no notification within %v", device.ErrTimeout, timeout))
	case <-ctx.Done():
		return m.disarm(ch, ctx.Err())
	}
}

func (m *SubscriptionManager) disarm(ch chan Notification, cause error) (Notification, error) {
	m.slot.disarm(ch)
	select {
	case n := <-ch:
		return n, nil
	default:
		return Notification{}, cause
	}
}

// Close releases the notification feed. Subscriptions must already be removed.
func (m *SubscriptionManager) Close() {
	m.feed.Close()
}

func (m *SubscriptionManager) onValueChanged(sub *subscription, data []byte) {
	if !sub.active.Load() {
		return
	}

	logger := m.logger.WithField("characteristic", sub.entry.Name())
	if sub.primed.CompareAndSwap(false, true) {
		logger.Debug("Discarding initial notification")
		return
	}

	value := make([]byte, len(data))
	copy(value, data)
	n := Notification{
		Characteristic: sub.entry.Name(),
		UUID:           sub.entry.UUID(),
		Data:           value,
		Text:           m.render(value),
		Received:       time.Now(),
	}

	if m.feed.Send(n) {
		logger.Debug("Notification feed full, oldest value dropped")
	}
	logger.WithField("value", n.Text).Info("Value changed")
	m.slot.signal(n)
}

// waitSlot is a one-shot hand-off: arm, then at most one signal is delivered.
type waitSlot struct {
	mu sync.Mutex
	ch chan Notification
}

func (s *waitSlot) arm() chan Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		s.ch = make(chan Notification, 1)
	}
	return s.ch
}

func (s *waitSlot) signal(n Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		return false
	}
	s.ch <- n
	s.ch = nil
	return true
}

func (s *waitSlot) disarm(ch chan Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == ch {
		s.ch = nil
	}
}
