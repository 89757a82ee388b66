package alert

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"
)

const maxSubscriptions = 10

// Subscriptions: браузерные подписки агента. Хранятся в JSON-файле;
// пустой путь означает хранение только в памяти.
type Subscriptions struct {
	mu   sync.Mutex
	path string
	subs []webpush.Subscription
}

// LoadSubscriptions читает файл подписок; отсутствующий файл: пустой список.
func LoadSubscriptions(path string) (*Subscriptions, error) {
	s := &Subscriptions{path: path}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("subscriptions: %w", err)
	}
	if err := json.Unmarshal(data, &s.subs); err != nil {
		return nil, fmt.Errorf("subscriptions: parse %s: %w", path, err)
	}
	return s, nil
}

// Add сохраняет подписку; та же endpoint заменяется, храним не больше maxSubscriptions последних.
func (s *Subscriptions) Add(sub webpush.Subscription) error {
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return errors.New("endpoint, keys.p256dh and keys.auth required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(without(s.subs, sub.Endpoint), sub)
	if len(s.subs) > maxSubscriptions {
		s.subs = s.subs[len(s.subs)-maxSubscriptions:]
	}
	return s.saveLocked()
}

// Remove удаляет подписку по endpoint. Возвращает false, если её не было.
func (s *Subscriptions) Remove(endpoint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := without(s.subs, endpoint)
	if len(kept) == len(s.subs) {
		return false, nil
	}
	s.subs = kept
	return true, s.saveLocked()
}

func (s *Subscriptions) List() []webpush.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]webpush.Subscription(nil), s.subs...)
}

func without(subs []webpush.Subscription, endpoint string) []webpush.Subscription {
	out := make([]webpush.Subscription, 0, len(subs))
	for _, s := range subs {
		if s.Endpoint != endpoint {
			out = append(out, s)
		}
	}
	return out
}

func (s *Subscriptions) saveLocked() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.subs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}
