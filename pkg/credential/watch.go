package credential

import (
	"bytes"
	"context"

	"github.com/Sternrassler/apiclient/pkg/notify"
)

// Publisher receives account-change notifications.
type Publisher interface {
	Publish(kind notify.Kind, payload any)
}

// WatchedStore wraps a Store and publishes AuthenticatedAccountChanged when
// the value under the watched key changes. The payload is the key.
type WatchedStore struct {
	Store
	key       string
	publisher Publisher
}

// Watch wraps store. Writes of key that change its value, and deletes of a
// present key, are published on publisher.
func Watch(store Store, key string, publisher Publisher) *WatchedStore {
	return &WatchedStore{Store: store, key: key, publisher: publisher}
}

// Set stores value and publishes when the watched key changed.
func (w *WatchedStore) Set(ctx context.Context, key string, value []byte) error {
	if key != w.key {
		return w.Store.Set(ctx, key, value)
	}

	previous, err := w.Store.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := w.Store.Set(ctx, key, value); err != nil {
		return err
	}
	if previous == nil || !bytes.Equal(previous, value) {
		w.publisher.Publish(notify.AuthenticatedAccountChanged, key)
	}
	return nil
}

// Delete removes key and publishes when a watched value was present.
func (w *WatchedStore) Delete(ctx context.Context, key string) error {
	if key != w.key {
		return w.Store.Delete(ctx, key)
	}

	previous, err := w.Store.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := w.Store.Delete(ctx, key); err != nil {
		return err
	}
	if previous != nil {
		w.publisher.Publish(notify.AuthenticatedAccountChanged, key)
	}
	return nil
}
