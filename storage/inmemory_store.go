package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	// UpdateBufferSize is how many updates a listener may fall behind by
	// before further updates to it are dropped.
	UpdateBufferSize = 255

	snapshotVersion = 1
)

type snapshotEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type InmemoryStore struct {
	mu          sync.RWMutex
	values      map[string][]byte
	updateChans []chan *Update

	// stop will be closed when Close() is called
	stop chan struct{}
}

func NewInmemoryStore() *InmemoryStore {
	return &InmemoryStore{
		values:      make(map[string][]byte),
		stop:        make(chan struct{}),
		updateChans: make([]chan *Update, 0),
	}
}

func (i *InmemoryStore) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.isRunning() {
		return nil
	}

	close(i.stop)

	for _, updateChan := range i.updateChans {
		close(updateChan)
	}

	i.updateChans = nil

	return nil
}

func (i *InmemoryStore) Set(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.isRunning() {
		return ErrClosed
	}

	// Callers are free to reuse their buffers once we return
	stored := append(make([]byte, 0, len(value)), value...)
	i.values[string(key)] = stored

	i.notify(key, stored)

	return nil
}

func (i *InmemoryStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	if !i.isRunning() {
		return nil, ErrClosed
	}

	value, ok := i.values[string(key)]
	if !ok {
		return nil, ErrNotFound
	}

	return append(make([]byte, 0, len(value)), value...), nil
}

func (i *InmemoryStore) Delete(ctx context.Context, keys ...[]byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.isRunning() {
		return 0, ErrClosed
	}

	deleted := 0
	for _, key := range keys {
		if _, ok := i.values[string(key)]; !ok {
			continue
		}

		delete(i.values, string(key))
		deleted++

		i.notify(key, nil)
	}

	return deleted, nil
}

func (i *InmemoryStore) Exists(ctx context.Context, keys ...[]byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	if !i.isRunning() {
		return 0, ErrClosed
	}

	found := 0
	for _, key := range keys {
		if _, ok := i.values[string(key)]; ok {
			found++
		}
	}

	return found, nil
}

func (i *InmemoryStore) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	if !i.isRunning() {
		return 0, ErrClosed
	}

	return len(i.values), nil
}

// ListenToUpdates returns a channel that receives every write made after
// the call. The channel is closed when the store is closed.
func (i *InmemoryStore) ListenToUpdates() <-chan *Update {
	i.mu.Lock()
	defer i.mu.Unlock()

	updateChan := make(chan *Update, UpdateBufferSize)
	if !i.isRunning() {
		close(updateChan)
		return updateChan
	}

	i.updateChans = append(i.updateChans, updateChan)

	return updateChan
}

// Restore replaces the contents of the store with a snapshot produced by
// Backup. The store is left untouched if the snapshot is invalid.
func (i *InmemoryStore) Restore(snapshot []byte) error {
	if !gjson.ValidBytes(snapshot) {
		return fmt.Errorf("snapshot is not valid JSON")
	}

	doc := gjson.ParseBytes(snapshot)
	if version := doc.Get("version").Int(); version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", version)
	}

	entries := doc.Get("entries")
	if !entries.IsArray() {
		return fmt.Errorf("snapshot has no entries")
	}

	values := make(map[string][]byte)

	var err error
	entries.ForEach(func(_, entry gjson.Result) bool {
		var key, value []byte

		key, err = base64.StdEncoding.DecodeString(entry.Get("key").String())
		if err != nil {
			err = fmt.Errorf("snapshot key at %d: %w", entry.Index, err)
			return false
		}

		value, err = base64.StdEncoding.DecodeString(entry.Get("value").String())
		if err != nil {
			err = fmt.Errorf("snapshot value for %q: %w", key, err)
			return false
		}

		values[string(key)] = value
		return true
	})

	if err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.isRunning() {
		return ErrClosed
	}

	i.values = values

	return nil
}

// Backup returns a JSON snapshot of every key. Keys and values are base64
// encoded as they are arbitrary bytes, and keys are written in sorted order.
func (i *InmemoryStore) Backup() ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if !i.isRunning() {
		return nil, ErrClosed
	}

	doc, err := sjson.SetBytes([]byte("{}"), "version", snapshotVersion)
	if err != nil {
		return nil, err
	}

	doc, err = sjson.SetRawBytes(doc, "entries", []byte("[]"))
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(i.values))
	for key := range i.values {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		doc, err = sjson.SetBytes(doc, "entries.-1", snapshotEntry{
			Key:   base64.StdEncoding.EncodeToString([]byte(key)),
			Value: base64.StdEncoding.EncodeToString(i.values[key]),
		})

		if err != nil {
			return nil, err
		}
	}

	return doc, nil
}

// notify must be called with mu held. Listeners that have fallen behind
// miss the update rather than blocking the writer.
func (i *InmemoryStore) notify(key, value []byte) {
	if len(i.updateChans) == 0 {
		return
	}

	update := &Update{
		Key:   append(make([]byte, 0, len(key)), key...),
		Value: value,
	}

	for _, updateChan := range i.updateChans {
		select {
		case updateChan <- update:
		default:
		}
	}
}

// isRunning returns true if Close has not been called
func (i *InmemoryStore) isRunning() bool {
	select {
	case <-i.stop:
		return false

	default:
		return true
	}
}

var _ Store = (*InmemoryStore)(nil)
