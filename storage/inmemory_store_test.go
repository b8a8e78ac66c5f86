package storage_test

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/rudis/storage"
)

var _ = Describe("storage / InmemoryStore", func() {
	var (
		ctx   context.Context
		store *storage.InmemoryStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = storage.NewInmemoryStore()
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	Describe("Close()", func() {
		It("does not panic when closed twice", func() {
			Expect(func() { store.Close() }).NotTo(Panic())
			Expect(func() { store.Close() }).NotTo(Panic())
		})

		It("refuses operations once closed", func() {
			Expect(store.Close()).To(Succeed())

			Expect(store.Set(ctx, []byte("foo"), []byte("bar"))).To(MatchError(storage.ErrClosed))

			_, err := store.Get(ctx, []byte("foo"))
			Expect(err).To(MatchError(storage.ErrClosed))
		})

		It("closes update channels", func() {
			updateChan := store.ListenToUpdates()
			Expect(store.Close()).To(Succeed())

			Eventually(updateChan).Should(BeClosed())
		})
	})

	Describe("Set() / Get()", func() {
		It("can read a key that is written", func() {
			Expect(store.Set(ctx, []byte("foo"), []byte("bar"))).To(Succeed())
			Expect(store.Get(ctx, []byte("foo"))).To(Equal([]byte("bar")))
		})

		It("overwrites existing values", func() {
			Expect(store.Set(ctx, []byte("foo"), []byte("bar"))).To(Succeed())
			Expect(store.Set(ctx, []byte("foo"), []byte("baz"))).To(Succeed())
			Expect(store.Get(ctx, []byte("foo"))).To(Equal([]byte("baz")))
		})

		It("returns ErrNotFound for missing keys", func() {
			_, err := store.Get(ctx, []byte("missing"))
			Expect(err).To(MatchError(storage.ErrNotFound))
		})

		It("keeps its own copy of values", func() {
			value := []byte("bar")
			Expect(store.Set(ctx, []byte("foo"), value)).To(Succeed())
			value[0] = 'X'

			got, err := store.Get(ctx, []byte("foo"))
			Expect(err).To(Succeed())
			Expect(got).To(Equal([]byte("bar")))

			got[0] = 'Y'
			Expect(store.Get(ctx, []byte("foo"))).To(Equal([]byte("bar")))
		})

		It("stores binary keys and values", func() {
			key := []byte{0, '\r', '\n', 0xff}
			Expect(store.Set(ctx, key, []byte{0, 1, 2})).To(Succeed())
			Expect(store.Get(ctx, key)).To(Equal([]byte{0, 1, 2}))
		})

		It("respects a cancelled context", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			Expect(store.Set(cancelled, []byte("foo"), []byte("bar"))).To(MatchError(context.Canceled))
		})

		It("sends on the update channel when values are set", func() {
			updateChan := store.ListenToUpdates()
			Expect(store.Set(ctx, []byte("foo"), []byte("bar"))).To(Succeed())

			update, ok := <-updateChan
			Expect(ok).To(BeTrue())
			Expect(update).To(Equal(&storage.Update{
				Key:   []byte("foo"),
				Value: []byte("bar"),
			}))
		})
	})

	Describe("Delete() / Exists() / Len()", func() {
		BeforeEach(func() {
			Expect(store.Set(ctx, []byte("a"), []byte("1"))).To(Succeed())
			Expect(store.Set(ctx, []byte("b"), []byte("2"))).To(Succeed())
		})

		It("counts existing keys, including repeats", func() {
			Expect(store.Exists(ctx, []byte("a"), []byte("a"), []byte("c"))).To(Equal(2))
			Expect(store.Len(ctx)).To(Equal(2))
		})

		It("deletes only the keys that exist", func() {
			Expect(store.Delete(ctx, []byte("a"), []byte("c"))).To(Equal(1))
			Expect(store.Len(ctx)).To(Equal(1))
			Expect(store.Exists(ctx, []byte("a"))).To(Equal(0))
		})

		It("notifies listeners of deletes with a nil value", func() {
			updateChan := store.ListenToUpdates()
			Expect(store.Delete(ctx, []byte("b"))).To(Equal(1))

			update := <-updateChan
			Expect(update.Key).To(Equal([]byte("b")))
			Expect(update.Value).To(BeNil())
		})
	})

	Describe("Backup() / Restore()", func() {
		It("an empty inmemory store has no entries", func() {
			value, err := store.Backup()
			Expect(err).To(Succeed())
			Expect(string(value)).To(Equal(`{"version":1,"entries":[]}`))
		})

		It("base64 encodes keys and values in key order", func() {
			Expect(store.Set(ctx, []byte("foo"), []byte("bar"))).To(Succeed())
			Expect(store.Set(ctx, []byte("a.b"), []byte("c"))).To(Succeed())

			value, err := store.Backup()
			Expect(err).To(Succeed())
			Expect(string(value)).To(Equal(
				`{"version":1,"entries":[{"key":"YS5i","value":"Yw=="},{"key":"Zm9v","value":"YmFy"}]}`))
		})

		It("restores what it backed up", func() {
			key := []byte{'*', '?', 0, '\n'}
			Expect(store.Set(ctx, key, []byte("binary"))).To(Succeed())
			Expect(store.Set(ctx, []byte("plain"), []byte{})).To(Succeed())

			snapshot, err := store.Backup()
			Expect(err).To(Succeed())

			restored := storage.NewInmemoryStore()
			defer restored.Close()

			Expect(restored.Restore(snapshot)).To(Succeed())
			Expect(restored.Len(ctx)).To(Equal(2))
			Expect(restored.Get(ctx, key)).To(Equal([]byte("binary")))
			Expect(restored.Get(ctx, []byte("plain"))).To(BeEmpty())
		})

		It("replaces existing keys", func() {
			Expect(store.Set(ctx, []byte("old"), []byte("1"))).To(Succeed())
			Expect(store.Restore([]byte(`{"version":1,"entries":[{"key":"Zm9v","value":"YmFy"}]}`))).To(Succeed())

			Expect(store.Exists(ctx, []byte("old"))).To(Equal(0))
			Expect(store.Get(ctx, []byte("foo"))).To(Equal([]byte("bar")))
		})

		It("rejects invalid snapshots without changing the store", func() {
			Expect(store.Set(ctx, []byte("keep"), []byte("1"))).To(Succeed())

			Expect(store.Restore([]byte(`{"version":1,`))).NotTo(Succeed())
			Expect(store.Restore([]byte(`{"version":2,"entries":[]}`))).NotTo(Succeed())
			Expect(store.Restore([]byte(`{"version":1}`))).NotTo(Succeed())
			Expect(store.Restore([]byte(`{"version":1,"entries":[{"key":"!!","value":""}]}`))).NotTo(Succeed())

			Expect(store.Get(ctx, []byte("keep"))).To(Equal([]byte("1")))
		})
	})
})
