// Package keylock реализует взаимное исключение по строковому ключу внутри процесса.
// Разные ключи не блокируют друг друга, записи о ключах удаляются, когда их никто не держит.
package keylock

import (
	"context"
	"fmt"
	"sync"
)

type entry struct {
	ch   chan struct{}
	refs int
}

// KeyLock набор мьютексов, адресуемых ключом.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// New создаёт пустой KeyLock.
func New() *KeyLock {
	return &KeyLock{locks: make(map[string]*entry)}
}

// Lock захватывает ключ и возвращает функцию освобождения. Ожидание прерывается
// отменой контекста.
func (k *KeyLock) Lock(ctx context.Context, key string) (func(), error) {
	const op = "keylock.Lock"

	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e)
		return nil, fmt.Errorf("%s: %s: %w", op, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.release(key, e)
		})
	}, nil
}

func (k *KeyLock) release(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

// Len возвращает число ключей, которые сейчас удерживаются или ожидаются.
func (k *KeyLock) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
