package controller

import (
	"context"
	"sync"
)

// keyedMutex serializes work per guild. Waiting for a guild honours ctx so
// a command stuck behind a slow voice join can give up.
type keyedMutex struct {
	mutex sync.Mutex
	locks map[string]*guildLock
}

type guildLock struct {
	ch      chan struct{}
	waiters int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{
		locks: make(map[string]*guildLock),
	}
}

func (k *keyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mutex.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &guildLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.waiters++
	k.mutex.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		k.done(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			k.done(key, l)
		})
	}, nil
}

func (k *keyedMutex) done(key string, l *guildLock) {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	l.waiters--
	if l.waiters == 0 {
		delete(k.locks, key)
	}
}

func (k *keyedMutex) size() int {
	k.mutex.Lock()
	defer k.mutex.Unlock()
	return len(k.locks)
}
