package apm

import (
	"sync"

	"mercator-hq/beacon/pkg/config"
)

type recordedEvent struct {
	typ  string
	data map[string]any
	page string
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *fakeRecorder) Record(typ string, data map[string]any, page string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{typ: typ, data: data, page: page})
}

func (r *fakeRecorder) ofType(typ string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.typ == typ {
			out = append(out, e)
		}
	}
	return out
}

func configWith(mutate func(*config.Config)) func() *config.Config {
	cfg := config.Default()
	mutate(cfg)
	return func() *config.Config { return cfg }
}
