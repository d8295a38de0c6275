package transport

import (
	"strings"
	"sync"

	logx "hookrelay/pkg/logx"
)

// aliases maps client-specific platform names to the generic adapter that
// speaks their protocol.
var aliases = map[string]string{
	"llonebot":  "onebot",
	"napcat":    "onebot",
	"aiocqhttp": "onebot",
}

// Registry holds adapters in registration order. Registration order doubles
// as the preference order for "auto" resolution.
type Registry struct {
	mu       sync.RWMutex
	adapters []Adapter
	log      logx.Logger
}

func NewRegistry(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{log: log}
}

func (r *Registry) Register(a Adapter) {
	if a == nil {
		return
	}
	r.mu.Lock()
	r.adapters = append(r.adapters, a)
	r.mu.Unlock()
	r.log.Info("transport registered", logx.String("name", a.Name()))
}

// Names lists registered adapters in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a.Name())
	}
	return out
}

// Resolve picks the adapter for a configured platform name:
//
//  1. exact name match, if that adapter is ready;
//  2. known alias of a generic adapter (llonebot/napcat -> onebot);
//  3. first ready adapter in registration order ("auto" starts here).
//
// Returns ErrNoTransport when nothing is ready.
func (r *Registry) Resolve(platform string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name := strings.ToLower(strings.TrimSpace(platform))
	if name != "" && name != "auto" {
		if a := r.findLocked(name); a != nil {
			return a, nil
		}
		if generic, ok := aliases[name]; ok {
			if a := r.findLocked(generic); a != nil {
				r.log.Debug("platform resolved via alias",
					logx.String("requested", name), logx.String("using", generic))
				return a, nil
			}
		}
		r.log.Warn("configured platform unavailable; falling back",
			logx.String("platform", name))
	}

	for _, a := range r.adapters {
		if a.Ready() {
			return a, nil
		}
	}
	return nil, ErrNoTransport
}

func (r *Registry) findLocked(name string) Adapter {
	for _, a := range r.adapters {
		if strings.EqualFold(a.Name(), name) && a.Ready() {
			return a
		}
	}
	return nil
}
