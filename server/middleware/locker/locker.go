// Package locker provides an HTTP middleware which allows a route table
// to be locked, returning 423 (Locked) to protected requests.  The mount
// server locks its motion routes while a calibration run owns the axes.
package locker

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strings"
	"sync"

	"github.com/openastro/stargo/server"
	"goji.io/pat"
)

// Inject adds the lock manipulation routes to an HTTPer's table.
func Inject(other server.HTTPer, l *Locker) {
	rt := other.RT()
	rt[pat.Get("/lock")] = l.HTTPGet
	rt[pat.Post("/lock")] = l.HTTPSet
}

// Locker is a non-blocking lock over a set of HTTP routes, with a list
// of paths the lock does not apply to.
type Locker struct {
	mu       sync.Mutex
	isLocked bool

	// DoNotProtect is a list of path substrings the lock never applies
	// to; status reads stay available while motion is locked out.
	DoNotProtect []string
}

// New returns a Locker which never locks its own manipulation routes.
func New() *Locker {
	return &Locker{DoNotProtect: []string{"lock", "status", "position", "endpoints"}}
}

// Lock the locker.
func (l *Locker) Lock() {
	l.mu.Lock()
	l.isLocked = true
	l.mu.Unlock()
}

// Unlock the locker.
func (l *Locker) Unlock() {
	l.mu.Lock()
	l.isLocked = false
	l.mu.Unlock()
}

// Locked returns true if the locker is locked.
func (l *Locker) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isLocked
}

// Check is the middleware: protected requests bounce with 423 while the
// locker is locked, everything else passes down the chain.
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Locked() {
			protected := true
			url := r.URL.Path
			for _, str := range l.DoNotProtect {
				if strings.Contains(url, str) {
					protected = false
				}
			}
			if protected {
				w.WriteHeader(http.StatusLocked)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet calls Lock or Unlock based on json:bool on the request body.
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	b := server.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.Bool {
		l.Lock()
	} else {
		l.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet returns Locked() over HTTP as JSON.
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.Bool, Bool: l.Locked()}
	hp.EncodeAndRespond(w, r)
}
