package stargo

import (
	"context"
	"log"

	"golang.org/x/time/rate"
)

// StatusCallback receives a fresh Snapshot after every successful poll.
type StatusCallback func(Snapshot)

// Poller is the periodic driver: it paces status polls at the mount's
// tick period, runs the shift controller update, and fans the resulting
// snapshot out to the callback.  The mount itself never polls; anything
// that wants live state runs a Poller.
type Poller struct {
	Mount    *Mount
	Callback StatusCallback
}

// Run polls until the context is canceled.  Poll errors are logged and
// the loop continues; a dead link shows up as ErrNoReply every tick,
// which is the collaborator's cue to reconnect.
func (p *Poller) Run(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Every(p.Mount.Tick), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if err := p.Mount.Poll(); err != nil {
			log.Printf("poll: %v", err)
			continue
		}
		if p.Callback != nil {
			p.Callback(p.Mount.Snapshot())
		}
	}
}
