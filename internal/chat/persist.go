package chat

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Rehydrate loads the saved state into s. Turns that were still streaming
// when the previous process stopped are marked failed with interruptedText:
// nothing will ever finish them.
func Rehydrate(ctx context.Context, s *Store, r *Repo, interruptedText string) error {
	snap, found, err := r.Load(ctx)
	if err != nil || !found {
		return err
	}
	for i, m := range snap.Messages {
		if m.Status != StatusSending {
			continue
		}
		text := interruptedText
		if m.Text != "" {
			text = m.Text + "\n\n" + interruptedText
		}
		snap.Messages[i] = Apply(m, TextPatch{Text: text}, StatusPatch{Status: StatusError})
	}
	s.Restore(snap)
	return nil
}

// Autosave writes a snapshot of s to r after each burst of changes, waiting
// for debounce of quiet first. It saves once more when ctx ends and then
// returns.
func Autosave(ctx context.Context, s *Store, r *Repo, debounce time.Duration, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	events, unsubscribe := s.Subscribe(64)
	defer unsubscribe()

	timer := time.NewTimer(debounce)
	timer.Stop()
	dirty := false

	save := func(ctx context.Context) {
		dirty = false
		if err := r.Save(ctx, s.Snapshot()); err != nil {
			log.Warn("autosave failed", zap.Error(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			if len(events) > 0 {
				dirty = true
			}
			if dirty {
				flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				save(flushCtx)
				cancel()
			}
			return
		case ev := <-events:
			switch ev.Kind {
			case EventMessages, EventMessage, EventSettings:
				dirty = true
				timer.Reset(debounce)
			}
		case <-timer.C:
			if dirty {
				save(ctx)
			}
		}
	}
}
