package session

import "go.uber.org/zap"

// Fanout holds the outbox of every live connection. It is owned by the
// coordinator goroutine and is not safe for concurrent use. Outboxes are
// only ever closed here.
type Fanout struct {
	outs map[ConnID]chan Snapshot
	log  *zap.Logger
}

func NewFanout(log *zap.Logger) *Fanout {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fanout{outs: make(map[ConnID]chan Snapshot), log: log}
}

func (f *Fanout) Add(id ConnID, out chan Snapshot) {
	if old, ok := f.outs[id]; ok && old != out {
		close(old)
	}
	f.outs[id] = out
}

// Remove closes and forgets the outbox of id. It reports whether id was
// registered.
func (f *Fanout) Remove(id ConnID) bool {
	ch, ok := f.outs[id]
	if !ok {
		return false
	}
	close(ch)
	delete(f.outs, id)
	return true
}

func (f *Fanout) Has(id ConnID) bool {
	_, ok := f.outs[id]
	return ok
}

func (f *Fanout) Len() int { return len(f.outs) }

// Deliver offers snap to every outbox without blocking. Connections whose
// outbox is full are removed and returned so the caller can run their
// disconnect path; delivery to the others carries on regardless.
func (f *Fanout) Deliver(snap Snapshot) []ConnID {
	var failed []ConnID
	for id, ch := range f.outs {
		if !offer(ch, snap) {
			f.log.Warn("dropping slow connection",
				zap.String("conn", string(id)),
				zap.Int("version", snap.Version),
				zap.Int("queued", len(ch)))
			failed = append(failed, id)
		}
	}
	for _, id := range failed {
		f.Remove(id)
	}
	return failed
}

// Close closes every outbox, telling handlers no more snapshots are coming.
func (f *Fanout) Close() {
	for id := range f.outs {
		f.Remove(id)
	}
}

func offer(ch chan Snapshot, snap Snapshot) bool {
	select {
	case ch <- snap:
		return true
	default:
		return false
	}
}
