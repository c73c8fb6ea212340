package core

import "github.com/auto-dns/docker-hosts-sync/internal/domain"

// mailbox holds at most one snapshot. Posting replaces an unread snapshot, so
// the reader always sees the latest state and bursts collapse into one pass.
// It supports a single writer.
type mailbox struct {
	ch chan domain.Snapshot
}

func newMailbox() *mailbox {
	return &mailbox{ch: make(chan domain.Snapshot, 1)}
}

func (m *mailbox) post(snap domain.Snapshot) {
	for {
		select {
		case m.ch <- snap:
			return
		default:
		}
		select {
		case <-m.ch:
		default:
		}
	}
}

func (m *mailbox) C() <-chan domain.Snapshot {
	return m.ch
}
