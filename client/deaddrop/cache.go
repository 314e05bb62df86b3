// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package deaddrop

import (
	"time"

	"gitlab.com/yawning/avl.git"
)

func compareByID(a, b interface{}) int {
	x, y := a.(*PublishedDeadDrop).ID, b.(*PublishedDeadDrop).ID
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// MergeAndTrim merges two dead drop listings into one sorted by id, where
// a dead drop of fresh replaces one of existing with the same id. It then
// drops every dead drop created more than ttl before the newest one. The
// newest dead drop, not the device clock, is the reference so that a
// skewed clock cannot evict too much or too little.
func MergeAndTrim(existing, fresh *PublishedDeadDropList, ttl time.Duration) *PublishedDeadDropList {
	tree := avl.New(compareByID)
	insert := func(l *PublishedDeadDropList) {
		if l == nil {
			return
		}
		for i := range l.DeadDrops {
			d := &l.DeadDrops[i]
			if n := tree.Find(d); n != nil {
				tree.Remove(n)
			}
			tree.Insert(d)
		}
	}
	insert(existing)
	insert(fresh)

	out := &PublishedDeadDropList{DeadDrops: make([]PublishedDeadDrop, 0, tree.Len())}
	if tree.Len() == 0 {
		return out
	}

	var newest time.Time
	tree.ForEach(avl.Forward, func(n *avl.Node) bool {
		if ts := n.Value.(*PublishedDeadDrop).CreatedAt; ts.After(newest) {
			newest = ts
		}
		return true
	})
	cutoff := newest.Add(-ttl)

	tree.ForEach(avl.Forward, func(n *avl.Node) bool {
		d := n.Value.(*PublishedDeadDrop)
		if !d.CreatedAt.Before(cutoff) {
			out.DeadDrops = append(out.DeadDrops, *d)
		}
		return true
	})
	return out
}

// ShouldDownload reports whether at least min has passed since last. A
// last download in the future means the clock jumped backwards, which
// also warrants a download.
func ShouldDownload(now, last time.Time, min time.Duration) bool {
	if last.After(now) {
		return true
	}
	return !last.Add(min).After(now)
}

// ShouldRefresh decides whether a cached API response needs downloading
// again. last is nil when it was never downloaded.
func ShouldRefresh(now time.Time, last *time.Time, cached bool, min time.Duration, force bool) bool {
	if force || last == nil || !cached {
		return true
	}
	return ShouldDownload(now, *last, min)
}
