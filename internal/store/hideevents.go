package store

import (
	"fmt"
	"sort"
	"time"

	"github.com/vmunix/arrgo-renamer/internal/model"
)

// MaxHideEvents bounds the HideEvent ring (spec.md §3 "bounded ring (max
// 200)"), shared by every producer (apply, unapprove, watch).
const MaxHideEvents = 200

// PushHideEvent appends ev to the hide-events map, pruning the oldest
// entries once the ring exceeds MaxHideEvents. Keys are the event's
// UnixNano timestamp formatted as a fixed-width decimal string, so lexical
// and chronological order coincide.
func PushHideEvent(st *Store, ev *model.HideEvent) error {
	if ev.Ts.IsZero() {
		ev.Ts = time.Now()
	}
	key := fmt.Sprintf("%d", ev.Ts.UnixNano())
	if err := st.Set(MapHideEvents, key, ev); err != nil {
		return err
	}
	return pruneHideEvents(st)
}

func pruneHideEvents(st *Store) error {
	events, err := st.All(MapHideEvents)
	if err != nil {
		return err
	}
	if len(events) <= MaxHideEvents {
		return nil
	}
	keys := make([]string, 0, len(events))
	for k := range events {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	drop := len(keys) - MaxHideEvents
	for _, k := range keys[:drop] {
		if err := st.Delete(MapHideEvents, k); err != nil {
			return err
		}
	}
	return nil
}
