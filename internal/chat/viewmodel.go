package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/mkovalev/duochat/internal/store"
)

// RenderKind discriminates entries of the flat render list.
type RenderKind int

const (
	// RenderDaySeparator is a date chip between calendar days.
	RenderDaySeparator RenderKind = iota
	// RenderMessage is a message bubble.
	RenderMessage
)

// RenderItem is one entry of the flat render list.
type RenderItem struct {
	Kind    RenderKind
	Label   string // separator label, empty for messages
	Message store.Message
}

// stickyInterval gates sticky-date recomputation to roughly one animation
// frame so scroll storms don't trigger a recompute per pixel.
const stickyInterval = 16 * time.Millisecond

// ViewModel merges the persisted snapshot with live local-only entries into
// a single ascending-by-time sequence and derives the day grouping and the
// sticky date indicator from it. Safe for concurrent use: snapshot events
// arrive on store goroutines while the UI reads render state.
type ViewModel struct {
	mu        sync.Mutex
	now       func() time.Time
	lastSeq   uint64
	persisted []store.Message
	locals    []store.Message

	tracked      bool
	stickyLabel  string
	stickyLast   time.Time
	pending      bool
	pendingIndex int

	onChange func()
	errs     ErrorSink
}

// NewViewModel builds a view model. onChange fires after every change of the
// render sequence (the caller auto-scrolls to the newest message); errs
// receives subscription errors once each. Both may be nil.
func NewViewModel(onChange func(), errs ErrorSink) *ViewModel {
	return &ViewModel{
		now:      time.Now,
		onChange: onChange,
		errs:     errs,
	}
}

// ApplyEvent ingests a snapshot event from the stream client. Update and
// initial snapshots replace the persisted list wholesale; events with a
// stale sequence number are ignored. Local entries whose correlation tag
// now appears in the persisted list are dropped, superseding the uploading
// placeholder with its durable counterpart.
func (vm *ViewModel) ApplyEvent(ev store.SnapshotEvent) {
	if ev.Kind == store.SnapshotError {
		if vm.errs != nil && ev.Err != nil {
			vm.errs(ev.Err)
		}
		return
	}

	vm.mu.Lock()
	if ev.Seq <= vm.lastSeq {
		vm.mu.Unlock()
		return
	}
	vm.lastSeq = ev.Seq
	vm.persisted = ev.Messages

	persistedTags := make(map[string]struct{}, len(ev.Messages))
	for _, m := range ev.Messages {
		if m.ClientTag != "" {
			persistedTags[m.ClientTag] = struct{}{}
		}
	}
	kept := vm.locals[:0]
	for _, m := range vm.locals {
		if m.ClientTag != "" {
			if _, dup := persistedTags[m.ClientTag]; dup {
				continue
			}
		}
		kept = append(kept, m)
	}
	vm.locals = kept
	vm.mu.Unlock()

	vm.notify()
}

// AppendLocal adds a display-only entry (assistant round-trip, uploading
// placeholder). It lives until reconciliation removes it or the view is
// torn down.
func (vm *ViewModel) AppendLocal(m store.Message) {
	m.Local = true
	vm.mu.Lock()
	vm.locals = append(vm.locals, m)
	vm.mu.Unlock()

	vm.notify()
}

// Messages returns the merged sequence in ascending CreatedAt order.
// Timestamp ties keep snapshot delivery order, locals after persisted.
func (vm *ViewModel) Messages() []store.Message {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.mergedLocked()
}

// Render returns the flat render list: messages in ascending time order with
// a day separator before the first message of each calendar day.
func (vm *ViewModel) Render() []RenderItem {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	merged := vm.mergedLocked()
	if len(merged) == 0 {
		return nil
	}

	now := vm.now()
	items := make([]RenderItem, 0, len(merged)+1)
	for i, m := range merged {
		if i == 0 || !SameDay(merged[i-1].CreatedAt, m.CreatedAt) {
			items = append(items, RenderItem{
				Kind:  RenderDaySeparator,
				Label: FormatRelativeDate(m.CreatedAt, now),
			})
		}
		items = append(items, RenderItem{Kind: RenderMessage, Message: m})
	}
	return items
}

// ObserveScroll records that the message at topIndex (into the merged
// sequence) is the topmost one visible. Called on scroll and on resize;
// recomputation is throttled to animation-frame granularity, so bursts
// collapse into one update. The final position of a burst is never lost:
// an index arriving inside the throttle window is kept pending and applied
// on the next label read.
func (vm *ViewModel) ObserveScroll(topIndex int) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	now := vm.now()
	if now.Sub(vm.stickyLast) < stickyInterval && vm.tracked {
		vm.pending = true
		vm.pendingIndex = topIndex
		return
	}
	vm.stickyLast = now
	vm.pending = false

	vm.applyStickyLocked(vm.mergedLocked(), topIndex, now)
}

// CurrentDateLabel returns the sticky date indicator: the calendar label of
// the topmost visible message. Before any position has been observed it
// falls back to the last message's date; with no messages it is empty.
func (vm *ViewModel) CurrentDateLabel() string {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	merged := vm.mergedLocked()
	if len(merged) == 0 {
		return ""
	}
	if vm.pending {
		vm.pending = false
		vm.applyStickyLocked(merged, vm.pendingIndex, vm.now())
	}
	if !vm.tracked {
		return FormatRelativeDate(merged[len(merged)-1].CreatedAt, vm.now())
	}
	return vm.stickyLabel
}

func (vm *ViewModel) applyStickyLocked(merged []store.Message, topIndex int, now time.Time) {
	if len(merged) == 0 {
		return
	}
	if topIndex < 0 {
		topIndex = 0
	}
	if topIndex >= len(merged) {
		topIndex = len(merged) - 1
	}
	vm.tracked = true
	vm.stickyLabel = FormatRelativeDate(merged[topIndex].CreatedAt, now)
}

func (vm *ViewModel) mergedLocked() []store.Message {
	merged := make([]store.Message, 0, len(vm.persisted)+len(vm.locals))
	merged = append(merged, vm.persisted...)
	merged = append(merged, vm.locals...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt < merged[j].CreatedAt
	})
	return merged
}

func (vm *ViewModel) notify() {
	if vm.onChange != nil {
		vm.onChange()
	}
}
