package runner

import "sync"

// Feed fans display frames out to the viewers of each trial. Delivery never
// blocks: a viewer that falls behind misses frames.
type Feed struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Frame]struct{}
	buffer int
}

func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = 16
	}
	return &Feed{
		subs:   make(map[string]map[chan Frame]struct{}),
		buffer: buffer,
	}
}

// Subscribe returns a channel of frames for trialID and a func that cancels
// the subscription. The channel is closed on cancel or when the trial closes.
func (f *Feed) Subscribe(trialID string) (<-chan Frame, func()) {
	ch := make(chan Frame, f.buffer)

	f.mu.Lock()
	if f.subs[trialID] == nil {
		f.subs[trialID] = make(map[chan Frame]struct{})
	}
	f.subs[trialID][ch] = struct{}{}
	f.mu.Unlock()

	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if subs, ok := f.subs[trialID]; ok {
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(f.subs, trialID)
			}
		}
	}
}

func (f *Feed) Publish(frame Frame) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for ch := range f.subs[frame.TrialID] {
		select {
		case ch <- frame:
		default:
		}
	}
}

// Close ends every subscription of trialID.
func (f *Feed) Close(trialID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for ch := range f.subs[trialID] {
		close(ch)
	}
	delete(f.subs, trialID)
}

func (f *Feed) Subscribers(trialID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[trialID])
}
