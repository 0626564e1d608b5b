package session

import (
	"sync"
	"time"

	"github.com/liamcoop/formrules/rules"
)

// Debouncer coalesces bursts of answer changes into one evaluation after delay.
// Every Update takes a new revision; a result is published only if no newer revision
// has been published, so a slow evaluation of old answers never replaces a newer one.
//
// Service recomputes synchronously on every change and does not use it. It is for
// hosts that evaluate on each keystroke, such as a live preview fed straight from
// an input stream.
type Debouncer struct {
	delay   time.Duration
	eval    func(rules.AnswerSet) rules.Result
	publish func(revision int64, res rules.Result)

	mu      sync.Mutex
	latest  int64
	timer   *time.Timer
	stopped bool
	running sync.WaitGroup

	pubMu     sync.Mutex
	published int64
}

// NewDebouncer creates a debouncer that runs eval and hands fresh results to publish
func NewDebouncer(delay time.Duration, eval func(rules.AnswerSet) rules.Result, publish func(int64, rules.Result)) *Debouncer {
	return &Debouncer{delay: delay, eval: eval, publish: publish}
}

// Update schedules an evaluation of answers and returns its revision.
// A pending evaluation that has not started yet is cancelled.
func (d *Debouncer) Update(answers rules.AnswerSet) int64 {
	snapshot := make(rules.AnswerSet, len(answers))
	for k, v := range answers {
		snapshot[k] = v
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.latest++
	if d.stopped {
		return d.latest
	}
	rev := d.latest

	if d.timer != nil && d.timer.Stop() {
		d.running.Done()
	}
	d.running.Add(1)
	d.timer = time.AfterFunc(d.delay, func() {
		defer d.running.Done()
		d.run(rev, snapshot)
	})
	return rev
}

// Latest returns the newest revision handed out by Update
func (d *Debouncer) Latest() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.latest
}

// Stop cancels the pending evaluation and waits for running ones to finish
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil && d.timer.Stop() {
		d.running.Done()
	}
	d.mu.Unlock()

	d.running.Wait()
}

func (d *Debouncer) run(rev int64, answers rules.AnswerSet) {
	res := d.eval(answers)

	d.pubMu.Lock()
	defer d.pubMu.Unlock()
	if rev <= d.published || rev < d.Latest() {
		return
	}
	d.published = rev
	d.publish(rev, res)
}
