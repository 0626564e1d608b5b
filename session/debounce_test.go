package session

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/liamcoop/formrules/rules"
)

func TestDebouncer_CoalescesBursts(t *testing.T) {
	var evals atomic.Int32
	published := make(chan int64, 10)

	d := NewDebouncer(50*time.Millisecond,
		func(a rules.AnswerSet) rules.Result {
			evals.Add(1)
			return rules.Result{}
		},
		func(rev int64, _ rules.Result) { published <- rev },
	)
	defer d.Stop()

	for i := 0; i < 5; i++ {
		d.Update(rules.AnswerSet{"n": i})
	}

	select {
	case rev := <-published:
		if rev != 5 {
			t.Errorf("published revision %d, want 5", rev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for publish")
	}
	if got := evals.Load(); got != 1 {
		t.Errorf("evaluations = %d, want 1", got)
	}
}

func TestDebouncer_DiscardsStaleResult(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	var mu sync.Mutex
	var publishedRevs []int64
	var publishedValues []any
	newest := make(chan struct{})

	d := NewDebouncer(0,
		func(a rules.AnswerSet) rules.Result {
			if a["n"] == 1 {
				close(started)
				<-release
			}
			return rules.Result{States: map[string]rules.FieldState{"n": {Forced: true, ForcedValue: a["n"]}}}
		},
		func(rev int64, res rules.Result) {
			mu.Lock()
			publishedRevs = append(publishedRevs, rev)
			publishedValues = append(publishedValues, res.State("n").ForcedValue)
			mu.Unlock()
			if rev == 2 {
				close(newest)
			}
		},
	)

	d.Update(rules.AnswerSet{"n": 1})
	<-started

	// The newer revision finishes while the first evaluation is still running
	if rev := d.Update(rules.AnswerSet{"n": 2}); rev != 2 {
		t.Fatalf("Update() revision = %d, want 2", rev)
	}
	select {
	case <-newest:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for revision 2")
	}

	close(release)
	d.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(publishedRevs) != 1 || publishedRevs[0] != 2 || publishedValues[0] != 2 {
		t.Errorf("published %v with values %v, want only revision 2", publishedRevs, publishedValues)
	}
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	var evals atomic.Int32
	d := NewDebouncer(time.Hour,
		func(rules.AnswerSet) rules.Result {
			evals.Add(1)
			return rules.Result{}
		},
		func(int64, rules.Result) {},
	)

	d.Update(rules.AnswerSet{"a": 1})
	d.Stop()

	if rev := d.Update(rules.AnswerSet{"a": 2}); rev != 2 {
		t.Errorf("Update() after Stop() revision = %d, want 2", rev)
	}
	if d.Latest() != 2 {
		t.Errorf("Latest() = %d, want 2", d.Latest())
	}
	if evals.Load() != 0 {
		t.Error("no evaluation should run after Stop()")
	}
}
