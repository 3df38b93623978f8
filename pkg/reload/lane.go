package reload

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// job is one queued reload with the completion waiters attached to it
type job struct {
	url     string
	waiters []chan error
}

// lane is a named, strictly-serial work queue. At most one pending job exists
// per URL - repeat requests attach their waiter to the existing job instead
// of re-enqueueing. Priority insertion puts a job at the head. Independent
// lanes run concurrently; within a lane jobs execute one at a time in queue
// order.
type lane struct {
	name    string
	timeout time.Duration
	run     func(url string) error

	mu      sync.Mutex
	queue   []*job
	pending map[string]*job
	running bool
}

func newLane(name string, timeout time.Duration, run func(url string) error) *lane {
	return &lane{
		name:    name,
		timeout: timeout,
		run:     run,
		pending: map[string]*job{},
	}
}

// enqueue adds a job for the URL (or attaches to the pending one) and returns
// a channel that receives the job's outcome exactly once
func (l *lane) enqueue(url string, priority bool) <-chan error {
	done := make(chan error, 1)

	l.mu.Lock()
	defer l.mu.Unlock()

	if j, ok := l.pending[url]; ok {
		j.waiters = append(j.waiters, done)
		return done
	}

	j := &job{url: url, waiters: []chan error{done}}
	l.pending[url] = j
	if priority {
		l.queue = append([]*job{j}, l.queue...)
	} else {
		l.queue = append(l.queue, j)
	}

	if !l.running {
		l.running = true
		go l.loop()
	}
	return done
}

// loop drains the queue one job at a time, then parks the lane
func (l *lane) loop() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.running = false
			l.mu.Unlock()
			return
		}
		j := l.queue[0]
		l.queue = l.queue[1:]
		// a reload requested from here on gets a fresh job behind this one
		delete(l.pending, j.url)
		l.mu.Unlock()

		l.process(j)
	}
}

// process runs one job under the lane's job-level timeout. A timeout
// force-completes the job as failed and lets the lane proceed; the runner
// goroutine is left to finish in the background and its late result is
// discarded.
func (l *lane) process(j *job) {
	done := make(chan error, 1)
	go func() { done <- l.run(j.url) }()

	var err error
	if l.timeout > 0 {
		timer := time.NewTimer(l.timeout)
		defer timer.Stop()
		select {
		case err = <-done:
		case <-timer.C:
			err = fmt.Errorf("feed timeout on %s (lane %s)", j.url, l.name)
			log.Printf("[WARN] %v", err)
		}
	} else {
		err = <-done
	}

	for _, w := range j.waiters {
		w <- err
	}
}
