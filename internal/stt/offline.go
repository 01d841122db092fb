package stt

import (
	"context"
	"math/rand/v2"
	"time"
)

// DefaultSamples are realistic multi-domain utterances the offline
// substitute answers with.
var DefaultSamples = []string{
	"我今天早上称重是75公斤，血压高压120低压80，昨晚11点睡觉，早上7点起床，感觉睡得还不错",
	"今天运动了30分钟，体重68.5kg，血糖5.8",
	"昨晚12点半睡的，早上6点半醒，血压130/85，体重80公斤",
	"体重65公斤，早上跑了5公里，血糖6.2，睡得很好",
}

// Offline stands in for a real backend. It never fails: after a short delay
// it returns one of its samples.
type Offline struct {
	delay   time.Duration
	samples []string
	pick    func(n int) int
}

type OfflineOption func(*Offline)

// WithPicker fixes sample selection, mostly for tests.
func WithPicker(pick func(n int) int) OfflineOption {
	return func(o *Offline) {
		if pick != nil {
			o.pick = pick
		}
	}
}

func WithSamples(samples []string) OfflineOption {
	return func(o *Offline) {
		if len(samples) > 0 {
			o.samples = samples
		}
	}
}

func NewOffline(delay time.Duration, opts ...OfflineOption) *Offline {
	o := &Offline{delay: delay, samples: DefaultSamples, pick: rand.IntN}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Transcribe waits out the delay, or until ctx is done, and returns a sample.
// The error is always nil.
func (o *Offline) Transcribe(ctx context.Context, _ []byte) (string, error) {
	if o.delay > 0 {
		timer := time.NewTimer(o.delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
	i := o.pick(len(o.samples))
	if i < 0 || i >= len(o.samples) {
		i = 0
	}
	return o.samples[i], nil
}
