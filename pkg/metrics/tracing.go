package metrics

import (
	"context"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
)

// Span covers one operation of a component. It is a New Relic segment when
// ctx carries a transaction, and on End the elapsed time is recorded as the
// custom metric "<component>/<operation>" when ctx carries an application.
type Span struct {
	ctx    context.Context
	name   string
	start  time.Time
	txn    *newrelic.Transaction
	seg    *newrelic.Segment
	failed bool
}

// StartSpan starts a span for operation within component.
func StartSpan(ctx context.Context, component, operation string) *Span {
	s := &Span{
		ctx:   ctx,
		name:  component + "/" + operation,
		start: time.Now(),
		txn:   newrelic.FromContext(ctx),
	}
	if s.txn != nil {
		s.seg = s.txn.StartSegment(component + " " + operation)
	}
	return s
}

// Annotate attaches attributes to the segment.
func (s *Span) Annotate(attributes map[string]interface{}) {
	if s.seg == nil {
		return
	}
	for key, value := range attributes {
		s.seg.AddAttribute(key, value)
	}
}

// Fail notices err on the transaction and marks the span failed. Nil is
// ignored.
func (s *Span) Fail(err error) {
	if err == nil {
		return
	}
	s.failed = true
	if s.txn != nil {
		s.txn.NoticeError(err)
	}
}

// Failed reports whether Fail was called with an error.
func (s *Span) Failed() bool {
	return s.failed
}

// End closes the segment and records the span duration. It returns the
// duration.
func (s *Span) End() time.Duration {
	elapsed := time.Since(s.start)
	if s.seg != nil {
		s.seg.End()
	}
	RecordDuration(s.ctx, s.name, elapsed)
	return elapsed
}
