package services

import (
	"github.com/sirupsen/logrus"
)

const defaultMaxDepth = 10

type options struct {
	now             Clock
	audit           *Auditor
	cache           PermissionCache
	log             *logrus.Entry
	defaultMaxDepth int
}

type Option func(*options)

func WithClock(c Clock) Option {
	return func(o *options) { o.now = c }
}

// WithAuditor publishes committed changes, rejections and integrity findings.
func WithAuditor(a *Auditor) Option {
	return func(o *options) { o.audit = a }
}

func WithPermissionCache(c PermissionCache) Option {
	return func(o *options) { o.cache = c }
}

func WithLogger(l *logrus.Entry) Option {
	return func(o *options) { o.log = l }
}

// WithDefaultMaxDepth is used for hierarchies created without an explicit max depth.
func WithDefaultMaxDepth(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.defaultMaxDepth = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		now:             defaultClock,
		defaultMaxDepth: defaultMaxDepth,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logrus.NewEntry(logrus.StandardLogger())
	}
	o.log = o.log.WithField("component", "hierarchy")
	if o.cache == nil {
		o.cache = noopPermissionCache{}
	}
	return o
}
