package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/chengcxy/docshift/configor"
	"github.com/chengcxy/docshift/source"
	"github.com/chengcxy/docshift/utils"
)

type retryClass int

const (
	noRetry retryClass = iota
	connectRetry
	queryRetry
)

func (c retryClass) String() string {
	switch c {
	case connectRetry:
		return "connect"
	case queryRetry:
		return "query"
	default:
		return "none"
	}
}

// RetryPolicy is fixed for the whole job. Connection failures and query failures
// have separate budgets.
type RetryPolicy struct {
	ConnectLimit    int
	ConnectInterval time.Duration
	QueryLimit      int
	QueryInterval   time.Duration
	Codes           map[string]bool
	Messages        []string
}

func NewRetryPolicy(jo *configor.JobOptions) *RetryPolicy {
	p := &RetryPolicy{
		ConnectLimit:    jo.XccConnectionRetryLimit,
		ConnectInterval: time.Duration(jo.XccConnectionRetryInterval) * time.Second,
		QueryLimit:      jo.QueryRetryLimit,
		QueryInterval:   time.Duration(jo.QueryRetryInterval) * time.Second,
		Codes:           make(map[string]bool),
		Messages:        utils.SplitCsv(jo.QueryRetryErrorMessage),
	}
	for _, code := range utils.SplitCsv(jo.QueryRetryErrorCodes) {
		p.Codes[code] = true
	}
	return p
}

func (p *RetryPolicy) classify(err error) retryClass {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return noRetry
	}
	if source.IsConnectionError(err) {
		return connectRetry
	}
	re, ok := source.AsRequestError(err)
	if !ok {
		return noRetry
	}
	switch re.Kind {
	case source.KindModule, source.KindSyntax:
		return noRetry
	case source.KindPermission:
		if re.Retryable {
			return queryRetry
		}
		return noRetry
	}
	if re.Retryable || p.Codes[re.Code] {
		return queryRetry
	}
	for _, m := range p.Messages {
		if strings.Contains(re.Message, m) {
			return queryRetry
		}
	}
	return noRetry
}

func (p *RetryPolicy) budget(c retryClass) (int, time.Duration) {
	switch c {
	case connectRetry:
		return p.ConnectLimit, p.ConnectInterval
	case queryRetry:
		return p.QueryLimit, p.QueryInterval
	}
	return 0, 0
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
