// Package spam classifies mail URLs against the blacklist service.
package spam

import (
	"context"
	"errors"

	"postbox/blacklist"
	"postbox/metrics"
	"postbox/urlnorm"
	"postbox/utils"
)

// Blacklist is the subset of the blacklist client the scanner needs
type Blacklist interface {
	CheckURL(ctx context.Context, url string) (bool, error)
	AddURLs(ctx context.Context, urls []string) (int, error)
	RemoveURLs(ctx context.Context, urls []string) (int, error)
	AnyBlacklisted(ctx context.Context, urls []string) (bool, error)
}

// Policy decides what happens when the blacklist cannot be reached
type Policy int

const (
	// FailOpen treats an unreachable blacklist as "nothing blacklisted"
	FailOpen Policy = iota
	// FailClosed surfaces the network error to the caller
	FailClosed
)

func (p Policy) String() string {
	if p == FailClosed {
		return "closed"
	}
	return "open"
}

// Result is the outcome of one scan
type Result struct {
	HasMatch bool
	Matched  []string
	// Degraded is set when the blacklist failed and the scan fell back to
	// "no match" under FailOpen. Callers must not derive label removals
	// from a degraded result.
	Degraded bool
}

// Scanner wraps a Blacklist with normalization and the network policy
type Scanner struct {
	bl     Blacklist
	policy Policy
	log    *utils.Logger
}

// NewScanner creates a scanner
func NewScanner(bl Blacklist, policy Policy) *Scanner {
	return &Scanner{
		bl:     bl,
		policy: policy,
		log:    utils.Log.WithField("component", "spam"),
	}
}

// Policy returns the configured network policy
func (s *Scanner) Policy() Policy {
	return s.policy
}

// Scan reports which of urls are blacklisted
func (s *Scanner) Scan(ctx context.Context, urls []string) (Result, error) {
	urls = urlnorm.NormalizeAll(urls)
	if len(urls) == 0 {
		metrics.SpamScansTotal.WithLabelValues("empty").Inc()
		return Result{}, nil
	}

	hit, err := s.bl.AnyBlacklisted(ctx, urls)
	if err != nil {
		return s.degrade("scan", err)
	}
	if !hit {
		metrics.SpamScansTotal.WithLabelValues("clean").Inc()
		return Result{}, nil
	}

	var matched []string
	for _, u := range urls {
		listed, err := s.bl.CheckURL(ctx, u)
		if err != nil {
			return s.degrade("scan", err)
		}
		if listed {
			matched = append(matched, u)
		}
	}

	// the fast path saw a hit that has since been removed
	if len(matched) == 0 {
		metrics.SpamScansTotal.WithLabelValues("clean").Inc()
		return Result{}, nil
	}

	metrics.SpamScansTotal.WithLabelValues("match").Inc()
	return Result{HasMatch: true, Matched: matched}, nil
}

// Report pushes urls into the blacklist
func (s *Scanner) Report(ctx context.Context, urls []string) error {
	urls = urlnorm.NormalizeAll(urls)
	if len(urls) == 0 {
		return nil
	}
	n, err := s.bl.AddURLs(ctx, urls)
	if err != nil {
		_, err = s.degrade("report", err)
		return err
	}
	s.log.Debug("reported %d/%d urls", n, len(urls))
	return nil
}

// Retract removes urls from the blacklist
func (s *Scanner) Retract(ctx context.Context, urls []string) error {
	urls = urlnorm.NormalizeAll(urls)
	if len(urls) == 0 {
		return nil
	}
	n, err := s.bl.RemoveURLs(ctx, urls)
	if err != nil {
		_, err = s.degrade("retract", err)
		return err
	}
	s.log.Debug("retracted %d/%d urls", n, len(urls))
	return nil
}

func (s *Scanner) degrade(op string, err error) (Result, error) {
	metrics.SpamScansTotal.WithLabelValues("error").Inc()

	if !errors.Is(err, blacklist.ErrNetwork) {
		return Result{}, utils.InternalServerError("blacklist "+op+" failed", err)
	}
	if s.policy == FailClosed {
		return Result{}, utils.NetworkError("blacklist service unavailable", err)
	}

	metrics.FailOpenTotal.WithLabelValues(op).Inc()
	s.log.Warn("blacklist %s failed, continuing without spam check: %v", op, err)
	return Result{Degraded: true}, nil
}
