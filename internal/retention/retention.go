// Package retention applies regex-keyed retention rules: it periodically
// classifies every (org, resource, metric) against configured rules and
// clears key ranges older than each rule's per-resolution horizon.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mistio/tsfdb-server/internal/errors"
	"github.com/mistio/tsfdb-server/internal/logging"
	"github.com/mistio/tsfdb-server/internal/tsdb"
)

// Rule is one retention rule as configured. Match is a comma-separated
// triple of anchored regexes "org,resource,metric"; "*" matches anything.
// Resolutions maps a resolution name to the retention period, in Go
// duration syntax.
type Rule struct {
	Match       string            `yaml:"match"`
	Resolutions map[string]string `yaml:"resolutions"`
}

// LoadRules reads a rules file.
func LoadRules(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read rules")
	}
	var rules []Rule
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return nil, errors.Wrap(err, "parse rules")
	}
	return rules, nil
}

type compiledRule struct {
	org, resource, metric *regexp.Regexp // nil matches anything
	periods               map[tsdb.Resolution]time.Duration
}

// Engine periodically applies the rules through the storage layer.
type Engine struct {
	layer    *tsdb.Layer
	rules    []compiledRule
	interval time.Duration
	log      *slog.Logger
}

// NewEngine compiles the rules. Invalid regexes, resolution names or
// durations fail construction.
func NewEngine(layer *tsdb.Layer, rules []Rule, interval time.Duration) (*Engine, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		parts := strings.Split(r.Match, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("rule match %q: want org,resource,metric", r.Match)
		}

		var cr compiledRule
		var err error
		if cr.org, err = compileMatch(parts[0]); err != nil {
			return nil, errors.Wrapf(err, "rule match %q", r.Match)
		}
		if cr.resource, err = compileMatch(parts[1]); err != nil {
			return nil, errors.Wrapf(err, "rule match %q", r.Match)
		}
		if cr.metric, err = compileMatch(parts[2]); err != nil {
			return nil, errors.Wrapf(err, "rule match %q", r.Match)
		}

		cr.periods = make(map[tsdb.Resolution]time.Duration, len(r.Resolutions))
		for name, raw := range r.Resolutions {
			res, err := tsdb.ParseResolution(name)
			if err != nil {
				return nil, errors.Wrapf(err, "rule match %q", r.Match)
			}
			period, err := time.ParseDuration(raw)
			if err != nil {
				return nil, errors.Wrapf(err, "rule match %q resolution %s", r.Match, name)
			}
			cr.periods[res] = period
		}
		compiled = append(compiled, cr)
	}

	return &Engine{
		layer:    layer,
		rules:    compiled,
		interval: interval,
		log:      logging.Component("retention"),
	}, nil
}

func compileMatch(pattern string) (*regexp.Regexp, error) {
	if pattern == "*" {
		return nil, nil
	}
	return regexp.Compile("^" + pattern + "$")
}

// Run applies the rules until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := e.Apply(ctx); err != nil {
			e.log.Error("retention pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(e.interval):
		}
	}
}

// Apply runs one retention pass over everything the catalog knows. Every
// metric is claimed by the first rule matching it; later rules see only
// unclaimed metrics.
func (e *Engine) Apply(ctx context.Context) error {
	orgs, err := e.layer.FindOrgs()
	if err != nil {
		return err
	}

	// Unclaimed metric pool per (org, resource).
	type key struct{ org, resource string }
	pool := make(map[key]map[string]struct{})
	resourcesByOrg := make(map[string][]string)

	for _, org := range orgs {
		resources, err := e.layer.FindResources(org, "*", nil)
		if err != nil {
			if errors.IsNotFound(err) {
				continue
			}
			return err
		}
		resourcesByOrg[org] = resources
		for _, resource := range resources {
			metrics, err := e.layer.FindMetrics(org, resource)
			if err != nil {
				return err
			}
			set := make(map[string]struct{}, len(metrics))
			for name := range metrics {
				set[name] = struct{}{}
			}
			pool[key{org, resource}] = set
		}
	}

	deleted := 0
	for _, rule := range e.rules {
		for _, org := range orgs {
			if rule.org != nil && !rule.org.MatchString(org) {
				continue
			}
			for _, resource := range resourcesByOrg[org] {
				if rule.resource != nil && !rule.resource.MatchString(resource) {
					continue
				}
				unclaimed := pool[key{org, resource}]
				for metric := range unclaimed {
					if rule.metric != nil && !rule.metric.MatchString(metric) {
						continue
					}
					delete(unclaimed, metric)
					if err := e.expire(ctx, org, resource, metric, rule); err != nil {
						return err
					}
					deleted++
				}
			}
		}
	}

	if deleted > 0 {
		e.log.Info("retention pass done", "expired_metrics", deleted)
	}
	return nil
}

func (e *Engine) expire(ctx context.Context, org, resource, metric string, rule compiledRule) error {
	for res, period := range rule.periods {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		stop := time.Now().Add(-period)
		if err := e.layer.DeleteDatapoints(org, resource, metric, time.Unix(0, 0), stop, res); err != nil {
			return err
		}
	}
	return nil
}
