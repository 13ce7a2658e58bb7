// Package ingest turns line-protocol write batches into storage-layer
// writes, either directly or through the distributed ingest queue.
package ingest

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/influxdata/line-protocol/v2/lineprotocol"

	"github.com/mistio/tsfdb-server/internal/errors"
)

// Reserved tags stripped from every line: the resource identity and the
// hostname the agent adds on its own.
const (
	resourceTag = "machine_id"
	hostTag     = "host"
)

// Point is one parsed measurement field, ready for the storage layer.
// Value is int64, float64, string or bool.
type Point struct {
	Resource string
	Metric   string
	Time     time.Time
	Value    any
}

type tag struct {
	key, value string
}

var multiDotRe = regexp.MustCompile(`\.+`)

// ParseBatch parses a newline-delimited line-protocol batch. Any malformed
// line fails the whole batch with a bad-request error identifying the line;
// nothing is partially committed.
func ParseBatch(data string) ([]Point, error) {
	dec := lineprotocol.NewDecoderWithBytes([]byte(data))

	var points []Point
	line := 0
	for dec.Next() {
		line++
		measurement, err := dec.Measurement()
		if err != nil {
			return nil, badLine(line, err)
		}

		resource := ""
		var tags []tag
		for {
			key, value, err := dec.NextTag()
			if err != nil {
				return nil, badLine(line, err)
			}
			if key == nil {
				break
			}
			switch string(key) {
			case resourceTag:
				resource = string(value)
			case hostTag:
			default:
				tags = append(tags, tag{key: string(key), value: string(value)})
			}
		}
		if resource == "" {
			return nil, errors.BadRequestf("line %d: missing %s tag", line, resourceTag)
		}

		metric := metricName(string(measurement), tags)

		var fields []Point
		for {
			key, value, err := dec.NextField()
			if err != nil {
				return nil, badLine(line, err)
			}
			if key == nil {
				break
			}
			fields = append(fields, Point{
				Resource: resource,
				Metric:   metric + "." + string(key),
				Value:    fieldValue(value),
			})
		}

		t, err := dec.Time(lineprotocol.Nanosecond, time.Now())
		if err != nil {
			return nil, badLine(line, err)
		}
		t = t.Truncate(time.Second)

		for i := range fields {
			fields[i].Time = t
		}
		points = append(points, fields...)
	}
	return points, nil
}

func badLine(line int, err error) error {
	return errors.BadRequestf("line %d: %v", line, err)
}

func fieldValue(v lineprotocol.Value) any {
	switch v.Kind() {
	case lineprotocol.Float:
		return v.FloatV()
	case lineprotocol.Int:
		return v.IntV()
	case lineprotocol.Uint:
		return int64(v.UintV())
	case lineprotocol.String:
		return v.StringV()
	case lineprotocol.Bool:
		return v.BoolV()
	default:
		return v.String()
	}
}

// metricName builds the dotted metric name from the measurement and its
// remaining tags: tags sorted alphabetically, tags named after the
// measurement promoted to the front, the measurement string stripped from
// tag keys and values, empty fragments dropped.
func metricName(measurement string, tags []tag) string {
	sort.Slice(tags, func(i, j int) bool { return tags[i].key < tags[j].key })
	sort.SliceStable(tags, func(i, j int) bool {
		return tags[i].key == measurement && tags[j].key != measurement
	})

	metric := measurement
	for _, t := range tags {
		key := strings.ReplaceAll(t.key, measurement, "")
		value := strings.ReplaceAll(t.value, measurement, "")
		switch {
		case key != "" && value != "":
			metric += "." + key + "-" + value
		case key != "":
			metric += "." + key
		case value != "":
			metric += "." + value
		}
	}

	metric = strings.ReplaceAll(metric, "/", "-")
	metric = strings.ReplaceAll(metric, ".-", ".")
	return multiDotRe.ReplaceAllString(metric, ".")
}

// batchResource extracts the resource identity of a batch's first line,
// which routes the whole batch to its queue shard.
func batchResource(data string) (string, error) {
	points, err := ParseBatch(firstLine(data))
	if err != nil {
		return "", err
	}
	if len(points) == 0 {
		return "", errors.BadRequestf("empty write batch")
	}
	return points[0].Resource, nil
}

func firstLine(data string) string {
	for _, line := range strings.Split(data, "\n") {
		if strings.TrimSpace(line) != "" {
			return line
		}
	}
	return ""
}
