// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronExpr is a parsed 6-field cron expression: second, minute, hour,
// day-of-month, month, day-of-week. The extra leading seconds field (the
// teacher's own cron parser is minute-granularity) is required because
// the scheduler's tick resolution is 1 second and fire times are dedup'd
// to the second (spec §4.2, §8 scenario 1).
type CronExpr struct {
	second     []int // 0-59
	minute     []int // 0-59
	hour       []int // 0-23
	dayOfMonth []int // 1-31
	month      []int // 1-12
	dayOfWeek  []int // 0-6 (0 = Sunday)
}

// ParseCron parses a 6-field cron expression, evaluated in UTC.
// Format: second minute hour day-of-month month day-of-week
// Examples:
//   - "0 * * * * *"    - every minute, on the minute
//   - "0 0 * * * *"    - every hour
//   - "0 */15 * * * *" - every 15 minutes
//   - "0 0 9 * * 1-5"  - 9 AM UTC on weekdays
func ParseCron(expr string) (*CronExpr, error) {
	fields := strings.Fields(expr)
	if len(fields) != 6 {
		return nil, fmt.Errorf("expected 6 fields (second minute hour day month weekday), got %d", len(fields))
	}

	c := &CronExpr{}
	var err error

	if c.second, err = parseField(fields[0], 0, 59); err != nil {
		return nil, fmt.Errorf("invalid second field: %w", err)
	}
	if c.minute, err = parseField(fields[1], 0, 59); err != nil {
		return nil, fmt.Errorf("invalid minute field: %w", err)
	}
	if c.hour, err = parseField(fields[2], 0, 23); err != nil {
		return nil, fmt.Errorf("invalid hour field: %w", err)
	}
	if c.dayOfMonth, err = parseField(fields[3], 1, 31); err != nil {
		return nil, fmt.Errorf("invalid day-of-month field: %w", err)
	}
	if c.month, err = parseField(fields[4], 1, 12); err != nil {
		return nil, fmt.Errorf("invalid month field: %w", err)
	}
	if c.dayOfWeek, err = parseField(fields[5], 0, 6); err != nil {
		return nil, fmt.Errorf("invalid day-of-week field: %w", err)
	}

	return c, nil
}

func parseField(field string, min, max int) ([]int, error) {
	var result []int
	for _, part := range strings.Split(field, ",") {
		values, err := parseFieldPart(part, min, max)
		if err != nil {
			return nil, err
		}
		result = append(result, values...)
	}
	return unique(result), nil
}

func parseFieldPart(part string, min, max int) ([]int, error) {
	step := 1
	if idx := strings.Index(part, "/"); idx != -1 {
		stepStr := part[idx+1:]
		var err error
		step, err = strconv.Atoi(stepStr)
		if err != nil || step <= 0 {
			return nil, fmt.Errorf("invalid step: %s", stepStr)
		}
		part = part[:idx]
	}

	var start, end int
	switch {
	case part == "*":
		start, end = min, max
	case strings.Contains(part, "-"):
		idx := strings.Index(part, "-")
		var err error
		if start, err = strconv.Atoi(part[:idx]); err != nil {
			return nil, fmt.Errorf("invalid range start: %s", part[:idx])
		}
		if end, err = strconv.Atoi(part[idx+1:]); err != nil {
			return nil, fmt.Errorf("invalid range end: %s", part[idx+1:])
		}
	default:
		var err error
		if start, err = strconv.Atoi(part); err != nil {
			return nil, fmt.Errorf("invalid value: %s", part)
		}
		end = start
	}

	if start < min || start > max || end < min || end > max || start > end {
		return nil, fmt.Errorf("value out of range [%d-%d]: %s", min, max, part)
	}

	var result []int
	for i := start; i <= end; i += step {
		result = append(result, i)
	}
	return result, nil
}

func unique(slice []int) []int {
	seen := make(map[int]bool, len(slice))
	result := slice[:0]
	for _, v := range slice {
		if !seen[v] {
			seen[v] = true
			result = append(result, v)
		}
	}
	return result
}

func contains(slice []int, val int) bool {
	for _, v := range slice {
		if v == val {
			return true
		}
	}
	return false
}

// Matches reports whether t (truncated to the second, in UTC) satisfies
// every field of the expression.
func (c *CronExpr) Matches(t time.Time) bool {
	t = t.UTC()
	dayMatch := contains(c.dayOfMonth, t.Day()) && contains(c.dayOfWeek, int(t.Weekday()))
	return contains(c.second, t.Second()) &&
		contains(c.minute, t.Minute()) &&
		contains(c.hour, t.Hour()) &&
		dayMatch &&
		contains(c.month, int(t.Month()))
}

// FireTimes returns every second-aligned instant in the half-open interval
// (after, upTo] at which the expression matches, in ascending order. Both
// bounds are truncated to the second. Capped at one implementation year of
// iteration as a runaway guard against a pathologically large forward
// clock jump; callers see a (possibly incomplete) result rather than an
// unbounded scan.
func (c *CronExpr) FireTimes(after, upTo time.Time) []time.Time {
	after = after.UTC().Truncate(time.Second)
	upTo = upTo.UTC().Truncate(time.Second)

	const maxIterations = 366 * 24 * 60 * 60

	var fires []time.Time
	t := after.Add(time.Second)
	for i := 0; t.Compare(upTo) <= 0 && i < maxIterations; i++ {
		if c.Matches(t) {
			fires = append(fires, t)
		}
		t = t.Add(time.Second)
	}
	return fires
}
