package scheduler

import (
	"testing"
	"time"
)

func mustParse(t *testing.T, expr string) *CronExpr {
	t.Helper()
	c, err := ParseCron(expr)
	if err != nil {
		t.Fatalf("ParseCron(%q) error = %v", expr, err)
	}
	return c
}

func TestParseCron_RejectsWrongFieldCount(t *testing.T) {
	if _, err := ParseCron("0 * * * *"); err == nil {
		t.Fatal("expected error for 5-field expression")
	}
}

func TestMatches_EveryMinuteOnTheMinute(t *testing.T) {
	c := mustParse(t, "0 * * * * *")

	match := time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)
	if !c.Matches(match) {
		t.Errorf("expected match at %v", match)
	}

	noMatch := time.Date(2024, 1, 1, 1, 0, 30, 0, time.UTC)
	if c.Matches(noMatch) {
		t.Errorf("did not expect match at %v", noMatch)
	}
}

func TestFireTimes_CronTriggerScenario(t *testing.T) {
	// spec.md §8 scenario 1: trigger "0 * * * * *" with ticks at
	// 00:59:45 and 01:00:15 must fire exactly once, at 01:00:00.
	c := mustParse(t, "0 * * * * *")

	tick1 := time.Date(2024, 1, 1, 0, 59, 45, 0, time.UTC)
	tick2 := time.Date(2024, 1, 1, 1, 0, 15, 0, time.UTC)

	first := c.FireTimes(tick1.Add(-time.Second), tick1)
	if len(first) != 0 {
		t.Fatalf("expected no fires before the first tick, got %v", first)
	}

	second := c.FireTimes(tick1, tick2)
	if len(second) != 1 {
		t.Fatalf("expected exactly one fire between ticks, got %v", second)
	}
	want := time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)
	if !second[0].Equal(want) {
		t.Errorf("fire time = %v, want %v", second[0], want)
	}
}

func TestFireTimes_HalfOpenInterval(t *testing.T) {
	c := mustParse(t, "0 * * * * *")
	at := time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)

	// "after" is exclusive: a tick landing exactly on a fire time must not
	// re-fire it on the next call that starts from that same instant.
	fires := c.FireTimes(at, at)
	if len(fires) != 0 {
		t.Errorf("FireTimes(at, at) = %v, want none (after is exclusive)", fires)
	}
}

func TestParseField_Range(t *testing.T) {
	c := mustParse(t, "0 0 9 * * 1-5")

	weekday := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) // Monday
	if !c.Matches(weekday) {
		t.Errorf("expected match on weekday at 09:00, got none for %v", weekday)
	}

	weekend := time.Date(2024, 1, 6, 9, 0, 0, 0, time.UTC) // Saturday
	if c.Matches(weekend) {
		t.Errorf("did not expect match on weekend for %v", weekend)
	}
}

func TestParseField_Step(t *testing.T) {
	c := mustParse(t, "0 */15 * * * *")

	if !c.Matches(time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC)) {
		t.Error("expected match at :30")
	}
	if c.Matches(time.Date(2024, 1, 1, 0, 31, 0, 0, time.UTC)) {
		t.Error("did not expect match at :31")
	}
}
