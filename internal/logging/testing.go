package logging

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger is a Logger that records every entry at trace level and above.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger creates a recording logger.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		observed: observed,
	}
}

// All returns every recorded entry.
func (t *TestLogger) All() []observer.LoggedEntry { return t.observed.All() }

// FilterMessage returns entries whose message is exactly msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessage(msg)
}

// FilterLogID returns entries tagged with id.
func (t *TestLogger) FilterLogID(id LogID) *observer.ObservedLogs {
	return t.observed.FilterField(id.Field())
}

// Reset drops recorded entries.
func (t *TestLogger) Reset() { t.observed.TakeAll() }

// AssertLogID verifies exactly one entry was tagged with id, at level, and
// returns it.
func (t *TestLogger) AssertLogID(tb testing.TB, level zapcore.Level, id LogID) observer.LoggedEntry {
	tb.Helper()
	entries := t.FilterLogID(id).All()
	if len(entries) != 1 {
		tb.Fatalf("want one %s (%d) entry, got %d\n%s", id, int(id), len(entries), t.dump())
	}
	if entries[0].Level != level {
		tb.Errorf("%s logged at %v, want %v", id, entries[0].Level, level)
	}
	return entries[0]
}

// AssertNoLogID verifies nothing was tagged with id.
func (t *TestLogger) AssertNoLogID(tb testing.TB, id LogID) {
	tb.Helper()
	if n := t.FilterLogID(id).Len(); n != 0 {
		tb.Errorf("want no %s entries, got %d\n%s", id, n, t.dump())
	}
}

// AssertLogged verifies some entry at level has a message containing sub.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, sub string) {
	tb.Helper()
	if len(t.scan(level, sub)) == 0 {
		tb.Errorf("no %v entry containing %q\n%s", level, sub, t.dump())
	}
}

// AssertNotLogged verifies no entry at level has a message containing sub.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, sub string) {
	tb.Helper()
	if hits := t.scan(level, sub); len(hits) > 0 {
		tb.Errorf("unexpected %v entries containing %q: %d", level, sub, len(hits))
	}
}

// AssertField verifies an entry with message msg carries key=want.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want any) {
	tb.Helper()
	for _, e := range t.observed.FilterMessage(msg).All() {
		if got, ok := e.ContextMap()[key]; ok && reflect.DeepEqual(got, want) {
			return
		}
	}
	tb.Errorf("no %q entry with %s=%v\n%s", msg, key, want, t.dump())
}

var leakPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+\S+`),
	credentialsRe,
}

var sensitiveKeys = []string{"password", "secret", "token", "api_key", "authorization", "credential", "connection_string"}

// AssertNoSecrets verifies no entry leaked credentials in its message or
// string fields.
func (t *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()
	for _, e := range t.observed.All() {
		texts := map[string]string{"message": e.Message}
		for _, f := range e.Context {
			if f.Type == zapcore.StringType {
				texts[f.Key] = f.String
			}
		}
		for key, text := range texts {
			for _, re := range leakPatterns {
				if re.MatchString(text) {
					tb.Errorf("credential pattern in %s: %q", key, text)
				}
			}
			if key != "message" && text != "" && isSensitiveKey(key) && !strings.HasPrefix(text, "[REDACTED") {
				tb.Errorf("sensitive field %s not redacted: %q", key, text)
			}
		}
	}
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}

func (t *TestLogger) scan(level zapcore.Level, sub string) []observer.LoggedEntry {
	var hits []observer.LoggedEntry
	for _, e := range t.observed.All() {
		if e.Level == level && strings.Contains(e.Message, sub) {
			hits = append(hits, e)
		}
	}
	return hits
}

func (t *TestLogger) dump() string {
	var b strings.Builder
	for _, e := range t.observed.All() {
		fmt.Fprintf(&b, "  %v %q %v\n", e.Level, e.Message, e.ContextMap())
	}
	return b.String()
}
