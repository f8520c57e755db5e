package logging

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/mdbmcp/internal/config"
)

// maxPatternLen bounds configured redaction regexes.
const maxPatternLen = 200

const (
	redactedValue   = "[REDACTED]"
	redactedPattern = "[REDACTED:pattern]"
)

var credentialsRe = regexp.MustCompile(connectionStringPattern)

// redactedLen is the placeholder for a value whose length may be shown.
func redactedLen(v string) string {
	return fmt.Sprintf("[REDACTED:%d]", len(v))
}

type secretObject struct {
	key string
	val config.Secret
}

func (s secretObject) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString(s.key, redactedLen(s.val.Value()))
	return nil
}

// Secret logs a config.Secret as its length only.
func Secret(key string, val config.Secret) zap.Field {
	return zap.Object(key, secretObject{key: key, val: val})
}

// RedactedString logs val as its length only.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, redactedLen(val))
}

// RedactConnectionString replaces the user:password part of a connection
// URI. Scheme, host and database stay readable.
//
//	mongodb://alice:pw@db:27017/app -> mongodb://[REDACTED]@db:27017/app
func RedactConnectionString(uri string) string {
	return credentialsRe.ReplaceAllStringFunc(uri, func(m string) string {
		scheme, _, _ := strings.Cut(m, "://")
		return scheme + "://" + redactedValue + "@"
	})
}

// ConnectionString logs uri with its credentials removed.
func ConnectionString(key string, uri config.Secret) zap.Field {
	return zap.String(key, RedactConnectionString(uri.Value()))
}

// redactor holds compiled rules. It is shared by an encoder and its clones.
type redactor struct {
	keys     map[string]struct{}
	patterns []*regexp.Regexp
}

func newRedactor(cfg RedactionConfig) (*redactor, error) {
	r := &redactor{keys: make(map[string]struct{}, len(cfg.Fields))}
	for _, f := range cfg.Fields {
		r.keys[strings.ToLower(f)] = struct{}{}
	}
	for _, p := range cfg.Patterns {
		if len(p) > maxPatternLen {
			return nil, fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

func (r *redactor) sensitive(key string) bool {
	if r == nil {
		return false
	}
	_, ok := r.keys[strings.ToLower(key)]
	return ok
}

// value returns what to log for a string field. Connection strings keep
// their host; other pattern hits are replaced whole.
func (r *redactor) value(key, val string) string {
	switch {
	case r == nil:
		return val
	case r.sensitive(key):
		return redactedValue
	case credentialsRe.MatchString(val):
		return RedactConnectionString(val)
	}
	for _, re := range r.patterns {
		if re.MatchString(val) {
			return redactedPattern
		}
	}
	return val
}

// RedactingEncoder is a zapcore.Encoder that masks sensitive keys and
// credential-looking values before they reach the wrapped encoder.
type RedactingEncoder struct {
	zapcore.Encoder
	rules *redactor
}

// NewRedactingEncoder wraps base. With redaction disabled the rules are not
// compiled and values pass through.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	if !cfg.Enabled {
		return &RedactingEncoder{Encoder: base}, nil
	}
	rules, err := newRedactor(cfg)
	if err != nil {
		return nil, err
	}
	return &RedactingEncoder{Encoder: base, rules: rules}, nil
}

func (e *RedactingEncoder) AddString(key, val string) {
	e.Encoder.AddString(key, e.rules.value(key, val))
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.rules.sensitive(key) {
		e.Encoder.AddString(key, redactedValue)
		return
	}
	e.Encoder.AddByteString(key, val)
}

func (e *RedactingEncoder) AddBinary(key string, val []byte) {
	if e.rules.sensitive(key) {
		e.Encoder.AddString(key, redactedValue)
		return
	}
	e.Encoder.AddBinary(key, val)
}

func (e *RedactingEncoder) AddReflected(key string, val any) error {
	if e.rules.sensitive(key) {
		e.Encoder.AddString(key, redactedValue)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.rules.sensitive(key) {
		e.Encoder.AddString(key, redactedValue)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.rules.sensitive(key) {
		e.Encoder.AddString(key, redactedValue)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

// EncodeEntry adds per-entry fields through the masking Add methods above.
// The wrapped encoder would otherwise write them to its own clone unmasked.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	clone := e.clone()
	for _, f := range fields {
		f.AddTo(clone)
	}
	return clone.Encoder.EncodeEntry(ent, nil)
}

func (e *RedactingEncoder) Clone() zapcore.Encoder { return e.clone() }

func (e *RedactingEncoder) clone() *RedactingEncoder {
	return &RedactingEncoder{Encoder: e.Encoder.Clone(), rules: e.rules}
}
