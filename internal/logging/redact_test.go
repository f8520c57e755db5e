package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/mdbmcp/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSecretMarshaler(t *testing.T) {
	secret := config.Secret("super-secret-value")

	core, observed := observer.New(zapcore.InfoLevel)
	logger := &Logger{zap: zap.New(core), config: NewDefaultConfig()}

	logger.Info(context.Background(), "test secret", Secret("sink_api_key", secret))

	logs := observed.All()
	require.Len(t, logs, 1)

	field := logs[0].Context[0]
	marshaler, ok := field.Interface.(zapcore.ObjectMarshaler)
	require.True(t, ok)

	enc := zapcore.NewMapObjectEncoder()
	require.NoError(t, marshaler.MarshalLogObject(enc))
	assert.Equal(t, "[REDACTED:18]", enc.Fields["sink_api_key"])
}

func TestRedactedString(t *testing.T) {
	f := RedactedString("api_key", "sk-1234567890abcdef")
	assert.Equal(t, "[REDACTED:19]", f.String)
}

func TestRedactConnectionString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"mongodb://alice:pw@db:27017/app", "mongodb://[REDACTED]@db:27017/app"},
		{"mongodb+srv://u:p@cluster0.example.net", "mongodb+srv://[REDACTED]@cluster0.example.net"},
		{"mongodb://localhost:27017", "mongodb://localhost:27017"},
		{"not a uri", "not a uri"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RedactConnectionString(tt.in))
	}

	f := ConnectionString("uri", config.Secret("mongodb://alice:pw@db"))
	assert.Equal(t, "mongodb://[REDACTED]@db", f.String)
}

func TestRedactingEncoder_EncodeEntry(t *testing.T) {
	encoder, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	buf, err := encoder.EncodeEntry(zapcore.Entry{Message: "m"}, []zapcore.Field{
		zap.String("password", "hunter2"),
		zap.String("header", "Bearer abc.def"),
		zap.String("uri", "mongodb://a:b@host"),
		zap.String("plain", "hello"),
	})
	require.NoError(t, err)
	out := buf.String()

	assert.Contains(t, out, `"password":"[REDACTED]"`)
	assert.Contains(t, out, `"header":"[REDACTED:pattern]"`)
	assert.Contains(t, out, `"uri":"mongodb://[REDACTED]@host"`)
	assert.Contains(t, out, `"plain":"hello"`)
	assert.NotContains(t, out, "hunter2")
}

func TestNewRedactingEncoder_InvalidPattern(t *testing.T) {
	cfg := RedactionConfig{
		Enabled:  true,
		Patterns: []string{`(?i)bearer\s+\S+`, "[invalid("},
	}

	encoder, err := NewRedactingEncoder(newEncoder("json"), cfg)
	assert.Nil(t, encoder)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redaction pattern")
}

func TestNewRedactingEncoder_PatternTooLong(t *testing.T) {
	cfg := RedactionConfig{
		Enabled:  true,
		Patterns: []string{strings.Repeat("a", maxPatternLen+1)},
	}

	_, err := NewRedactingEncoder(newEncoder("json"), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pattern too long")
}

func TestNewRedactingEncoder_DisabledSkipsValidation(t *testing.T) {
	cfg := RedactionConfig{Enabled: false, Patterns: []string{"[invalid("}}

	encoder, err := NewRedactingEncoder(newEncoder("json"), cfg)
	require.NoError(t, err)
	assert.Nil(t, encoder.rules)

	buf, err := encoder.EncodeEntry(zapcore.Entry{Message: "m"}, []zapcore.Field{zap.String("password", "visible")})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"password":"visible"`)
}

func TestRedactingEncoder_SensitiveNonStringFields(t *testing.T) {
	encoder, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	buf, err := encoder.EncodeEntry(zapcore.Entry{Message: "m"}, []zapcore.Field{
		zap.Binary("token", []byte("raw-token")),
		zap.Any("credential", map[string]string{"user": "u", "pass": "p"}),
		zap.Strings("secret", []string{"a", "b"}),
	})
	require.NoError(t, err)
	out := buf.String()

	assert.Contains(t, out, `"token":"[REDACTED]"`)
	assert.Contains(t, out, `"credential":"[REDACTED]"`)
	assert.Contains(t, out, `"secret":"[REDACTED]"`)
}

func TestRedactingEncoder_Clone(t *testing.T) {
	encoder, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	clone, ok := encoder.Clone().(*RedactingEncoder)
	require.True(t, ok)
	assert.Same(t, encoder.rules, clone.rules)
	assert.NotSame(t, encoder.Encoder, clone.Encoder)
}
