package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		level    string
		encoding string
		wantErr  bool
	}{
		{"info json", "info", "json", false},
		{"debug console", "DEBUG", "console", false},
		{"default encoding", "warn", "", false},
		{"bad level", "loud", "json", true},
		{"bad encoding", "info", "xml", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			l, err := New(tt.level, tt.encoding)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, l)
			l.Info("hello", StringField("k", "v"), IntField("n", 1), ErrorField(errors.New("x")))
		})
	}
}

func TestOrNop(t *testing.T) {
	t.Parallel()

	assert.NotNil(t, OrNop(nil))
	l := Nop()
	assert.Same(t, l, OrNop(l))
	assert.NotNil(t, l.With(Field("a", 1)).Named("child"))
}
