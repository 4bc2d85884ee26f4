package sink

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgoj/logrelay/internal/record"
)

func TestConsoleSink_Text(t *testing.T) {
	var out bytes.Buffer
	s := newConsoleWriter("console", &out, "text", false)

	require.NoError(t, s.Write(context.Background(), rec("hello")))
	require.NoError(t, s.Write(context.Background(), rec("world")))
	assert.Equal(t,
		"[2025-03-14T09:26:53.589Z] INFO app: hello\n[2025-03-14T09:26:53.589Z] INFO app: world\n",
		out.String())
	assert.Equal(t, "console", s.Name())
	assert.NoError(t, s.Flush(context.Background()))
	assert.NoError(t, s.Close())
}

func TestConsoleSink_Color(t *testing.T) {
	var out bytes.Buffer
	s := newConsoleWriter("console", &out, "text", true)

	require.NoError(t, s.Write(context.Background(), recAt(record.ERROR, "bad")))
	assert.Equal(t, "\x1b[31m[2025-03-14T09:26:53.589Z] ERROR app: bad\x1b[0m\n", out.String())
}

func TestConsoleSink_JSON(t *testing.T) {
	var out bytes.Buffer
	s := newConsoleWriter("console", &out, "json", false)

	require.NoError(t, s.Write(context.Background(), rec("hi")))
	assert.Equal(t,
		`{"level":"INFO","timestamp":"2025-03-14T09:26:53.589Z","logger":"app","message":"hi","attributes":{}}`+"\n",
		out.String())
}
