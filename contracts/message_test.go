package contracts

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Run("plain event", func(t *testing.T) {
		in, err := Decode([]byte(`{"event":"token_issued","data":{"user_id":1}}`), "", "")
		require.NoError(t, err)

		event, ok := in.(*Event)
		require.True(t, ok)
		assert.Equal(t, "token_issued", event.String("event"))
		assert.Equal(t, float64(1), event.Map("data")["user_id"])
		assert.False(t, event.IsRequest())
		assert.Empty(t, event.CorrelationID)
	})

	t.Run("request carried in body fields", func(t *testing.T) {
		body := `{"action":"get_user_data","username":"alice","correlation_id":"c1","reply_to":"rq1"}`
		in, err := Decode([]byte(body), "", "")
		require.NoError(t, err)

		event, ok := in.(*Event)
		require.True(t, ok)
		assert.True(t, event.IsRequest())
		assert.Equal(t, "c1", event.CorrelationID)
		assert.Equal(t, "rq1", event.ReplyTo)
		assert.Equal(t, "alice", event.String("username"))
	})

	t.Run("request carried in properties", func(t *testing.T) {
		in, err := Decode([]byte(`{"action":"get_user_data"}`), "c2", "amq.gen-1")
		require.NoError(t, err)

		event := in.(*Event)
		assert.Equal(t, "c2", event.CorrelationID)
		assert.Equal(t, "amq.gen-1", event.ReplyTo)
	})

	t.Run("reply by body field", func(t *testing.T) {
		in, err := Decode([]byte(`{"username":"alice","correlation_id":"c1"}`), "", "")
		require.NoError(t, err)

		reply, ok := in.(*Reply)
		require.True(t, ok)
		assert.Equal(t, "c1", reply.CorrelationID)
		assert.Equal(t, "alice", reply.Payload()["username"])
	})

	t.Run("properties take precedence over body", func(t *testing.T) {
		in, err := Decode([]byte(`{"correlation_id":"body"}`), "prop", "")
		require.NoError(t, err)
		assert.Equal(t, "prop", in.(*Reply).CorrelationID)
	})

	t.Run("invalid bodies", func(t *testing.T) {
		for _, body := range []string{`not json`, `[1,2]`, `"text"`, `null`, ``} {
			_, err := Decode([]byte(body), "", "")
			var decodeErr *DecodeError
			require.ErrorAs(t, err, &decodeErr, "body %q", body)
		}

		_, err := Decode([]byte(`null`), "", "")
		assert.ErrorIs(t, err, ErrNotAnObject)
	})

	t.Run("decode error keeps a bounded body", func(t *testing.T) {
		body := []byte(strings.Repeat("x", 1000))
		_, err := Decode(body, "", "")

		var decodeErr *DecodeError
		require.ErrorAs(t, err, &decodeErr)
		assert.Len(t, decodeErr.Body, maxErrorBody)
		assert.Contains(t, decodeErr.Error(), "cannot decode message body")
	})
}

func TestEncode(t *testing.T) {
	data, err := Encode(map[string]any{"event": "user.created"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"user.created"}`, string(data))

	data, err = Encode(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	_, err = Encode(map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	in := map[string]any{
		"token":  []byte("abc"),
		"raw":    json.RawMessage(`{"a":1}`),
		"nested": map[string]any{"hash": []byte("xyz"), "n": 3},
		"list":   []any{[]byte("one"), "two"},
		"plain":  "text",
	}

	out := Normalize(in)

	assert.Equal(t, "abc", out["token"])
	assert.Equal(t, `{"a":1}`, out["raw"])
	assert.Equal(t, map[string]any{"hash": "xyz", "n": 3}, out["nested"])
	assert.Equal(t, []any{"one", "two"}, out["list"])
	assert.Equal(t, "text", out["plain"])

	// the input is left untouched
	assert.Equal(t, []byte("abc"), in["token"])

	_, err := Encode(out)
	assert.NoError(t, err)
}

func TestResult(t *testing.T) {
	timeout := TimeoutResult("c1")
	assert.True(t, timeout.TimedOut())
	assert.Equal(t, "c1", timeout.CorrelationID)
	assert.Equal(t, map[string]any{"status": "error", "message": "Request timeout"}, timeout.Body)

	data, err := Encode(timeout.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"error","message":"Request timeout"}`, string(data))

	replied := RepliedResult("c2", map[string]any{"username": "alice"})
	assert.False(t, replied.TimedOut())
	assert.Equal(t, StatusReplied, replied.Status)
}
