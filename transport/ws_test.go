package transport

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/learn-decentralized-systems/toyqueue"
	"github.com/stretchr/testify/assert"

	"github.com/zerkalo-sync/zerkalo/utils"
)

func echoServer(t *testing.T) *httptest.Server {
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		defer conn.Close()
		for {
			kind, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err = conn.WriteMessage(kind, msg); err != nil {
				return
			}
		}
	}))
}

func TestWebSocketEcho(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, err := Dial(url, utils.NewDefaultLogger(slog.LevelError))
	assert.Nil(t, err)

	assert.Nil(t, ws.Drain(toyqueue.Records{[]byte("ping"), []byte("pong")}))

	var got toyqueue.Records
	for len(got) < 2 {
		recs, err := ws.Feed()
		assert.Nil(t, err)
		got = append(got, recs...)
	}
	assert.Equal(t, []byte("ping"), got[0])
	assert.Equal(t, []byte("pong"), got[1])

	assert.Nil(t, ws.Close())
	_, err = ws.Feed()
	assert.Equal(t, ErrClosed, err)
}

func TestDialFailure(t *testing.T) {
	_, err := Dial("ws://127.0.0.1:1/nope", utils.NewDefaultLogger(slog.LevelError))
	assert.NotNil(t, err)
}
