// Package transport ships the default websocket endpoint behind the
// feed/drain queue contract the room core expects. The core never
// imports this package; it only sees a DrainCloser.
package transport

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/learn-decentralized-systems/toyqueue"

	"github.com/zerkalo-sync/zerkalo/utils"
)

const (
	MAX_IN_QUEUE_LEN = 1 << 16

	MAX_RETRY_PERIOD = time.Minute
	MIN_RETRY_PERIOD = time.Second / 2
)

var ErrClosed = errors.New("transport: endpoint closed")

// WebSocket is a redialing client endpoint. Incoming binary messages
// are fed as records; Drain writes one binary message per record.
type WebSocket struct {
	closed atomic.Bool

	log utils.Logger
	url string

	lock sync.Mutex
	conn *websocket.Conn

	queue toyqueue.RecordQueue
	inq   toyqueue.FeedDrainCloser

	wg sync.WaitGroup
}

func Dial(url string, log utils.Logger) (*WebSocket, error) {
	ws := &WebSocket{
		log:   log,
		url:   url,
		queue: toyqueue.RecordQueue{Limit: MAX_IN_QUEUE_LEN},
	}
	ws.inq = ws.queue.Blocking()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	ws.conn = conn

	ws.wg.Add(1)
	go func() {
		ws.keepReading()
		ws.wg.Done()
	}()
	return ws, nil
}

func (ws *WebSocket) keepReading() {
	backoff := MIN_RETRY_PERIOD
	for !ws.closed.Load() {
		ws.lock.Lock()
		conn := ws.conn
		ws.lock.Unlock()

		if conn == nil {
			var err error
			conn, _, err = websocket.DefaultDialer.Dial(ws.url, nil)
			if err != nil {
				ws.log.Error("ws: couldn't reconnect", "url", ws.url, "err", err)
				time.Sleep(backoff)
				backoff = min(MAX_RETRY_PERIOD, backoff*2)
				continue
			}
			ws.log.Info("ws: reconnected", "url", ws.url)
			backoff = MIN_RETRY_PERIOD
			ws.lock.Lock()
			ws.conn = conn
			ws.lock.Unlock()
		}

		ws.readAll(conn)

		ws.lock.Lock()
		ws.conn = nil
		ws.lock.Unlock()
	}
}

func (ws *WebSocket) readAll(conn *websocket.Conn) {
	for !ws.closed.Load() {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !ws.closed.Load() {
				ws.log.Warn("ws: read failed", "url", ws.url, "err", err)
			}
			_ = conn.Close()
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		if err = ws.inq.Drain(toyqueue.Records{data}); err != nil {
			_ = conn.Close()
			return
		}
	}
}

// Feed blocks until at least one inbound record is available.
func (ws *WebSocket) Feed() (toyqueue.Records, error) {
	if ws.closed.Load() {
		return nil, ErrClosed
	}
	return ws.inq.Feed()
}

func (ws *WebSocket) Drain(recs toyqueue.Records) error {
	if ws.closed.Load() {
		return ErrClosed
	}
	ws.lock.Lock()
	conn := ws.conn
	ws.lock.Unlock()
	if conn == nil {
		return errors.New("transport: not connected")
	}
	for _, rec := range recs {
		if err := conn.WriteMessage(websocket.BinaryMessage, rec); err != nil {
			return err
		}
	}
	return nil
}

func (ws *WebSocket) Close() error {
	if ws.closed.Swap(true) {
		return nil
	}
	ws.lock.Lock()
	if ws.conn != nil {
		_ = ws.conn.Close()
		ws.conn = nil
	}
	ws.lock.Unlock()
	_ = ws.inq.Close()
	ws.wg.Wait()
	return nil
}
