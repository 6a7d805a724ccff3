package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-realtime/core/protocol"
)

type outboundItem struct {
	name   string
	frames [][]byte
}

// link is one established websocket. A Channel replaces its link on
// reconnect; whatever was queued on the old link is discarded with it.
type link struct {
	ws    *websocket.Conn
	first protocol.ServerEvent
	out   chan outboundItem

	closing   chan struct{}
	closeOnce sync.Once

	done     chan struct{}
	doneOnce sync.Once
	err      error
}

func newLink(ws *websocket.Conn, first protocol.ServerEvent, queueSize int) *link {
	return &link{
		ws:      ws,
		first:   first,
		out:     make(chan outboundItem, queueSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (l *link) write(item outboundItem, timeout time.Duration) error {
	for _, frame := range item.frames {
		if err := l.ws.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("write %s: %w", item.name, err)
		}
		if err := l.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			return fmt.Errorf("write %s: %w", item.name, err)
		}
	}
	return nil
}

// beginClose asks the writer to flush the queue and close gracefully.
func (l *link) beginClose() {
	l.closeOnce.Do(func() { close(l.closing) })
}

func (l *link) shutdown(err error) {
	l.doneOnce.Do(func() {
		l.err = err
		close(l.done)
		if l.ws != nil {
			_ = l.ws.Close()
		}
	})
}

func (l *link) isDone() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}
