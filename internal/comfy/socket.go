package comfy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
)

// EventSource yields notification frames one at a time. Next must return
// when ctx is done. Close releases the underlying connection and may be
// called more than once.
type EventSource interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// Subscription is an open /ws notification channel scoped to one client id.
type Subscription struct {
	conn     *websocket.Conn
	clientID string

	closeOnce sync.Once
	closeErr  error
}

// Subscribe opens the notification channel for clientID. Open it before
// submitting the job: the server only pushes events to sockets that are
// connected when they happen.
//
// CALLER MUST call Close on the returned Subscription.
func (c *Client) Subscribe(ctx context.Context, clientID string) (*Subscription, error) {
	if clientID == "" {
		return nil, errors.New("client id cannot be empty")
	}

	u := *c.wsURL
	u.RawQuery = url.Values{"clientId": []string{clientID}}.Encode()

	conn, resp, err := websocket.Dial(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		classified := c.classifyError(err)
		if errors.Is(classified, ErrNotRunning) {
			return nil, fmt.Errorf("%w: %w at %s", ErrChannel, ErrNotRunning, c.baseURL)
		}
		return nil, fmt.Errorf("%w: dial %s: %w", ErrChannel, c.wsURL, classified)
	}
	conn.SetReadLimit(maxFrameSize)

	c.logger.Debug("Subscribed to notifications for client %s", clientID)

	return &Subscription{conn: conn, clientID: clientID}, nil
}

// ClientID returns the client id the subscription is scoped to.
func (s *Subscription) ClientID() string {
	return s.clientID
}

// Next blocks until the next frame arrives or ctx is done. When ctx expires
// the websocket library tears the connection down, so a Subscription is not
// reusable after a failed Next.
func (s *Subscription) Next(ctx context.Context) (Frame, error) {
	typ, data, err := s.conn.Read(ctx)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Binary: typ == websocket.MessageBinary, Data: data}, nil
}

// Close sends a normal closure and releases the connection. Only the first
// call does any work; later calls return the first result.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		err := s.conn.Close(websocket.StatusNormalClosure, "")
		if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
			// The connection may already be gone after a read timeout;
			// make sure the socket itself is released.
			_ = s.conn.CloseNow()
			s.closeErr = err
		}
	})
	return s.closeErr
}
