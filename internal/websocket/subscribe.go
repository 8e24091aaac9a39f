package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	ws "github.com/coder/websocket"
)

// Subscribe dials the change feed at url with a bearer token and calls fn
// for every message until ctx is done or the server closes the stream.
func Subscribe(ctx context.Context, url, token string, fn func(Message)) error {
	conn, _, err := ws.Dial(ctx, url, &ws.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}
	defer conn.CloseNow()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || ws.CloseStatus(err) == ws.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read feed: %w", err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("decode feed message: %w", err)
		}
		if msg.Entity == "" {
			continue
		}
		fn(msg)
	}
}
