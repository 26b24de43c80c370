package page

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/eggpi/similarity/internal/tabs"
	"github.com/mailru/easyjson"
)

var ErrNoTarget = errors.New("no browser tab shows this page")

const outerHTMLScript = `document.documentElement.outerHTML`

// ChromeExtractor reads page markup out of tabs of a running Chrome over the
// DevTools protocol. Each read opens its own connection and attaches to the
// tab only until the document is read; tabs are never opened, navigated or
// closed.
type ChromeExtractor struct {
	wsURL string
}

// NewChromeExtractor checks the DevTools endpoint at cdpURL, e.g.
// ws://127.0.0.1:9222 or http://127.0.0.1:9222.
func NewChromeExtractor(ctx context.Context, cdpURL string) (*ChromeExtractor, error) {
	if cdpURL == "" {
		return nil, errors.New("chrome extractor: cdp url is required")
	}
	wsURL, err := resolveWebSocketURL(ctx, cdpURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to chrome at %s: %w", cdpURL, err)
	}

	e := &ChromeExtractor{wsURL: wsURL}
	s, err := e.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to chrome at %s: %w", cdpURL, err)
	}
	defer s.close()
	if _, err := s.targets(); err != nil {
		return nil, fmt.Errorf("connecting to chrome at %s: %w", cdpURL, err)
	}
	return e, nil
}

func (e *ChromeExtractor) Extract(ctx context.Context, t tabs.Tab) (string, error) {
	s, err := e.dial(ctx)
	if err != nil {
		return "", fmt.Errorf("connecting to chrome: %w", err)
	}
	defer s.close()

	// Reads on the connection ignore ctx; closing it unblocks them.
	stop := context.AfterFunc(ctx, func() { s.close() })
	defer stop()

	markup, err := s.outerHTML(t)
	if err != nil && ctx.Err() != nil {
		return "", ctx.Err()
	}
	return markup, err
}

func (e *ChromeExtractor) dial(ctx context.Context) (*cdpSession, error) {
	conn, err := chromedp.DialContext(ctx, e.wsURL)
	if err != nil {
		return nil, err
	}
	return &cdpSession{conn: conn}, nil
}

// cdpSession is one browser-level DevTools connection used by a single
// goroutine.
type cdpSession struct {
	conn *chromedp.Conn
	next int64
	once sync.Once
}

// close may race with a reader when the caller's context ends.
func (s *cdpSession) close() {
	s.once.Do(func() { s.conn.Close() })
}

func (s *cdpSession) targets() ([]*target.Info, error) {
	var res target.GetTargetsReturns
	if err := s.call("", target.CommandGetTargets, target.GetTargets(), &res); err != nil {
		return nil, err
	}
	return res.TargetInfos, nil
}

func (s *cdpSession) outerHTML(t tabs.Tab) (string, error) {
	infos, err := s.targets()
	if err != nil {
		return "", fmt.Errorf("listing targets: %w", err)
	}
	id, ok := findTarget(infos, t)
	if !ok {
		return "", fmt.Errorf("%s: %w", t.URL, ErrNoTarget)
	}

	var attached target.AttachToTargetReturns
	if err := s.call("", target.CommandAttachToTarget, target.AttachToTarget(id).WithFlatten(true), &attached); err != nil {
		return "", fmt.Errorf("attaching to %s: %w", id, err)
	}
	// Detaching leaves the tab as it was. If the connection is gone the
	// browser drops the session on its own.
	defer s.call("", target.CommandDetachFromTarget, target.DetachFromTarget().WithSessionID(attached.SessionID), nil)

	var res runtime.EvaluateReturns
	params := runtime.Evaluate(outerHTMLScript).WithReturnByValue(true)
	if err := s.call(attached.SessionID, runtime.CommandEvaluate, params, &res); err != nil {
		return "", fmt.Errorf("reading document of %s: %w", t.URL, err)
	}
	if res.ExceptionDetails != nil {
		return "", fmt.Errorf("reading document of %s: %w", t.URL, res.ExceptionDetails)
	}
	if res.Result == nil {
		return "", fmt.Errorf("reading document of %s: empty result", t.URL)
	}
	var markup string
	if err := json.Unmarshal(res.Result.Value, &markup); err != nil {
		return "", fmt.Errorf("decoding document of %s: %w", t.URL, err)
	}
	return markup, nil
}

// call sends one command and waits for its reply, skipping events and
// replies to other commands.
func (s *cdpSession) call(sessionID target.SessionID, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	s.next++
	msg := &cdproto.Message{
		ID:        s.next,
		SessionID: sessionID,
		Method:    cdproto.MethodType(method),
	}
	if params != nil {
		buf, err := easyjson.Marshal(params)
		if err != nil {
			return err
		}
		msg.Params = buf
	}
	if err := s.conn.Write(context.Background(), msg); err != nil {
		return fmt.Errorf("sending %s: %w", method, err)
	}

	for {
		var reply cdproto.Message
		if err := s.conn.Read(context.Background(), &reply); err != nil {
			return fmt.Errorf("waiting for %s: %w", method, err)
		}
		if reply.ID != msg.ID {
			continue
		}
		if reply.Error != nil {
			return fmt.Errorf("%s: %w", method, reply.Error)
		}
		if res == nil {
			return nil
		}
		return easyjson.Unmarshal(reply.Result, res)
	}
}

// resolveWebSocketURL turns a DevTools http endpoint into the browser's
// websocket URL by asking /json/version. Browser websocket URLs pass through.
func resolveWebSocketURL(ctx context.Context, cdpURL string) (string, error) {
	u, err := url.Parse(cdpURL)
	if err != nil {
		return "", fmt.Errorf("invalid cdp url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
		if strings.Contains(u.Path, "/devtools/browser/") {
			return cdpURL, nil
		}
		u.Scheme = strings.Replace(u.Scheme, "ws", "http", 1)
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported cdp url scheme %q", u.Scheme)
	}
	u.Path = "/json/version"
	u.RawQuery = ""

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s: status %d", u, resp.StatusCode)
	}

	var version struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil {
		return "", fmt.Errorf("decoding %s: %w", u, err)
	}
	if version.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("%s has no webSocketDebuggerUrl", u)
	}
	return version.WebSocketDebuggerURL, nil
}

// findTarget prefers a page whose target ID equals the tab ID, then falls back
// to the first page showing the tab's URL.
func findTarget(infos []*target.Info, t tabs.Tab) (target.ID, bool) {
	var byURL target.ID
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		if t.ID != "" && string(info.TargetID) == t.ID {
			return info.TargetID, true
		}
		if byURL == "" && info.URL == t.URL {
			byURL = info.TargetID
		}
	}
	return byURL, byURL != ""
}
