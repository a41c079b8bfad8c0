// Package capture implements harlite's live CDP capture state machine:
// connecting to a Chrome DevTools Protocol target over WebSocket, tracking
// in-flight Network.* events per requestId, and finalizing them into HAR
// entries (spec §4.6). Grounded on original_source/src/commands/cdp.rs,
// using github.com/coder/websocket in place of tungstenite and the
// standard library's net/http in place of ureq.
package capture

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/brucehart/harlite/internal/har"
	"github.com/brucehart/harlite/internal/harerr"
)

// Options configures one capture session.
type Options struct {
	Host           string
	Port           int
	Target         string // substring/id hint; empty auto-selects the sole page target
	StoreBodies    bool
	MaxBodySize    *int64
	TextOnly       bool
	Duration       time.Duration // 0 means run until ctx is cancelled
}

type versionInfo struct {
	Browser string `json:"Browser"`
}

type targetInfo struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	Title                string `json:"title"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

type cdpRequest struct {
	URL      string            `json:"url"`
	Method   string            `json:"method"`
	Headers  map[string]any    `json:"headers"`
	PostData *string           `json:"postData"`
}

type cdpResponse struct {
	Status         int            `json:"status"`
	StatusText     string         `json:"statusText"`
	Headers        map[string]any `json:"headers"`
	MimeType       string         `json:"mimeType"`
	Protocol       string         `json:"protocol"`
	RemoteIP       string         `json:"remoteIPAddress"`
	ConnectionID   *int64         `json:"connectionId"`
}

type responseBodyResult struct {
	Body           string `json:"body"`
	Base64Encoded  bool   `json:"base64Encoded"`
}

// RequestRecord accumulates CDP events for one in-flight request, keyed by
// its CDP requestId (spec §4.6 "State machine").
type RequestRecord struct {
	Request            cdpRequest
	StartedWallTime    *float64
	StartedTS          float64
	Response           *cdpResponse
	ResponseReceivedTS *float64
	EndTS              *float64
	EncodedDataLen     *float64
	Failed             *string
	Body               *responseBodyResult
}

// CaptureState holds every in-flight request plus the entries finalized so
// far.
type CaptureState struct {
	Requests            map[string]*RequestRecord
	PendingBodyRequests map[int64]string // CDP command id -> requestId
	Entries             []har.Entry
	CaptureStartedAt    time.Time
	FirstEventTS        *float64
}

func newCaptureState(startedAt time.Time) *CaptureState {
	return &CaptureState{
		Requests:            map[string]*RequestRecord{},
		PendingBodyRequests: map[int64]string{},
		CaptureStartedAt:    startedAt,
	}
}

// FetchVersion retrieves /json/version from the Chrome DevTools HTTP
// endpoint.
func FetchVersion(ctx context.Context, baseURL string) (browser string, err error) {
	var v versionInfo
	if err := getJSON(ctx, baseURL+"/json/version", &v); err != nil {
		return "", err
	}
	return v.Browser, nil
}

// SelectTarget retrieves /json/list and picks the single "page" target
// matching hint (by id, url substring, or title substring, case-
// insensitive). An empty hint requires exactly one page target to exist.
func SelectTarget(ctx context.Context, baseURL, hint string) (targetInfo, error) {
	var targets []targetInfo
	if err := getJSON(ctx, baseURL+"/json/list", &targets); err != nil {
		return targetInfo{}, err
	}

	var pages []targetInfo
	for _, t := range targets {
		if t.Type == "page" {
			pages = append(pages, t)
		}
	}

	if hint != "" {
		hintLower := strings.ToLower(hint)
		var filtered []targetInfo
		for _, t := range pages {
			if strings.EqualFold(t.ID, hint) ||
				strings.Contains(strings.ToLower(t.URL), hintLower) ||
				strings.Contains(strings.ToLower(t.Title), hintLower) {
				filtered = append(filtered, t)
			}
		}
		pages = filtered
	}

	switch len(pages) {
	case 0:
		return targetInfo{}, harerr.New(harerr.InputInvalid, "capture.SelectTarget", fmt.Errorf("no matching Chrome targets found"))
	case 1:
		return pages[0], nil
	default:
		return targetInfo{}, harerr.New(harerr.InputInvalid, "capture.SelectTarget",
			fmt.Errorf("multiple Chrome targets matched; use a target hint to disambiguate"))
	}
}

func getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return harerr.New(harerr.IOFault, "capture.getJSON", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return harerr.New(harerr.IOFault, "capture.getJSON", fmt.Errorf("fetch %s: %w", url, err))
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return harerr.New(harerr.ProtocolFault, "capture.getJSON", fmt.Errorf("invalid JSON from %s: %w", url, err))
	}
	return nil
}

// Run connects to the target's WebSocket debugger URL, enables the
// Network and Page domains, and pumps CDP events into a CaptureState until
// ctx is cancelled or opts.Duration elapses, then finalizes every
// remaining in-flight request and returns the resulting entries.
func Run(ctx context.Context, opts Options) ([]har.Entry, string, error) {
	baseURL := fmt.Sprintf("http://%s:%d", opts.Host, opts.Port)

	browser, err := FetchVersion(ctx, baseURL)
	if err != nil {
		return nil, "", err
	}
	target, err := SelectTarget(ctx, baseURL, opts.Target)
	if err != nil {
		return nil, "", err
	}
	if target.WebSocketDebuggerURL == "" {
		return nil, "", harerr.New(harerr.InputInvalid, "capture.Run", fmt.Errorf("selected target is missing webSocketDebuggerUrl"))
	}
	if _, err := url.Parse(target.WebSocketDebuggerURL); err != nil {
		return nil, "", harerr.New(harerr.InputInvalid, "capture.Run", err)
	}

	conn, _, err := websocket.Dial(ctx, target.WebSocketDebuggerURL, nil)
	if err != nil {
		return nil, "", harerr.New(harerr.IOFault, "capture.Run", fmt.Errorf("failed to connect to CDP: %w", err))
	}
	defer conn.CloseNow()

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Duration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	var nextID int64 = 1
	if err := sendCommand(runCtx, conn, &nextID, "Network.enable", map[string]any{}); err != nil {
		return nil, "", err
	}
	if err := sendCommand(runCtx, conn, &nextID, "Page.enable", map[string]any{}); err != nil {
		return nil, "", err
	}

	state := newCaptureState(time.Now().UTC())

	for {
		_, data, err := conn.Read(runCtx)
		if err != nil {
			if runCtx.Err() != nil {
				break
			}
			return nil, "", harerr.New(harerr.ProtocolFault, "capture.Run", fmt.Errorf("CDP socket error: %w", err))
		}
		if err := handleMessage(runCtx, conn, &nextID, state, opts, data); err != nil {
			return nil, "", err
		}
	}

	finalizePendingRequests(state, opts)

	return state.Entries, browser, nil
}

func sendCommand(ctx context.Context, conn *websocket.Conn, nextID *int64, method string, params map[string]any) error {
	id := *nextID
	*nextID++
	payload := map[string]any{"id": id, "method": method, "params": params}
	data, err := json.Marshal(payload)
	if err != nil {
		return harerr.New(harerr.InputInvalid, "capture.sendCommand", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return harerr.New(harerr.IOFault, "capture.sendCommand", fmt.Errorf("CDP send error: %w", err))
	}
	return nil
}

// sendCommandTracked sends a command and returns its assigned id, for
// correlating a later reply (used for Network.getResponseBody).
func sendCommandTracked(ctx context.Context, conn *websocket.Conn, nextID *int64, method string, params map[string]any) (int64, error) {
	id := *nextID
	if err := sendCommand(ctx, conn, nextID, method, params); err != nil {
		return 0, err
	}
	return id, nil
}

func handleMessage(ctx context.Context, conn *websocket.Conn, nextID *int64, state *CaptureState, opts Options, data []byte) error {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil
	}

	if rawID, ok := envelope["id"]; ok {
		var id int64
		if err := json.Unmarshal(rawID, &id); err != nil {
			return nil
		}
		requestID, pending := state.PendingBodyRequests[id]
		if !pending {
			return nil
		}
		delete(state.PendingBodyRequests, id)

		if rawErr, ok := envelope["error"]; ok {
			var errObj struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(rawErr, &errObj)
			if errObj.Message == "" {
				errObj.Message = "CDP error"
			}
			if rec, ok := state.Requests[requestID]; ok {
				rec.Failed = &errObj.Message
			}
		} else if rawResult, ok := envelope["result"]; ok {
			var body responseBodyResult
			if err := json.Unmarshal(rawResult, &body); err == nil {
				if rec, ok := state.Requests[requestID]; ok {
					rec.Body = &body
				}
			}
		}
		finalizeRequest(state, requestID, opts)
		return nil
	}

	var methodWrap struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(data, &methodWrap); err != nil || methodWrap.Method == "" {
		return nil
	}

	switch methodWrap.Method {
	case "Network.requestWillBeSent":
		var event struct {
			RequestID        string       `json:"requestId"`
			Request          cdpRequest   `json:"request"`
			Timestamp        float64      `json:"timestamp"`
			WallTime         *float64     `json:"wallTime"`
			RedirectResponse *cdpResponse `json:"redirectResponse"`
		}
		if err := json.Unmarshal(methodWrap.Params, &event); err != nil {
			return nil
		}
		if state.FirstEventTS == nil {
			ts := event.Timestamp
			state.FirstEventTS = &ts
		}
		state.Requests[event.RequestID] = &RequestRecord{
			Request:         event.Request,
			StartedWallTime: event.WallTime,
			StartedTS:       event.Timestamp,
			Response:        event.RedirectResponse,
		}

	case "Network.responseReceived":
		var event struct {
			RequestID string      `json:"requestId"`
			Timestamp float64     `json:"timestamp"`
			Response  cdpResponse `json:"response"`
		}
		if err := json.Unmarshal(methodWrap.Params, &event); err != nil {
			return nil
		}
		if rec, ok := state.Requests[event.RequestID]; ok {
			rec.Response = &event.Response
			ts := event.Timestamp
			rec.ResponseReceivedTS = &ts
		}

	case "Network.loadingFinished":
		var event struct {
			RequestID         string  `json:"requestId"`
			Timestamp         float64 `json:"timestamp"`
			EncodedDataLength float64 `json:"encodedDataLength"`
		}
		if err := json.Unmarshal(methodWrap.Params, &event); err != nil {
			return nil
		}
		if rec, ok := state.Requests[event.RequestID]; ok {
			ts := event.Timestamp
			rec.EndTS = &ts
			rec.EncodedDataLen = &event.EncodedDataLength
		}
		if opts.StoreBodies {
			id, err := sendCommandTracked(ctx, conn, nextID, "Network.getResponseBody", map[string]any{"requestId": event.RequestID})
			if err != nil {
				return err
			}
			state.PendingBodyRequests[id] = event.RequestID
		} else {
			finalizeRequest(state, event.RequestID, opts)
		}

	case "Network.loadingFailed":
		var event struct {
			RequestID string  `json:"requestId"`
			Timestamp float64 `json:"timestamp"`
			ErrorText string  `json:"errorText"`
		}
		if err := json.Unmarshal(methodWrap.Params, &event); err != nil {
			return nil
		}
		if rec, ok := state.Requests[event.RequestID]; ok {
			ts := event.Timestamp
			rec.EndTS = &ts
			rec.Failed = &event.ErrorText
		}
		finalizeRequest(state, event.RequestID, opts)
	}

	return nil
}

func finalizePendingRequests(state *CaptureState, opts Options) {
	if !opts.StoreBodies {
		for id := range state.Requests {
			finalizeRequest(state, id, opts)
		}
		return
	}

	var ready []string
	for id, rec := range state.Requests {
		if rec.EndTS != nil {
			ready = append(ready, id)
		}
	}
	for _, id := range ready {
		finalizeRequest(state, id, opts)
	}
	for id := range state.Requests {
		finalizeRequest(state, id, opts)
	}
}

func finalizeRequest(state *CaptureState, requestID string, opts Options) {
	rec, ok := state.Requests[requestID]
	if !ok {
		return
	}
	delete(state.Requests, requestID)

	startedAt := startedDateTime(state, rec)
	totalTimeMs := 0.0
	if rec.EndTS != nil {
		totalTimeMs = max0((*rec.EndTS - rec.StartedTS) * 1000.0)
	}

	responseMeta := rec.Response
	if responseMeta == nil {
		statusText := ""
		if rec.Failed != nil {
			statusText = *rec.Failed
		}
		responseMeta = &cdpResponse{Status: 0, StatusText: statusText}
	}

	requestHeaders := headersFromMap(rec.Request.Headers)
	responseHeaders := headersFromMap(responseMeta.Headers)

	content, responseBodySize := buildContent(rec.Body, responseMeta.MimeType, rec.EncodedDataLen, opts)

	protocol := responseMeta.Protocol
	if protocol == "" {
		protocol = "HTTP/1.1"
	}

	var connection string
	if responseMeta.ConnectionID != nil {
		connection = strconv.FormatInt(*responseMeta.ConnectionID, 10)
	}

	entry := har.Entry{
		StartedDateTime: startedAt,
		Time:            totalTimeMs,
		Request: har.Request{
			Method:      rec.Request.Method,
			URL:         rec.Request.URL,
			HTTPVersion: protocol,
			Headers:     requestHeaders,
			QueryString: queryParams(rec.Request.URL),
			PostData:    buildPostData(rec.Request, requestHeaders),
			BodySize:    requestBodySize(rec.Request.PostData),
		},
		Response: har.Response{
			Status:      responseMeta.Status,
			StatusText:  responseMeta.StatusText,
			HTTPVersion: protocol,
			Headers:     responseHeaders,
			Content:     content,
			BodySize:    responseBodySize,
		},
		Timings:         buildTimings(rec),
		ServerIPAddress: responseMeta.RemoteIP,
		Connection:      connection,
	}

	state.Entries = append(state.Entries, entry)
}

func startedDateTime(state *CaptureState, rec *RequestRecord) string {
	if rec.StartedWallTime != nil {
		sec := int64(*rec.StartedWallTime)
		nsec := int64((*rec.StartedWallTime - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC().Format(time.RFC3339Nano)
	}

	baseTS := rec.StartedTS
	if state.FirstEventTS != nil {
		baseTS = *state.FirstEventTS
	}
	offsetMs := int64((rec.StartedTS - baseTS) * 1000.0)
	return state.CaptureStartedAt.Add(time.Duration(offsetMs) * time.Millisecond).Format(time.RFC3339Nano)
}

func buildContent(body *responseBodyResult, mimeType string, encodedLen *float64, opts Options) (har.Content, *int64) {
	content := har.Content{Size: -1, MimeType: mimeType}

	if body != nil {
		if opts.TextOnly && mimeType != "" && !isTextMimeType(mimeType) {
			return content, nil
		}

		if body.Base64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(body.Body)
			if err == nil && withinMaxSize(len(decoded), opts.MaxBodySize) {
				text := body.Body
				content.Text = &text
				content.Encoding = "base64"
				content.Size = int64(len(decoded))
				size := int64(len(decoded))
				return content, &size
			}
			return content, nil
		}

		if withinMaxSize(len(body.Body), opts.MaxBodySize) {
			text := body.Body
			content.Text = &text
			content.Size = int64(len(body.Body))
			size := int64(len(body.Body))
			return content, &size
		}
		return content, nil
	}

	if encodedLen != nil {
		content.Size = int64(*encodedLen)
		size := int64(*encodedLen)
		return content, &size
	}

	return content, nil
}

func headersFromMap(m map[string]any) []har.Header {
	if len(m) == 0 {
		return nil
	}
	out := make([]har.Header, 0, len(m))
	for name, value := range m {
		out = append(out, har.Header{Name: name, Value: valueToString(value)})
	}
	return out
}

func valueToString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, valueToString(e))
		}
		return strings.Join(parts, ", ")
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func queryParams(rawURL string) []har.QueryParam {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	q := u.Query()
	if len(q) == 0 {
		return nil
	}
	var out []har.QueryParam
	for name, values := range q {
		for _, v := range values {
			out = append(out, har.QueryParam{Name: name, Value: v})
		}
	}
	return out
}

func buildPostData(req cdpRequest, headers []har.Header) *har.PostData {
	if req.PostData == nil {
		return nil
	}
	var mimeType string
	for _, h := range headers {
		if strings.EqualFold(h.Name, "content-type") {
			mimeType = h.Value
			break
		}
	}
	return &har.PostData{MimeType: mimeType, Text: *req.PostData}
}

func buildTimings(rec *RequestRecord) *har.Timings {
	wait, receive := 0.0, 0.0

	if rec.ResponseReceivedTS != nil && rec.EndTS != nil {
		wait = max0((*rec.ResponseReceivedTS - rec.StartedTS) * 1000.0)
		receive = max0((*rec.EndTS - *rec.ResponseReceivedTS) * 1000.0)
	} else if rec.EndTS != nil {
		wait = max0((*rec.EndTS - rec.StartedTS) * 1000.0)
	}

	return &har.Timings{Send: 0, Wait: wait, Receive: receive}
}

func withinMaxSize(n int, max *int64) bool {
	if max == nil {
		return true
	}
	return int64(n) <= *max
}

func isTextMimeType(mime string) bool {
	m := strings.ToLower(mime)
	for _, s := range []string{"text/", "json", "xml", "javascript", "css", "html", "x-www-form-urlencoded"} {
		if strings.Contains(m, s) {
			return true
		}
	}
	return false
}

func requestBodySize(postData *string) *int64 {
	if postData == nil {
		return nil
	}
	n := int64(len(*postData))
	return &n
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// BuildHar wraps captured entries into a HAR document with a harlite
// creator and an optional parsed browser string ("Name/Version").
func BuildHar(browser string, entries []har.Entry) har.Har {
	creator := &har.Creator{Name: "harlite", Version: "dev"}

	var b *har.Browser
	if browser != "" {
		parts := strings.SplitN(browser, "/", 2)
		if len(parts) == 2 {
			b = &har.Browser{Name: parts[0], Version: parts[1]}
		} else {
			b = &har.Browser{Name: browser, Version: "unknown"}
		}
	}

	return har.Har{Log: har.Log{
		Version: "1.2",
		Creator: creator,
		Browser: b,
		Entries: entries,
	}}
}
