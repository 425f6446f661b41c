// Command ws_chat is a terminal client for manual end-to-end testing. It
// signs in, then drives the same composer, stream client and view model the
// app uses, backed by an adapter that maps the store interfaces onto the
// server's REST and websocket endpoints. Lines from stdin become messages,
// "/ai <prompt>" asks the assistant, "/img <path>" sends an image file.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/mkovalev/duochat/internal/chat"
	"github.com/mkovalev/duochat/internal/store"
	transporthttp "github.com/mkovalev/duochat/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ws_chat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	user := flag.String("user", "", "username")
	pass := flag.String("pass", "", "password")
	peer := flag.String("peer", "", "peer user id to chat with")
	flag.Parse()

	if *user == "" || *pass == "" || *peer == "" {
		return errors.New("-user, -pass and -peer are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(zerolog.WarnLevel)

	backend := &restBackend{
		base:  strings.TrimRight(*addr, "/"),
		peer:  *peer,
		httpc: http.DefaultClient,
		ctx:   ctx,
	}

	auth, err := backend.login(ctx, *user, *pass)
	if err != nil {
		return err
	}
	backend.token = auth.Token
	fmt.Printf("Signed in as %s (%s)\n", auth.User.Name, auth.User.ID)
	fmt.Println("Type messages and press Enter to send. \"/ai <prompt>\" asks the assistant, \"/img <path>\" sends an image. Ctrl+C to exit.")

	errSink := func(err error) { fmt.Printf("! %v\n", err) }

	p := &printer{selfID: auth.User.ID}
	var vm *chat.ViewModel
	vm = chat.NewViewModel(func() { p.flush(vm) }, errSink)

	streamClient := chat.NewStreamClient(backend, &logger)
	sub, err := streamClient.Open(ctx, auth.User.ID, *peer, vm.ApplyEvent)
	if err != nil {
		return fmt.Errorf("open feed: %w", err)
	}
	defer sub.Cancel()

	composer := chat.NewComposer(auth.User.ID, *peer, backend, backend, backend, vm, errSink, &logger)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			in, err := parseInput(line)
			if err != nil {
				fmt.Printf("! %v\n", err)
				continue
			}
			composer.Send(ctx, in)
		}
	}
}

// parseInput turns a stdin line into composer input. "/img <path>" reads the
// file and wraps it as an attachment; everything else (the "/ai " prefix
// included) is plain text the composer interprets itself.
func parseInput(line string) (chat.Input, error) {
	if p, ok := strings.CutPrefix(strings.TrimSpace(line), "/img "); ok {
		p = strings.TrimSpace(p)
		data, err := os.ReadFile(p)
		if err != nil {
			return chat.Input{}, fmt.Errorf("read image: %w", err)
		}
		return chat.Input{File: &chat.FileInput{
			Name:       filepath.Base(p),
			Data:       data,
			PreviewURL: "file://" + p,
		}}, nil
	}
	return chat.Input{Text: line}, nil
}

// printer renders the view model incrementally: on each change it prints the
// entries appended since the previous flush. A snapshot that shrinks the
// list (placeholder reconciled away) resets the window and reprints.
type printer struct {
	mu     sync.Mutex
	selfID string
	seen   int
}

func (p *printer) flush(vm *chat.ViewModel) {
	p.mu.Lock()
	defer p.mu.Unlock()

	msgs := vm.Messages()
	if len(msgs) < p.seen {
		p.seen = 0
	}
	for _, m := range msgs[p.seen:] {
		who := m.SenderID
		switch m.SenderID {
		case p.selfID:
			who = "me"
		case chat.AssistantID:
			who = "assistant"
		}
		if m.MediaURL != "" {
			fmt.Printf("[%s] %s: %s\n", who, m.MediaType, m.MediaURL)
			continue
		}
		fmt.Printf("[%s] %s\n", who, m.Text)
	}
	p.seen = len(msgs)
}

// restBackend adapts one authenticated session against the server into the
// store and assistant interfaces the chat core consumes. It is bound to a
// single peer, so the conversation id arguments are implied by the routes.
type restBackend struct {
	base  string
	token string
	peer  string
	httpc *http.Client
	ctx   context.Context
}

func (b *restBackend) login(ctx context.Context, username, password string) (*transporthttp.AuthResponse, error) {
	body, err := json.Marshal(transporthttp.LoginRequest{Username: username, Password: password})
	if err != nil {
		return nil, fmt.Errorf("marshal login: %w", err)
	}
	resp, err := b.postJSON(ctx, "/api/login", body)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	var auth transporthttp.AuthResponse
	if err := json.Unmarshal(resp, &auth); err != nil {
		return nil, fmt.Errorf("unmarshal login response: %w", err)
	}
	return &auth, nil
}

// ConversationExists reports true unconditionally: the server creates the
// record before attaching the feed listener, so from here the conversation
// is always present.
func (b *restBackend) ConversationExists(ctx context.Context, conversationID string) (bool, error) {
	return true, nil
}

func (b *restBackend) CreateConversation(ctx context.Context, conversationID string, participants []string) error {
	return nil
}

func (b *restBackend) Messages(ctx context.Context, conversationID string) ([]store.Message, error) {
	resp, err := b.getJSON(ctx, "/api/conversations/"+b.peer+"/messages")
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	var out []transporthttp.MessageResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	msgs := make([]store.Message, 0, len(out))
	for _, m := range out {
		msgs = append(msgs, toStoreMessage(m))
	}
	return msgs, nil
}

func (b *restBackend) AppendMessage(ctx context.Context, conversationID string, msg store.Message) (store.Message, error) {
	body, err := json.Marshal(transporthttp.SendMessageRequest{
		Text:      msg.Text,
		MediaURL:  msg.MediaURL,
		MediaType: string(msg.MediaType),
		ClientTag: msg.ClientTag,
	})
	if err != nil {
		return store.Message{}, fmt.Errorf("marshal message: %w", err)
	}
	resp, err := b.postJSON(ctx, "/api/conversations/"+b.peer+"/messages", body)
	if err != nil {
		return store.Message{}, fmt.Errorf("send message: %w", err)
	}
	var out transporthttp.MessageResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return store.Message{}, fmt.Errorf("unmarshal message: %w", err)
	}
	return toStoreMessage(out), nil
}

// Subscribe follows the websocket feed and forwards each frame as a snapshot
// event. Read errors surface as an error event and end the subscription; the
// returned cancel closes the connection.
func (b *restBackend) Subscribe(conversationID string, fn func(store.SnapshotEvent)) store.CancelFunc {
	ctx, cancel := context.WithCancel(b.ctx)
	go func() {
		wsURL, err := b.feedURL()
		if err != nil {
			fn(store.SnapshotEvent{Kind: store.SnapshotError, Err: err})
			return
		}
		conn, _, err := websocket.Dial(ctx, wsURL, nil)
		if err != nil {
			fn(store.SnapshotEvent{Kind: store.SnapshotError, Err: fmt.Errorf("dial feed: %w", err)})
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		for {
			var snap transporthttp.SnapshotMessage
			if err := wsjson.Read(ctx, conn, &snap); err != nil {
				if ctx.Err() != nil {
					return
				}
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				fn(store.SnapshotEvent{Kind: store.SnapshotError, Err: fmt.Errorf("read feed: %w", err)})
				return
			}
			fn(toSnapshotEvent(snap))
		}
	}()
	return store.CancelFunc(cancel)
}

// Upload posts the bytes as a multipart form and returns the durable URL the
// server assigned.
func (b *restBackend) Upload(ctx context.Context, key string, data []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("key", key); err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	fw, err := w.CreateFormFile("file", path.Base(key))
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}

	resp, err := b.post(ctx, "/api/uploads", w.FormDataContentType(), &buf)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return "", fmt.Errorf("unmarshal upload response: %w", err)
	}
	return out.URL, nil
}

// Ask relays the prompt to the server's assistant endpoint. Failures resolve
// to substitute text, matching the assistant contract.
func (b *restBackend) Ask(ctx context.Context, prompt string) string {
	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return "Sorry, the assistant is unavailable right now."
	}
	resp, err := b.postJSON(ctx, "/api/assistant", body)
	if err != nil {
		return fmt.Sprintf("Sorry, the assistant is unavailable right now. (%v)", err)
	}
	var out struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return "Sorry, the assistant is unavailable right now."
	}
	return out.Response
}

func (b *restBackend) feedURL() (string, error) {
	u, err := url.Parse(b.base)
	if err != nil {
		return "", fmt.Errorf("parse addr: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws/conversations/" + b.peer
	u.RawQuery = url.Values{"token": {b.token}}.Encode()
	return u.String(), nil
}

func (b *restBackend) getJSON(ctx context.Context, route string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.base+route, nil)
	if err != nil {
		return nil, err
	}
	return b.do(req)
}

func (b *restBackend) postJSON(ctx context.Context, route string, body []byte) ([]byte, error) {
	return b.post(ctx, route, "application/json", bytes.NewReader(body))
}

func (b *restBackend) post(ctx context.Context, route, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.base+route, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return b.do(req)
}

func (b *restBackend) do(req *http.Request) ([]byte, error) {
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	resp, err := b.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func toSnapshotEvent(snap transporthttp.SnapshotMessage) store.SnapshotEvent {
	ev := store.SnapshotEvent{Seq: snap.Seq}
	switch snap.Type {
	case "initial":
		ev.Kind = store.SnapshotInitial
	case "error":
		ev.Kind = store.SnapshotError
		ev.Err = errors.New(snap.Error)
		return ev
	default:
		ev.Kind = store.SnapshotUpdate
	}
	ev.Messages = make([]store.Message, 0, len(snap.Messages))
	for _, m := range snap.Messages {
		ev.Messages = append(ev.Messages, toStoreMessage(m))
	}
	return ev
}

func toStoreMessage(m transporthttp.MessageResponse) store.Message {
	return store.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		MediaURL:   m.MediaURL,
		MediaType:  store.MediaType(m.MediaType),
		ClientTag:  m.ClientTag,
		CreatedAt:  m.CreatedAt,
	}
}
