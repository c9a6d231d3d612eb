// Package publishtest provides an in-memory Transport for tests.
package publishtest

import (
	"context"
	"sync"

	"github.com/hpungsan/modrelay/internal/content"
	"github.com/hpungsan/modrelay/internal/publish"
)

// Call is one recorded transport call.
type Call struct {
	Method    string
	ChatID    int64
	MessageID int
	Text      string
	Items     []content.Item
	Opts      publish.SendOptions
	Keyboard  content.Keyboard
	Alert     bool
	Callback  string
}

// Transport records calls and assigns increasing message ids. FailNext queues
// errors returned by the next calls of a method, in order.
type Transport struct {
	mu        sync.Mutex
	nextID    int
	calls     []Call
	failures  map[string][]error
	members   map[int64]bool
	memberErr error
}

// New returns an empty transport whose message ids start at 100.
func New() *Transport {
	return &Transport{nextID: 100, failures: map[string][]error{}, members: map[int64]bool{}}
}

// FailNext makes the next calls of method return errs, one per call.
func (t *Transport) FailNext(method string, errs ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[method] = append(t.failures[method], errs...)
}

// SetMember marks a user as a member of every chat.
func (t *Transport) SetMember(userID int64, member bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.members[userID] = member
}

// SetMembershipError makes every membership query fail.
func (t *Transport) SetMembershipError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.memberErr = err
}

// Calls returns a copy of the recorded calls.
func (t *Transport) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Call, len(t.calls))
	copy(out, t.calls)
	return out
}

// CallsTo returns the recorded calls addressed to chatID.
func (t *Transport) CallsTo(chatID int64) []Call {
	var out []Call
	for _, c := range t.Calls() {
		if c.ChatID == chatID {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets recorded calls.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = nil
}

func (t *Transport) record(c Call) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if q := t.failures[c.Method]; len(q) > 0 {
		t.failures[c.Method] = q[1:]
		if q[0] != nil {
			c.MessageID = 0
			t.calls = append(t.calls, c)
			return 0, q[0]
		}
	}
	if c.MessageID == 0 {
		t.nextID++
		c.MessageID = t.nextID
	}
	t.calls = append(t.calls, c)
	return c.MessageID, nil
}

func (t *Transport) SendText(_ context.Context, chatID int64, text string, opts publish.SendOptions) (int, error) {
	return t.record(Call{Method: "SendText", ChatID: chatID, Text: text, Opts: opts, Keyboard: opts.Keyboard})
}

func (t *Transport) SendBatch(_ context.Context, chatID int64, items []content.Item) ([]int, error) {
	id, err := t.record(Call{Method: "SendBatch", ChatID: chatID, Items: items})
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := []int{id}
	for i := 1; i < len(items); i++ {
		t.nextID++
		ids = append(ids, t.nextID)
	}
	return ids, nil
}

func (t *Transport) CopyContent(_ context.Context, chatID int64, item content.Item, opts publish.SendOptions) (int, error) {
	text := item.Text
	if opts.Caption != nil {
		text = *opts.Caption
	}
	return t.record(Call{Method: "CopyContent", ChatID: chatID, Text: text, Items: []content.Item{item}, Opts: opts, Keyboard: opts.Keyboard})
}

func (t *Transport) EditControls(_ context.Context, chatID int64, messageID int, kb content.Keyboard) error {
	_, err := t.record(Call{Method: "EditControls", ChatID: chatID, MessageID: messageID, Keyboard: kb})
	return err
}

func (t *Transport) EditCaption(_ context.Context, chatID int64, messageID int, caption string) error {
	_, err := t.record(Call{Method: "EditCaption", ChatID: chatID, MessageID: messageID, Text: caption})
	return err
}

func (t *Transport) DeleteContent(_ context.Context, chatID int64, messageID int) error {
	_, err := t.record(Call{Method: "DeleteContent", ChatID: chatID, MessageID: messageID})
	return err
}

func (t *Transport) AnswerControl(_ context.Context, callbackID, text string, alert bool) error {
	_, err := t.record(Call{Method: "AnswerControl", Callback: callbackID, Text: text, Alert: alert, MessageID: -1})
	return err
}

// IsMember implements access.MembershipChecker.
func (t *Transport) IsMember(_ context.Context, _, userID int64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.memberErr != nil {
		return false, t.memberErr
	}
	return t.members[userID], nil
}
