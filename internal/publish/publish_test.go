package publish_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/modrelay/internal/content"
	"github.com/hpungsan/modrelay/internal/errors"
	"github.com/hpungsan/modrelay/internal/locale"
	"github.com/hpungsan/modrelay/internal/publish"
	"github.com/hpungsan/modrelay/internal/publish/publishtest"
	"github.com/hpungsan/modrelay/internal/retry"
	"github.com/hpungsan/modrelay/internal/token"
)

const (
	reviewChat int64 = -200
	outputChat int64 = -300
	ownerID    int64 = 1
)

type fixture struct {
	tr    *publishtest.Transport
	pub   *publish.Publisher
	waits []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bundle, err := locale.LoadEmbedded()
	require.NoError(t, err)

	f := &fixture{tr: publishtest.New()}
	policy := retry.Default(3, time.Second)
	policy.Sleep = func(_ context.Context, d time.Duration) error {
		f.waits = append(f.waits, d)
		return nil
	}
	f.pub = &publish.Publisher{
		Transport:    f.tr,
		Locale:       bundle.Resolver("en"),
		ReviewChatID: reviewChat,
		OutputChatID: outputChat,
		OutputHandle: "@out",
		OwnerID:      ownerID,
		Retry:        policy,
	}
	return f
}

func textItem(s string) content.Item {
	return content.Item{SourceChatID: 10, SourceMessageID: 1, Kind: content.KindText, Text: s}
}

func photoItem(id int, caption string) content.Item {
	return content.Item{SourceChatID: 10, SourceMessageID: id, Kind: content.KindPhoto, Text: caption, MediaRef: fmt.Sprintf("file-%d", id), GroupID: "g"}
}

func TestForwardToReview_SingleItem(t *testing.T) {
	f := newFixture(t)
	kb := token.DecisionKeyboard(10, "S", "ok", "no")

	rc, err := f.pub.ForwardToReview(context.Background(), []content.Item{photoItem(5, "")}, "HEADER", kb)
	require.NoError(t, err)

	calls := f.tr.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, "SendText", calls[0].Method)
	require.Equal(t, "HEADER", calls[0].Text)
	require.Equal(t, "CopyContent", calls[1].Method)
	require.Equal(t, reviewChat, calls[1].ChatID)
	require.Equal(t, rc.HeaderID, calls[1].Opts.ReplyTo, "copy replies to the header")
	require.Equal(t, kb, calls[1].Keyboard)
	require.Nil(t, calls[1].Opts.Caption, "review copy keeps the original caption")
	require.Equal(t, rc.ControlMessageID, rc.ReviewMessageIDs[0])
}

func TestForwardToReview_Album(t *testing.T) {
	f := newFixture(t)
	kb := token.DecisionKeyboard(10, "S", "ok", "no")
	items := []content.Item{photoItem(1, "a<b"), photoItem(2, ""), photoItem(3, "")}

	rc, err := f.pub.ForwardToReview(context.Background(), items, "HEADER", kb)
	require.NoError(t, err)

	calls := f.tr.Calls()
	require.Len(t, calls, 3)
	require.Equal(t, "SendBatch", calls[1].Method)
	require.Len(t, calls[1].Items, 3)
	require.Equal(t, "a&lt;b", calls[1].Items[0].Text)
	require.Nil(t, calls[1].Keyboard, "batched posts carry no controls")
	require.Equal(t, "SendText", calls[2].Method)
	require.Equal(t, kb, calls[2].Keyboard)
	require.Len(t, rc.ReviewMessageIDs, 3)
	require.Equal(t, calls[2].MessageID, rc.ControlMessageID)
}

func TestForwardToReview_AlbumSkipsUnbatchableItems(t *testing.T) {
	f := newFixture(t)
	voice := content.Item{SourceChatID: 10, SourceMessageID: 2, Kind: content.KindVoice, MediaRef: "v"}
	items := []content.Item{photoItem(1, ""), voice, photoItem(3, "")}

	rc, err := f.pub.ForwardToReview(context.Background(), items, "HEADER", nil)
	require.NoError(t, err)

	batch := f.tr.Calls()[1]
	require.Len(t, batch.Items, 2)
	require.Len(t, rc.ReviewMessageIDs, 3, "one id per submitted item")
	require.Equal(t, batch.MessageID, rc.ReviewMessageIDs[0])
	require.Zero(t, rc.ReviewMessageIDs[1], "the voice item was not posted")
	require.Equal(t, batch.MessageID+1, rc.ReviewMessageIDs[2])
}

func TestForwardToReview_FailureReturned(t *testing.T) {
	f := newFixture(t)
	f.tr.FailNext("CopyContent", fmt.Errorf("chat not found"))

	_, err := f.pub.ForwardToReview(context.Background(), []content.Item{textItem("x")}, "H", nil)
	require.Error(t, err)
	require.Len(t, f.tr.Calls(), 2, "review forwarding is not retried")
}

func TestForwardToReview_Empty(t *testing.T) {
	f := newFixture(t)
	_, err := f.pub.ForwardToReview(context.Background(), nil, "H", nil)
	require.True(t, errors.Is(err, errors.ErrEmptySubmission))
	require.Empty(t, f.tr.Calls())
}

func TestPublishToOutput_Text(t *testing.T) {
	f := newFixture(t)

	err := f.pub.PublishToOutput(context.Background(), []content.Item{textItem("hello <world>")}, "S", true)
	require.NoError(t, err)

	calls := f.tr.CallsTo(outputChat)
	require.Len(t, calls, 1)
	require.Equal(t, "SendText", calls[0].Method)
	require.Equal(t, "hello &lt;world&gt;\n\n📌 S\n@out"+publish.Tag, calls[0].Text)
}

func TestPublishToOutput_SingleMediaNoTagForPrivileged(t *testing.T) {
	f := newFixture(t)

	err := f.pub.PublishToOutput(context.Background(), []content.Item{photoItem(7, "cap")}, "S", false)
	require.NoError(t, err)

	calls := f.tr.CallsTo(outputChat)
	require.Len(t, calls, 1)
	require.Equal(t, "CopyContent", calls[0].Method)
	require.NotNil(t, calls[0].Opts.Caption)
	require.Equal(t, "cap\n\n📌 S\n@out", *calls[0].Opts.Caption)
	require.NotContains(t, calls[0].Text, "#ارسالی")
}

func TestPublishToOutput_MediaWithoutCaption(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.pub.PublishToOutput(context.Background(), []content.Item{photoItem(7, "")}, "S", true))
	calls := f.tr.CallsTo(outputChat)
	require.Equal(t, "📌 S\n@out"+publish.Tag, *calls[0].Opts.Caption)
}

func TestPublishToOutput_AlbumFooterOnFirstOnly(t *testing.T) {
	f := newFixture(t)
	items := []content.Item{photoItem(1, "first"), photoItem(2, "second"), photoItem(3, "")}

	require.NoError(t, f.pub.PublishToOutput(context.Background(), items, "S", true))

	calls := f.tr.CallsTo(outputChat)
	require.Len(t, calls, 1)
	require.Equal(t, "SendBatch", calls[0].Method)
	batch := calls[0].Items
	require.Equal(t, "first\n\n📌 S\n@out"+publish.Tag, batch[0].Text)
	require.Empty(t, batch[1].Text)
	require.Empty(t, batch[2].Text)
	require.Equal(t, "second", items[1].Text, "input items are not mutated")
}

func TestPublishToOutput_ExhaustsAndEscalatesOnce(t *testing.T) {
	f := newFixture(t)
	boom := fmt.Errorf("connection reset")
	f.tr.FailNext("SendText", boom, boom, boom)

	err := f.pub.PublishToOutput(context.Background(), []content.Item{textItem("x")}, "S", true)
	require.True(t, errors.Is(err, errors.ErrTransportPermanent), "got %v", err)

	require.Len(t, f.tr.CallsTo(outputChat), 3, "exactly N attempts")
	owner := f.tr.CallsTo(ownerID)
	require.Len(t, owner, 1, "exactly one escalation")
	require.Contains(t, owner[0].Text, "connection reset")
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.waits)
}

func TestPublishToOutput_RateLimitThenSuccess(t *testing.T) {
	f := newFixture(t)
	f.tr.FailNext("CopyContent", errors.NewRateLimited(7*time.Second, nil))

	err := f.pub.PublishToOutput(context.Background(), []content.Item{photoItem(1, "")}, "S", false)
	require.NoError(t, err)

	require.Len(t, f.tr.CallsTo(outputChat), 2)
	require.Equal(t, []time.Duration{7 * time.Second}, f.waits, "waits the signaled cooldown exactly")
	require.Empty(t, f.tr.CallsTo(ownerID))
}

func TestPublishToOutput_Empty(t *testing.T) {
	f := newFixture(t)
	err := f.pub.PublishToOutput(context.Background(), nil, "S", true)
	require.True(t, errors.Is(err, errors.ErrEmptySubmission))
	require.Empty(t, f.tr.Calls())
}

func TestPublishToOutput_SubjectEscapedInFooter(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pub.PublishToOutput(context.Background(), []content.Item{textItem("x")}, "<i>S</i>", false))
	got := f.tr.CallsTo(outputChat)[0].Text
	require.True(t, strings.Contains(got, "&lt;i&gt;S&lt;/i&gt;"), got)
}
