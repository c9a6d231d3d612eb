package ops

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/modrelay/internal/content"
	"github.com/hpungsan/modrelay/internal/errors"
	"github.com/hpungsan/modrelay/internal/submission"
)

func recordPending(t *testing.T, l Ledger, control int) *submission.Submission {
	t.Helper()
	s, err := l.Record(ctx, RecordInput{
		SubmitterID:      42,
		SubmitterChatID:  42,
		Subject:          "S",
		Items:            textItems("hello"),
		Status:           submission.StatusPending,
		ReviewChatID:     reviewChat,
		ControlMessageID: control,
		HeaderMessageID:  control - 1,
		ReviewMessageIDs: []int{control},
	})
	require.NoError(t, err)
	return s
}

func TestRecordSubmission(t *testing.T) {
	l := Ledger{DB: openTestDB(t)}

	s := recordPending(t, l, 11)
	require.Len(t, s.ID, 26)
	require.Equal(t, "user", s.SubmitterRole, "role defaults to user")
	require.Equal(t, "text", s.Kind)
	require.Nil(t, s.DecidedAt)

	album, err := l.Record(ctx, RecordInput{
		SubmitterID: 1, SubmitterRole: "owner", Subject: "S",
		Items:     textItems("a", "b"),
		Status:    submission.StatusDirect,
		DecidedBy: 1,
	})
	require.NoError(t, err)
	require.Equal(t, content.KindAlbum, album.Kind)
	require.NotNil(t, album.DecidedAt, "direct posts are settled on record")
}

func TestRecordSubmission_Validation(t *testing.T) {
	l := Ledger{DB: openTestDB(t)}

	tests := []struct {
		name  string
		input RecordInput
		code  errors.ErrorCode
	}{
		{"no items", RecordInput{Status: submission.StatusDirect}, errors.ErrEmptySubmission},
		{"bad status", RecordInput{Items: textItems("x"), Status: "weird"}, errors.ErrInvalidRequest},
		{"pending without controls", RecordInput{Items: textItems("x"), Status: submission.StatusPending}, errors.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Record(ctx, tt.input)
			require.True(t, errors.Is(err, tt.code), "got %v", err)
		})
	}

	recordPending(t, l, 11)
	_, err := l.Record(ctx, RecordInput{
		Items: textItems("x"), Status: submission.StatusPending,
		ReviewChatID: reviewChat, ControlMessageID: 11,
	})
	require.True(t, errors.Is(err, errors.ErrConflict), "got %v", err)
}

func TestClaimApproveCompleteFlow(t *testing.T) {
	l := Ledger{DB: openTestDB(t)}
	s := recordPending(t, l, 11)

	out, err := l.Claim(ctx, ClaimInput{ReviewChatID: reviewChat, ControlMessageID: 11, Action: ActionApprove, DeciderID: 9, DeciderAlias: "mod"})
	require.NoError(t, err)
	require.True(t, out.Claimed)
	require.Equal(t, submission.StatusPublishing, out.Submission.Status)
	require.Equal(t, s.ID, out.Submission.ID)

	// a second reviewer loses while publishing is in flight
	again, err := l.Claim(ctx, ClaimInput{ReviewChatID: reviewChat, ControlMessageID: 11, Action: ActionDelete, DeciderID: 8})
	require.NoError(t, err)
	require.False(t, again.Claimed)
	require.Equal(t, submission.StatusPublishing, again.Submission.Status)

	require.NoError(t, l.Complete(ctx, s.ID))
	got, err := GetSubmission(ctx, l.DB, s.ID)
	require.NoError(t, err)
	require.Equal(t, submission.StatusApproved, got.Status)
	require.Equal(t, "mod", got.DecidedByAlias)
	require.NotNil(t, got.DecidedAt)

	require.True(t, errors.Is(l.Complete(ctx, s.ID), errors.ErrConflict), "completing twice is a conflict")
}

func TestClaimReleaseRetry(t *testing.T) {
	l := Ledger{DB: openTestDB(t)}
	s := recordPending(t, l, 11)

	_, err := l.Claim(ctx, ClaimInput{ReviewChatID: reviewChat, ControlMessageID: 11, Action: ActionApprove, DeciderID: 9})
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, s.ID, "publish failed"))

	got, err := FindByControl(ctx, l.DB, reviewChat, 11)
	require.NoError(t, err)
	require.Equal(t, submission.StatusPending, got.Status)
	require.Equal(t, "publish failed", got.Error)

	out, err := l.Claim(ctx, ClaimInput{ReviewChatID: reviewChat, ControlMessageID: 11, Action: ActionApprove, DeciderID: 9})
	require.NoError(t, err)
	require.True(t, out.Claimed, "released submissions can be claimed again")
	require.NoError(t, l.Complete(ctx, s.ID))

	got, err = GetSubmission(ctx, l.DB, s.ID)
	require.NoError(t, err)
	require.Empty(t, got.Error, "a successful publish clears the last error")
}

func TestClaimDelete(t *testing.T) {
	l := Ledger{DB: openTestDB(t)}
	recordPending(t, l, 11)

	out, err := l.Claim(ctx, ClaimInput{ReviewChatID: reviewChat, ControlMessageID: 11, Action: ActionDelete, DeciderID: 9, DeciderAlias: "mod"})
	require.NoError(t, err)
	require.True(t, out.Claimed)
	require.Equal(t, submission.StatusRejected, out.Submission.Status)
	require.NotNil(t, out.Submission.DecidedAt)
}

func TestClaim_UnknownControl(t *testing.T) {
	l := Ledger{DB: openTestDB(t)}

	_, err := l.Claim(ctx, ClaimInput{ReviewChatID: reviewChat, ControlMessageID: 99, Action: ActionApprove})
	require.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)

	_, err = l.Claim(ctx, ClaimInput{ReviewChatID: reviewChat, ControlMessageID: 99, Action: "publish"})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
}

func TestClaim_Fallback(t *testing.T) {
	l := Ledger{DB: openTestDB(t)}
	fb := &Fallback{
		SubmitterID: 42,
		Subject:     "partial subj",
		Item:        content.Item{SourceChatID: reviewChat, SourceMessageID: 99, Kind: content.KindPhoto, MediaRef: "f"},
	}

	out, err := l.Claim(ctx, ClaimInput{ReviewChatID: reviewChat, ControlMessageID: 99, Action: ActionApprove, DeciderID: 9, Fallback: fb})
	require.NoError(t, err)
	require.True(t, out.Claimed)
	require.Equal(t, submission.StatusPublishing, out.Submission.Status)
	require.Equal(t, []content.Item{fb.Item}, out.Submission.Items)

	again, err := l.Claim(ctx, ClaimInput{ReviewChatID: reviewChat, ControlMessageID: 99, Action: ActionApprove, DeciderID: 8, Fallback: fb})
	require.NoError(t, err)
	require.False(t, again.Claimed, "the fallback row makes the decision single-winner")
}

func TestClaim_ConcurrentSingleWinner(t *testing.T) {
	l := Ledger{DB: openTestDB(t)}
	recordPending(t, l, 11)

	const racers = 10
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []string
	)
	for i := range racers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			action := ActionApprove
			if i%2 == 0 {
				action = ActionDelete
			}
			out, err := l.Claim(ctx, ClaimInput{ReviewChatID: reviewChat, ControlMessageID: 11, Action: action, DeciderID: int64(i + 1)})
			if err != nil {
				t.Errorf("Claim: %v", err)
				return
			}
			if out.Claimed {
				mu.Lock()
				wins = append(wins, fmt.Sprint(action))
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	require.Len(t, wins, 1)
}
