package submission

import (
	"testing"

	"github.com/hpungsan/modrelay/internal/content"
)

func TestReviewItems(t *testing.T) {
	s := &Submission{
		Items: []content.Item{
			{SourceChatID: 10, SourceMessageID: 1, Kind: content.KindPhoto, MediaRef: "a", Text: "cap"},
			{SourceChatID: 10, SourceMessageID: 2, Kind: content.KindPhoto, MediaRef: "b"},
		},
		ReviewChatID:     -200,
		ReviewMessageIDs: []int{501},
	}

	got := s.ReviewItems()
	if got[0].SourceChatID != -200 || got[0].SourceMessageID != 501 {
		t.Errorf("item 0 = %+v, want re-pointed at review copy", got[0])
	}
	if got[0].Text != "cap" || got[0].MediaRef != "a" {
		t.Errorf("item 0 lost its payload: %+v", got[0])
	}
	if got[1].SourceChatID != 10 || got[1].SourceMessageID != 2 {
		t.Errorf("item 1 = %+v, want original coordinates", got[1])
	}
	if s.Items[0].SourceChatID != 10 {
		t.Error("ReviewItems must not mutate the submission")
	}
}

func TestReviewItems_SkipsUnpostedItems(t *testing.T) {
	s := &Submission{
		Items: []content.Item{
			{SourceChatID: 10, SourceMessageID: 1, Kind: content.KindPhoto, MediaRef: "a"},
			{SourceChatID: 10, SourceMessageID: 2, Kind: content.KindVoice, MediaRef: "v"},
			{SourceChatID: 10, SourceMessageID: 3, Kind: content.KindPhoto, MediaRef: "b"},
		},
		ReviewChatID:     -200,
		ReviewMessageIDs: []int{501, 0, 502},
	}

	got := s.ReviewItems()
	want := []struct {
		chat int64
		msg  int
	}{{-200, 501}, {10, 2}, {-200, 502}}
	for i, w := range want {
		if got[i].SourceChatID != w.chat || got[i].SourceMessageID != w.msg {
			t.Errorf("item %d = (%d, %d), want (%d, %d)", i, got[i].SourceChatID, got[i].SourceMessageID, w.chat, w.msg)
		}
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"pending", StatusPending, false},
		{" Approved ", StatusApproved, false},
		{"DIRECT", StatusDirect, false},
		{"done", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStatus(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseStatus(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecided(t *testing.T) {
	if StatusPending.Decided() || StatusPublishing.Decided() {
		t.Error("pending and publishing are open")
	}
	for _, s := range []Status{StatusApproved, StatusRejected, StatusDirect, StatusFailed} {
		if !s.Decided() {
			t.Errorf("%s should be decided", s)
		}
	}
}

func TestSummary(t *testing.T) {
	s := &Submission{ID: "x", Subject: "S", Kind: content.KindAlbum, Items: make([]content.Item, 3), Status: StatusPending}
	sum := s.Summary()
	if sum.ItemCount != 3 || sum.Kind != "album" || sum.Status != StatusPending {
		t.Errorf("Summary() = %+v", sum)
	}
}
