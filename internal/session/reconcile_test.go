package session

import (
	"testing"

	"github.com/rmezapi/prototipo-cassa-gpt/internal/gateway"
)

func TestConfirmMessageIsIdempotent(t *testing.T) {
	confirmed := gateway.Message{ID: "srv-1", Speaker: gateway.SpeakerAI, Text: "hi there"}

	list := confirmMessage(nil, confirmed, true)
	if len(list) != 1 {
		t.Fatalf("got %d entries, want 1", len(list))
	}

	again := confirmMessage(list, confirmed, true)
	if len(again) != 1 {
		t.Errorf("got %d entries after re-merge, want 1", len(again))
	}
}

func TestConfirmMessagePromotesProvisionalAndAdoptsServerID(t *testing.T) {
	list := appendProvisional(nil, gateway.Message{
		ID:      "local-1",
		Speaker: gateway.SpeakerUser,
		Text:    "hello",
	})

	list = confirmMessage(list, gateway.Message{
		ID:      "srv-9",
		Speaker: gateway.SpeakerUser,
		Text:    "hello",
	}, true)

	if len(list) != 1 {
		t.Fatalf("got %d entries, want provisional replaced in place", len(list))
	}
	if list[0].State != Confirmed {
		t.Error("entry still provisional after confirmation")
	}
	if list[0].ID != "srv-9" {
		t.Errorf("id = %q, want server id adopted", list[0].ID)
	}
}

func TestConfirmMessageKeepsClientIDWhenServerEchoesNone(t *testing.T) {
	list := appendProvisional(nil, gateway.Message{
		ID:      "local-1",
		Speaker: gateway.SpeakerUser,
		Text:    "hello",
	})

	list = confirmMessage(list, gateway.Message{
		Speaker: gateway.SpeakerUser,
		Text:    "hello",
	}, true)

	if list[0].ID != "local-1" {
		t.Errorf("id = %q, want client id kept", list[0].ID)
	}
	if list[0].State != Confirmed {
		t.Error("entry still provisional")
	}
}

func TestConfirmMessageKeepsSameTextUnderDistinctServerIDs(t *testing.T) {
	list := confirmMessage(nil, gateway.Message{ID: "srv-1", Speaker: gateway.SpeakerUser, Text: "yes"}, true)
	list = confirmMessage(list, gateway.Message{ID: "srv-2", Speaker: gateway.SpeakerUser, Text: "yes"}, true)

	if len(list) != 2 {
		t.Fatalf("got %d entries, want the repeated text kept as 2", len(list))
	}
	if list[0].ID != "srv-1" || list[1].ID != "srv-2" {
		t.Errorf("ids = %q, %q, want srv-1, srv-2", list[0].ID, list[1].ID)
	}
}

func TestConfirmMessagePinsIdentityAfterAdoptingServerID(t *testing.T) {
	// A locally confirmed entry still carries its client id. The first
	// server record with the same text claims it; a second record with a
	// new id is a genuine repeat, not a re-merge.
	list := confirmMessage(nil, gateway.Message{ID: "local-1", Speaker: gateway.SpeakerUser, Text: "ok"}, false)
	list = confirmMessage(list, gateway.Message{ID: "srv-1", Speaker: gateway.SpeakerUser, Text: "ok"}, true)

	if len(list) != 1 || list[0].ID != "srv-1" {
		t.Fatalf("list = %+v, want the client entry to adopt srv-1", list)
	}

	list = confirmMessage(list, gateway.Message{ID: "srv-2", Speaker: gateway.SpeakerUser, Text: "ok"}, true)
	if len(list) != 2 {
		t.Errorf("got %d entries, want the repeat appended", len(list))
	}
}

func TestDropProvisionalSparesConfirmedEntries(t *testing.T) {
	list := confirmMessage(nil, gateway.Message{ID: "x", Speaker: gateway.SpeakerUser, Text: "keep"}, true)
	list = appendProvisional(list, gateway.Message{ID: "x", Speaker: gateway.SpeakerAI, Text: "pending"})

	list = dropProvisional(list, "x")
	if len(list) != 1 || list[0].Text != "keep" {
		t.Errorf("list = %+v, want only the confirmed entry", list)
	}
}

func TestMergeFileDedupsByDocID(t *testing.T) {
	files := mergeFile(nil, gateway.FileRef{Filename: "a.txt", DocID: "d1"})
	files = mergeFile(files, gateway.FileRef{Filename: "a-renamed.txt", DocID: "d1"})
	files = mergeFile(files, gateway.FileRef{Filename: "b.txt", DocID: "d2"})

	if len(files) != 2 {
		t.Errorf("got %d files, want 2", len(files))
	}
}
