package coachsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientListRooms(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/rooms" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("auth header = %q", got)
		}
		json.NewEncoder(w).Encode([]Room{
			{ID: "room-1", CounterpartID: "coach-1", CounterpartName: "Alex", UnreadCount: 3, IsOnline: true},
			{ID: "room-2", IsSupportRoom: true},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token")
	rooms, err := client.ListRooms(context.Background())
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if len(rooms) != 2 || rooms[0].CounterpartName != "Alex" || rooms[0].UnreadCount != 3 {
		t.Errorf("rooms = %+v", rooms)
	}
	if !rooms[1].IsSupportRoom {
		t.Error("support room flag lost")
	}
}

func TestClientListMessages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/rooms/room-1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("page") != "2" || q.Get("limit") != "25" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode([]ServerMessage{
			{ID: "m-1", Content: "hello", Type: KindText},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token")
	msgs, err := client.ListMessages(context.Background(), "room-1", 2, 25)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m-1" {
		t.Errorf("msgs = %+v", msgs)
	}
}

func TestClientCreateMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/chat/rooms/room-1/messages" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var payload map[string]string
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["content"] != "hello" || payload["type"] != "text" {
			t.Errorf("payload = %v", payload)
		}
		json.NewEncoder(w).Encode(ServerMessage{
			ID: "m-1", RoomID: "room-1", Content: "hello", Type: KindText,
			Status: "sent", CreatedAt: time.Unix(1800000000, 0),
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token")
	msg, err := client.CreateMessage(context.Background(), "room-1", "hello", "")
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if msg.ID != "m-1" || msg.Status != "sent" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestClientMarkRead(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if r.Method != "POST" || r.URL.Path != "/chat/rooms/room-1/read" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token")
	if err := client.MarkRead(context.Background(), "room-1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if !called {
		t.Error("endpoint not hit")
	}
}

func TestClientErrorMapping(t *testing.T) {
	t.Run("401 is session fatal", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		client := NewClient(server.URL, "expired")
		_, err := client.ListRooms(context.Background())
		if !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("err = %v, want ErrUnauthenticated", err)
		}
		if !IsFatal(err) {
			t.Error("IsFatal = false")
		}
	})

	t.Run("403 is session fatal", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer server.Close()

		client := NewClient(server.URL, "revoked")
		_, err := client.ListRooms(context.Background())
		if !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("err = %v, want ErrUnauthenticated", err)
		}
	})

	t.Run("server error surfaces APIError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(APIError{Code: "ROOM_ARCHIVED", Message: "room is archived"})
		}))
		defer server.Close()

		client := NewClient(server.URL, "test-token")
		_, err := client.CreateMessage(context.Background(), "room-1", "hi", KindText)
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Code != "ROOM_ARCHIVED" {
			t.Errorf("err = %v", err)
		}
		if IsFatal(err) {
			t.Error("transient error reported fatal")
		}
	})
}

func TestClientUpload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/upload" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("type"); got != "image" {
			t.Errorf("type field = %q", got)
		}
		if got := r.FormValue("roomId"); got != "room-1" {
			t.Errorf("roomId field = %q", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("file part: %v", err)
		}
		defer file.Close()
		if header.Filename != "progress.png" {
			t.Errorf("filename = %q", header.Filename)
		}
		json.NewEncoder(w).Encode(ServerMessage{
			ID: "m-9", RoomID: "room-1", Type: KindImage,
			AttachmentURL: "https://cdn.test/progress.png",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token")
	msg, err := client.Upload(context.Background(), "room-1", []byte("fake-png"), &UploadOptions{
		FileName: "progress.png",
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if msg.AttachmentURL != "https://cdn.test/progress.png" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestClientUploadRequiresFileName(t *testing.T) {
	client := NewClient("http://unused", "test-token")
	if _, err := client.Upload(context.Background(), "room-1", []byte("x"), nil); err == nil {
		t.Fatal("expected error without fileName")
	}
}

func TestKindForMime(t *testing.T) {
	cases := []struct {
		fileName string
		want     MessageKind
	}{
		{"photo.jpg", KindImage},
		{"shot.webp", KindImage},
		{"form-check.mp4", KindVideo},
		{"clip.webm", KindVideo},
		{"plan.pdf", KindFile},
		{"noext", KindFile},
	}
	for _, tc := range cases {
		if got := kindForMime(guessMimeType(tc.fileName)); got != tc.want {
			t.Errorf("%s: kind = %s, want %s", tc.fileName, got, tc.want)
		}
	}
}
