package http

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"soulcrush/internal/model"
	"soulcrush/internal/refresh"
)

func TestWriteViewEvent_Ready(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	view := refresh.View{
		State: refresh.StateReady,
		Key:   refresh.Versions{Create: 2, Update: 1},
		Applications: []model.ApplicationResponse{{
			ID:      uuid.New(),
			Company: model.Company{Name: "Acme"},
			Status:  model.StatusSolicitated,
			Date:    "2025-01-01T09:00:00.000000000Z",
		}},
	}
	if err := writeViewEvent(w, view); err != nil {
		t.Fatalf("writeViewEvent error: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "id: 3\nevent: view\ndata: ") {
		t.Fatalf("unexpected event framing: %q", out)
	}
	if !strings.HasSuffix(out, "\n\n") {
		t.Fatalf("expected event terminated by a blank line: %q", out)
	}
	if !strings.Contains(out, `"statusLabel":"Applied"`) || !strings.Contains(out, `"state":"ready"`) {
		t.Fatalf("expected ready view with labelled status: %q", out)
	}
}

func TestStreamEvent_Failed(t *testing.T) {
	ev := streamEvent(refresh.View{State: refresh.StateFailed, Err: errors.New("boom")})
	if ev.Error != "boom" || ev.Applications != nil {
		t.Fatalf("expected error-only event, got %+v", ev)
	}
}

type sseFrame struct {
	id, event string
	data      StreamEvent
}

// readFrames parses server-sent events from r until it fails. Frames
// whose data does not decode are reported with event "invalid".
func readFrames(r *bufio.Reader, out chan<- sseFrame) {
	defer close(out)
	var f sseFrame
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if f.event != "" {
				out <- f
			}
			f = sseFrame{}
		case strings.HasPrefix(line, "id: "):
			f.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: ") && f.event != "invalid":
			f.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f.data); err != nil {
				f.event = "invalid"
			}
		}
	}
}

func nextFrame(t *testing.T, frames <-chan sseFrame) sseFrame {
	t.Helper()
	select {
	case f, ok := <-frames:
		if !ok {
			t.Fatalf("stream closed")
		}
		return f
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for stream event")
	}
	return sseFrame{}
}

func TestStream_MutationProducesViewEvent(t *testing.T) {
	s, _ := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = s.App().Listener(ln) }()
	t.Cleanup(func() { _ = s.App().ShutdownWithTimeout(time.Second) })
	base := "http://" + ln.Addr().String()

	resp, err := http.Get(base + "/v1/applications/stream")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("expected event stream, got %q", ct)
	}

	frames := make(chan sseFrame, 8)
	go readFrames(bufio.NewReader(resp.Body), frames)

	first := nextFrame(t, frames)
	if first.event != "view" || first.id != "0" || first.data.State != refresh.StateReady {
		t.Fatalf("expected initial ready view, got %+v", first)
	}

	body := `{"company":{"name":"Acme","website":"https://acme.com","ceo":"J","industry":"Tech"}}`
	post, err := http.Post(base+"/v1/applications", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", post.StatusCode)
	}

	got := nextFrame(t, frames)
	if got.id != "1" || got.data.Key.Create != 1 {
		t.Fatalf("expected view for create 1, got %+v", got)
	}
	if len(got.data.Applications) != 1 || got.data.Applications[0].Company.Name != "Acme" {
		t.Fatalf("expected the new application in the event, got %+v", got.data.Applications)
	}

	select {
	case extra := <-frames:
		t.Fatalf("expected one event per mutation, got extra %+v", extra)
	case <-time.After(200 * time.Millisecond):
	}
}
