package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/matheus3301/crmsync/internal/bus"
	"github.com/matheus3301/crmsync/internal/crm"
	"github.com/matheus3301/crmsync/internal/device"
	"github.com/matheus3301/crmsync/internal/store"
)

func testEngine(t *testing.T, reader device.Reader, sender Sender) (*Engine, *store.DB, *bus.Bus) {
	t.Helper()
	db := testDB(t)
	b := bus.New()
	e := NewEngine(NewReconciler(reader, db, nil), NewTransmitter(sender, db, nil), b, nil)
	return e, db, b
}

func TestSyncStreamSecondRunIsEmpty(t *testing.T) {
	reader := &fakeReader{
		contacts: []store.Contact{contact("1", "Ann", []string{"555"}, nil)},
		calls:    []store.CallLog{{PhoneNumber: "555", Type: store.CallIncoming, Timestamp: 1000}},
	}
	sender := &fakeSender{}
	e, _, _ := testEngine(t, reader, sender)
	ctx := context.Background()

	for _, stream := range store.Streams {
		out, err := e.SyncStream(ctx, stream)
		if err != nil || !out.Success || out.Count != 1 {
			t.Fatalf("%s first run = %+v, %v", stream, out, err)
		}
	}
	for _, stream := range store.Streams {
		out, err := e.SyncStream(ctx, stream)
		if err != nil || !out.Success || out.Count != 0 {
			t.Errorf("%s second run = %+v, %v; want empty success", stream, out, err)
		}
	}
	if sender.total() != 2 {
		t.Errorf("sender called %d times, want 2 (one per stream)", sender.total())
	}
}

func TestSyncStreamRetriesSameDeltaAfterFailure(t *testing.T) {
	reader := &fakeReader{calls: []store.CallLog{
		{PhoneNumber: "a", Timestamp: 100},
		{PhoneNumber: "b", Timestamp: 200},
	}}
	sender := &fakeSender{callErr: &crm.TransportError{Stream: "calls", StatusCode: 502}}
	e, db, _ := testEngine(t, reader, sender)
	ctx := context.Background()

	out, err := e.SyncStream(ctx, store.StreamCalls)
	if err == nil || out.Success {
		t.Fatalf("first run = %+v, %v; want failure", out, err)
	}
	if _, ok, _ := db.Watermark(ctx, store.StreamCalls); ok {
		t.Error("failed run must not write a watermark")
	}

	sender.callErr = nil
	out, err = e.SyncStream(ctx, store.StreamCalls)
	if err != nil || !out.Success || out.Count != 2 {
		t.Fatalf("retry = %+v, %v; want both calls resent", out, err)
	}
	if len(sender.callBatches[0]) != len(sender.callBatches[1]) {
		t.Errorf("retry batch differs: %d vs %d", len(sender.callBatches[0]), len(sender.callBatches[1]))
	}
	ts, _, _ := db.Watermark(ctx, store.StreamCalls)
	if ts != 200 {
		t.Errorf("watermark = %d, want 200", ts)
	}
}

func TestSyncStreamDataSourceErrorSkips(t *testing.T) {
	readErr := &device.DataSourceError{Op: "read call log", Err: device.ErrPermissionDenied}
	sender := &fakeSender{}
	e, _, b := testEngine(t, &fakeReader{callErr: readErr}, sender)
	events, unsub := b.Subscribe("sync.", 4)
	defer unsub()

	out, err := e.SyncStream(context.Background(), store.StreamCalls)
	if !errors.Is(err, device.ErrPermissionDenied) {
		t.Errorf("error = %v, want permission denied", err)
	}
	if !out.Skipped || !out.Success {
		t.Errorf("outcome = %+v, want skipped success", out)
	}
	if sender.total() != 0 {
		t.Error("skipped stream must not reach the sender")
	}

	select {
	case evt := <-events:
		payload, ok := evt.Payload.(StreamCompleted)
		if evt.Kind != bus.KindStreamCompleted || !ok {
			t.Fatalf("event = %+v", evt)
		}
		if payload.Class != ClassDataSource || payload.Err == "" {
			t.Errorf("payload = %+v, want data_source class with error", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no stream_completed event")
	}
}

func TestErrorClass(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"data source", &device.DataSourceError{Op: "x", Err: device.ErrUnavailable}, ClassDataSource},
		{"transport", &crm.TransportError{Stream: "calls", StatusCode: 500}, ClassTransport},
		{"canceled transport", &crm.TransportError{Stream: "calls", Err: context.Canceled}, ClassCanceled},
		{"serialization", &crm.SerializationError{Stream: "calls", Err: errors.New("bad")}, ClassSerialization},
		{"wrapped persistence", fmt.Errorf("commit calls: %w", &store.PersistenceError{Op: "set watermark", Err: errors.New("disk")}), ClassPersistence},
		{"deadline", context.DeadlineExceeded, ClassCanceled},
		{"other", errors.New("boom"), ClassOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorClass(tt.err); got != tt.want {
				t.Errorf("ErrorClass() = %q, want %q", got, tt.want)
			}
		})
	}
}

// crmRecorder is a fake CRM that decodes every contacts batch it accepts.
type crmRecorder struct {
	mu      gosync.Mutex
	batches []crm.ContactsPayload
}

func (c *crmRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var p crm.ContactsPayload
	if err := json.Unmarshal(body, &p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c.mu.Lock()
	c.batches = append(c.batches, p)
	c.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func TestContactLifecycleAgainstDeviceAndCRM(t *testing.T) {
	ctx := context.Background()
	devicePath := filepath.Join(t.TempDir(), "device.db")
	w, err := device.OpenWriter(devicePath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = w.Close() }()
	src, err := device.OpenSource(devicePath, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = src.Close() }()

	rec := &crmRecorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()
	client, err := crm.New(crm.Options{BaseURL: srv.URL, APIKey: "k"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	e, db, _ := testEngine(t, src, client)

	if _, err := w.AddContact(ctx, "Ann", "555", ""); err != nil {
		t.Fatal(err)
	}
	if out, err := e.SyncStream(ctx, store.StreamContacts); err != nil || out.Count != 1 {
		t.Fatalf("first sync = %+v, %v", out, err)
	}
	if out, err := e.SyncStream(ctx, store.StreamContacts); err != nil || out.Count != 0 {
		t.Fatalf("second sync = %+v, %v; want empty", out, err)
	}
	if _, err := w.DeleteContactsByName(ctx, "Ann"); err != nil {
		t.Fatal(err)
	}
	if out, err := e.SyncStream(ctx, store.StreamContacts); err != nil || out.Count != 1 {
		t.Fatalf("third sync = %+v, %v", out, err)
	}

	if len(rec.batches) != 2 {
		t.Fatalf("CRM received %d batches, want 2", len(rec.batches))
	}
	first, last := rec.batches[0].Contacts, rec.batches[1].Contacts
	if len(first) != 1 || first[0].Status != string(store.StatusNew) || first[0].Name != "Ann" {
		t.Errorf("first batch = %+v, want Ann as new", first)
	}
	if len(last) != 1 || last[0].Status != string(store.StatusDeleted) || last[0].Phones[0] != "555" {
		t.Errorf("last batch = %+v, want Ann tombstone with her phone", last)
	}

	if n, _ := db.ContactCount(ctx); n != 0 {
		t.Errorf("snapshot has %d contacts after delete, want 0", n)
	}
}
