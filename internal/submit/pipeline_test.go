package submit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/h1v3-io/helpdesk/internal/attachment"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeAPI struct {
	mu sync.Mutex

	admins    []protocol.Admin
	adminsErr error
	receipt   protocol.TicketReceipt
	createErr error

	presignFail map[string]error
	confirmFail map[string]error
	solvedErr   error

	created   []protocol.CreateTicketRequest
	presigned []string
	confirmed []protocol.ConfirmUploadRequest
	solved    []protocol.SolvedRequest
}

func (f *fakeAPI) ListAdmins(ctx context.Context) ([]protocol.Admin, error) {
	return f.admins, f.adminsErr
}

func (f *fakeAPI) CreateTicket(ctx context.Context, req protocol.CreateTicketRequest) (protocol.TicketReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	return f.receipt, f.createErr
}

func (f *fakeAPI) Presign(ctx context.Context, ticketID string, req protocol.PresignRequest) (protocol.PresignResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presigned = append(f.presigned, req.Filename)
	if err := f.presignFail[req.Filename]; err != nil {
		return protocol.PresignResponse{}, err
	}
	return protocol.PresignResponse{
		UploadURL: "https://storage.example/" + ticketID + "/" + req.Filename,
		S3Key:     "chatbot-uploads/tickets/" + ticketID + "/" + req.Filename,
	}, nil
}

func (f *fakeAPI) ConfirmUpload(ctx context.Context, ticketID string, req protocol.ConfirmUploadRequest) (protocol.ConfirmUploadResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.confirmFail[req.Filename]; err != nil {
		return protocol.ConfirmUploadResponse{}, err
	}
	f.confirmed = append(f.confirmed, req)
	return protocol.ConfirmUploadResponse{Success: true, S3Key: req.S3Key}, nil
}

func (f *fakeAPI) LogSolved(ctx context.Context, req protocol.SolvedRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.solved = append(f.solved, req)
	return f.solvedErr
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string]string
	fail    map[string]bool
}

func (s *fakeStore) Put(ctx context.Context, url, contentType string, size int64, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.fail {
		if strings.HasSuffix(url, "/"+name) {
			return fmt.Errorf("storage returned 403")
		}
	}
	if s.objects == nil {
		s.objects = make(map[string]string)
	}
	s.objects[url] = contentType + ":" + string(data)
	return nil
}

func files(names ...string) []attachment.File {
	out := make([]attachment.File, len(names))
	for i, n := range names {
		out[i] = attachment.FromBytes(n, "", []byte("data-"+n))
	}
	return out
}

func newPipeline(api *fakeAPI, store *fakeStore) *Pipeline {
	return &Pipeline{API: api, Store: store, Policy: attachment.DefaultPolicy()}
}

func TestSubmit_OnePresignFails(t *testing.T) {
	api := &fakeAPI{
		receipt:     protocol.TicketReceipt{Code: 12, Reference: "TKT-12"},
		presignFail: map[string]error{"b.pdf": errors.New("presign refused")},
	}
	store := &fakeStore{}
	p := newPipeline(api, store)

	res, err := p.Submit(context.Background(), Request{
		User:  protocol.User{Username: "ana"},
		Files: files("a.png", "b.pdf", "c.txt"),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.TicketID != "TKT-12" {
		t.Errorf("expected ticket TKT-12, got %q", res.TicketID)
	}
	if res.Uploaded() != 2 || res.Failed() != 1 {
		t.Errorf("expected 2 uploaded / 1 failed, got %d / %d", res.Uploaded(), res.Failed())
	}

	got := make([]string, len(res.Files))
	for i, f := range res.Files {
		got[i] = fmt.Sprintf("%s:%v", f.Filename, f.OK())
	}
	if diff := cmp.Diff([]string{"a.png:true", "b.pdf:false", "c.txt:true"}, got); diff != "" {
		t.Errorf("outcomes (-want +got):\n%s", diff)
	}

	perr := res.Err()
	if !IsPartialUploadError(perr) {
		t.Fatalf("expected PartialUploadError, got %v", perr)
	}
	if !strings.Contains(perr.Error(), "b.pdf") {
		t.Errorf("expected failed file in error, got %v", perr)
	}
	if len(api.confirmed) != 2 {
		t.Errorf("expected 2 confirmations, got %d", len(api.confirmed))
	}
	for _, c := range api.confirmed {
		if !strings.HasPrefix(c.S3Key, "chatbot-uploads/tickets/12/") {
			t.Errorf("confirm used wrong ticket path: %q", c.S3Key)
		}
	}
	if len(store.objects) != 2 {
		t.Errorf("expected 2 stored objects, got %d", len(store.objects))
	}
}

// barrierStore holds every Put until n of them are in flight.
type barrierStore struct {
	arrived sync.WaitGroup
	all     chan struct{}
}

func newBarrierStore(n int) *barrierStore {
	b := &barrierStore{all: make(chan struct{})}
	b.arrived.Add(n)
	go func() {
		b.arrived.Wait()
		close(b.all)
	}()
	return b
}

func (b *barrierStore) Put(ctx context.Context, url, contentType string, size int64, body io.Reader) error {
	b.arrived.Done()
	select {
	case <-b.all:
		return nil
	case <-time.After(2 * time.Second):
		return errors.New("uploads did not run concurrently")
	}
}

func TestSubmit_UploadsRunConcurrently(t *testing.T) {
	names := []string{"a.png", "b.pdf", "c.txt", "d.log", "e.jpg", "f.zip"}
	api := &fakeAPI{receipt: protocol.TicketReceipt{Code: 5}}
	p := &Pipeline{API: api, Store: newBarrierStore(len(names)), Policy: attachment.DefaultPolicy()}

	res, err := p.Submit(context.Background(), Request{Files: files(names...)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Uploaded() != len(names) {
		for _, f := range res.Files {
			if !f.OK() {
				t.Errorf("%s: %v", f.Filename, f.Err)
			}
		}
		t.Fatalf("expected %d uploads, got %d", len(names), res.Uploaded())
	}
	if len(api.confirmed) != len(names) {
		t.Errorf("expected %d confirmations, got %d", len(names), len(api.confirmed))
	}
}

func TestSubmit_CreateFailsSkipsUploads(t *testing.T) {
	api := &fakeAPI{createErr: errors.New("backend down")}
	p := newPipeline(api, &fakeStore{})

	_, err := p.Submit(context.Background(), Request{Files: files("a.png")})
	if !IsSubmissionError(err) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
	var se *SubmissionError
	errors.As(err, &se)
	if se.Reason() != "backend down" {
		t.Errorf("unexpected reason %q", se.Reason())
	}
	if len(api.presigned) != 0 {
		t.Errorf("no presign expected, got %v", api.presigned)
	}
}

func TestSubmit_MissingTicketID(t *testing.T) {
	p := newPipeline(&fakeAPI{}, &fakeStore{})
	if _, err := p.Submit(context.Background(), Request{}); !IsSubmissionError(err) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
}

func TestSubmit_RequestBody(t *testing.T) {
	api := &fakeAPI{receipt: protocol.TicketReceipt{Code: 1}}
	p := newPipeline(api, &fakeStore{})

	_, err := p.Submit(context.Background(), Request{
		Context:        protocol.TicketContext{CategoryKey: "net", ProblemDescription: "no wifi"},
		User:           protocol.User{Username: "ana"},
		PreferredAdmin: "jdoe",
		Files:          files("a.png"),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	req := api.created[0]
	if req.PreferredAdmin == nil || *req.PreferredAdmin != "jdoe" {
		t.Errorf("expected preferred admin jdoe, got %v", req.PreferredAdmin)
	}
	want := []protocol.FileInfo{{Name: "a.png", Type: "image/png", Size: int64(len("data-a.png"))}}
	if diff := cmp.Diff(want, req.Context.AttachedFiles); diff != "" {
		t.Errorf("attached files (-want +got):\n%s", diff)
	}

	api.created = nil
	p.Submit(context.Background(), Request{})
	if api.created[0].PreferredAdmin != nil {
		t.Error("expected nil preferred admin for auto-assign")
	}
}

func TestSubmit_PolicyRejectsBeforePresign(t *testing.T) {
	api := &fakeAPI{receipt: protocol.TicketReceipt{Code: 5}}
	p := newPipeline(api, &fakeStore{})
	p.Policy.MaxSize = 4

	res, err := p.Submit(context.Background(), Request{Files: files("large.png", "virus.exe")})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Failed() != 2 {
		t.Errorf("expected both files rejected, got %d failed", res.Failed())
	}
	for _, f := range res.Files {
		if !attachment.IsValidationError(f.Err) {
			t.Errorf("%s: expected ValidationError, got %v", f.Filename, f.Err)
		}
	}
	if len(api.presigned) != 0 {
		t.Errorf("rejected files must not be presigned: %v", api.presigned)
	}
}

func TestSubmit_StoreAndConfirmFailuresIsolated(t *testing.T) {
	api := &fakeAPI{
		receipt:     protocol.TicketReceipt{Code: 9},
		confirmFail: map[string]error{"c.txt": errors.New("confirm rejected")},
	}
	store := &fakeStore{fail: map[string]bool{"a.png": true}}
	p := newPipeline(api, store)
	p.Concurrency = 1

	res, _ := p.Submit(context.Background(), Request{Files: files("a.png", "b.pdf", "c.txt")})
	if res.Uploaded() != 1 || res.Files[1].Filename != "b.pdf" || !res.Files[1].OK() {
		t.Errorf("expected only b.pdf to succeed, got %+v", res.Files)
	}
	if !strings.Contains(res.Files[0].Err.Error(), "put") {
		t.Errorf("expected put error, got %v", res.Files[0].Err)
	}
	if !strings.Contains(res.Files[2].Err.Error(), "confirm") {
		t.Errorf("expected confirm error, got %v", res.Files[2].Err)
	}
}

func TestListAdmins(t *testing.T) {
	p := newPipeline(&fakeAPI{adminsErr: errors.New("timeout")}, &fakeStore{})
	if _, err := p.ListAdmins(context.Background()); !IsLookupError(err) {
		t.Fatalf("expected LookupError, got %v", err)
	}

	p = newPipeline(&fakeAPI{admins: []protocol.Admin{{Username: "jdoe"}}}, &fakeStore{})
	admins, err := p.ListAdmins(context.Background())
	if err != nil || len(admins) != 1 {
		t.Fatalf("unexpected result %v, %v", admins, err)
	}
}

func TestRecordSolved_BestEffort(t *testing.T) {
	api := &fakeAPI{solvedErr: errors.New("500")}
	p := newPipeline(api, &fakeStore{})
	p.RecordSolved(context.Background(), protocol.TicketContext{CategoryKey: "net"}, protocol.User{Username: "ana"})
	if len(api.solved) != 1 || api.solved[0].Context.CategoryKey != "net" {
		t.Errorf("unexpected solved calls %+v", api.solved)
	}
}
