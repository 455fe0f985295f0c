// Package submit creates helpdesk tickets and uploads their attachments.
package submit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/h1v3-io/helpdesk/internal/attachment"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// TicketAPI is the helpdesk backend.
type TicketAPI interface {
	ListAdmins(ctx context.Context) ([]protocol.Admin, error)
	CreateTicket(ctx context.Context, req protocol.CreateTicketRequest) (protocol.TicketReceipt, error)
	Presign(ctx context.Context, ticketID string, req protocol.PresignRequest) (protocol.PresignResponse, error)
	ConfirmUpload(ctx context.Context, ticketID string, req protocol.ConfirmUploadRequest) (protocol.ConfirmUploadResponse, error)
	LogSolved(ctx context.Context, req protocol.SolvedRequest) error
}

// ObjectStore receives file bytes at a presigned URL.
type ObjectStore interface {
	Put(ctx context.Context, url, contentType string, size int64, body io.Reader) error
}

// Request is a frozen snapshot of everything needed to file a ticket.
type Request struct {
	Context protocol.TicketContext
	User    protocol.User
	// PreferredAdmin is the technician's handle; empty means auto-assign.
	PreferredAdmin string
	Files          []attachment.File
}

// FileOutcome is the result of one attachment's upload handshake.
type FileOutcome struct {
	Filename string
	S3Key    string
	Err      error
}

// OK reports whether the file was stored and confirmed.
func (f FileOutcome) OK() bool {
	return f.Err == nil
}

// Result summarises a created ticket.
type Result struct {
	TicketID      string
	AssignedAdmin string
	Receipt       protocol.TicketReceipt
	Files         []FileOutcome
}

// Uploaded returns the number of files stored successfully.
func (r Result) Uploaded() int {
	n := 0
	for _, f := range r.Files {
		if f.OK() {
			n++
		}
	}
	return n
}

// Failed returns the number of files that could not be stored.
func (r Result) Failed() int {
	return len(r.Files) - r.Uploaded()
}

// Err returns a *PartialUploadError if any file failed, nil otherwise.
func (r Result) Err() error {
	var failed []FileOutcome
	for _, f := range r.Files {
		if !f.OK() {
			failed = append(failed, f)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &PartialUploadError{TicketID: r.TicketID, Failed: failed, Total: len(r.Files)}
}

// Pipeline files tickets against a TicketAPI and streams attachments to an
// ObjectStore.
type Pipeline struct {
	API    TicketAPI
	Store  ObjectStore
	Policy attachment.Policy
	// Concurrency bounds simultaneous uploads; <= 0 runs all at once.
	Concurrency int
	Logger      *slog.Logger
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// ListAdmins returns the technicians a ticket can be assigned to.
func (p *Pipeline) ListAdmins(ctx context.Context) ([]protocol.Admin, error) {
	admins, err := p.API.ListAdmins(ctx)
	if err != nil {
		p.logger().Warn("admin lookup failed", "error", err)
		return nil, &LookupError{Err: err}
	}
	return admins, nil
}

// Submit creates the ticket, then uploads every file concurrently and waits
// for all of them. The returned error is non-nil only when the ticket itself
// could not be created; per-file failures are reported in Result.
func (p *Pipeline) Submit(ctx context.Context, req Request) (Result, error) {
	tc := req.Context
	tc.AttachedFiles = make([]protocol.FileInfo, len(req.Files))
	for i, f := range req.Files {
		tc.AttachedFiles[i] = protocol.FileInfo{Name: f.Name, Type: f.MimeType, Size: f.Size}
	}
	body := protocol.CreateTicketRequest{Context: tc, User: req.User}
	if req.PreferredAdmin != "" {
		admin := req.PreferredAdmin
		body.PreferredAdmin = &admin
	}

	receipt, err := p.API.CreateTicket(ctx, body)
	if err != nil {
		p.logger().Error("ticket creation failed", "user", req.User.Username, "error", err)
		return Result{}, &SubmissionError{Err: err}
	}
	if receipt.PathID() == "" {
		err := errors.New("response carried no ticket id")
		p.logger().Error("ticket creation failed", "user", req.User.Username, "error", err)
		return Result{}, &SubmissionError{Err: err}
	}

	res := Result{
		TicketID:      receipt.DisplayID(),
		AssignedAdmin: receipt.AssignedTo,
		Receipt:       receipt,
	}
	logger := p.logger().With("ticket", res.TicketID)
	logger.Info("ticket created", "assigned_to", res.AssignedAdmin, "files", len(req.Files))

	if len(req.Files) == 0 {
		return res, nil
	}

	tasks := make([]Task[string], len(req.Files))
	for i, f := range req.Files {
		tasks[i] = func(ctx context.Context) (string, error) {
			return p.upload(ctx, receipt.PathID(), req.User.Username, f)
		}
	}
	outcomes := RunAll(ctx, p.Concurrency, tasks)

	res.Files = make([]FileOutcome, len(outcomes))
	for i, o := range outcomes {
		res.Files[i] = FileOutcome{Filename: req.Files[i].Name, S3Key: o.Value, Err: o.Err}
		if o.Err != nil {
			logger.Warn("attachment upload failed", "file", req.Files[i].Name, "error", o.Err)
		}
	}
	logger.Info("attachments processed", "uploaded", res.Uploaded(), "failed", res.Failed())
	return res, nil
}

// upload runs the presign, PUT, confirm handshake for one file and returns
// the storage key.
func (p *Pipeline) upload(ctx context.Context, ticketID, username string, f attachment.File) (string, error) {
	if err := p.Policy.CheckUpload(f); err != nil {
		return "", err
	}

	presigned, err := p.API.Presign(ctx, ticketID, protocol.PresignRequest{
		Filename: f.Name,
		Filetype: f.MimeType,
		Filesize: f.Size,
	})
	if err != nil {
		return "", fmt.Errorf("presign: %w", err)
	}
	if presigned.UploadURL == "" {
		return "", errors.New("presign: no upload url returned")
	}

	if f.Open == nil {
		return "", errors.New("open: no content")
	}
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	err = p.Store.Put(ctx, presigned.UploadURL, f.MimeType, f.Size, rc)
	rc.Close()
	if err != nil {
		return "", fmt.Errorf("put: %w", err)
	}

	if _, err := p.API.ConfirmUpload(ctx, ticketID, protocol.ConfirmUploadRequest{
		S3Key:    presigned.S3Key,
		Filename: f.Name,
		Filetype: f.MimeType,
		Filesize: f.Size,
		Username: username,
	}); err != nil {
		return "", fmt.Errorf("confirm: %w", err)
	}
	return presigned.S3Key, nil
}

// RecordSolved tells the backend a problem was fixed through self-service.
// Failures are logged and otherwise ignored.
func (p *Pipeline) RecordSolved(ctx context.Context, tc protocol.TicketContext, user protocol.User) {
	if err := p.API.LogSolved(ctx, protocol.SolvedRequest{Context: tc, User: user}); err != nil {
		p.logger().Warn("failed to record solved case",
			"category", tc.CategoryKey, "subcategory", tc.SubcategoryKey, "error", err)
	}
}
