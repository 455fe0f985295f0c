package helpdesk

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

func TestClient_CreateTicket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/tickets/" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer jwt-123" {
			t.Errorf("missing bearer header, got %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Error("missing content-type")
		}

		var req protocol.CreateTicketRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Context.ProblemDescription != "printer jammed" {
			t.Errorf("unexpected description %q", req.Context.ProblemDescription)
		}
		if req.PreferredAdmin != nil {
			t.Errorf("expected null preferred_admin, got %q", *req.PreferredAdmin)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ticket_cod_ticket": 31, "ticket_id_ticket": "TKT-31", "assigned_to": "jdoe"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api/", WithCredentials(Bearer{Token: "jwt-123"}))
	receipt, err := c.CreateTicket(context.Background(), protocol.CreateTicketRequest{
		Context: protocol.TicketContext{ProblemDescription: "printer jammed"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if receipt.PathID() != "31" || receipt.DisplayID() != "TKT-31" || receipt.AssignedTo != "jdoe" {
		t.Errorf("unexpected receipt %+v", receipt)
	}
}

func TestClient_CookieSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie("chatbot-auth")
		if err != nil || ck.Value != "tok" {
			t.Errorf("missing session cookie: %v", err)
		}
		if r.Header.Get("X-CSRFToken") != "csrf-1" {
			t.Errorf("missing csrf header")
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("cookie session must not send a bearer header")
		}
		w.Write([]byte(`[{"username": "jdoe", "nombreCompleto": "John Doe"}, {"nombre": "tech2"}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithCredentials(CookieSession{
		Cookies:   []*http.Cookie{{Name: "chatbot-auth", Value: "tok"}},
		CSRFToken: "csrf-1",
	}))
	admins, err := c.ListAdmins(context.Background())
	if err != nil {
		t.Fatalf("list admins: %v", err)
	}
	if len(admins) != 2 || admins[0].DisplayName() != "John Doe" || admins[1].Handle() != "tech2" {
		t.Errorf("unexpected admins %+v", admins)
	}
}

func TestClient_APIErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"error field", `{"error": "Archivo demasiado grande"}`, "Archivo demasiado grande"},
		{"detail field", `{"detail": "Authentication credentials were not provided."}`, "Authentication credentials were not provided."},
		{"plain body", `bad gateway`, "bad gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).Presign(context.Background(), "7", protocol.PresignRequest{Filename: "x.png"})
			if !IsAPIError(err) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected %q in %v", tt.want, err)
			}
		})
	}
}

func TestClient_UploadHandshake(t *testing.T) {
	var stored string
	storage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "image/png" {
			t.Errorf("unexpected content-type %q", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("x-amz-acl") != "private" {
			t.Error("missing acl header")
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("storage upload must not carry API credentials")
		}
		data, _ := io.ReadAll(r.Body)
		stored = string(data)
	}))
	defer storage.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tickets/31/generate-presigned-url/":
			var req protocol.PresignRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.Filename != "shot.png" || req.Filesize != 3 {
				t.Errorf("unexpected presign body %+v", req)
			}
			json.NewEncoder(w).Encode(protocol.PresignResponse{
				UploadURL: storage.URL + "/bucket/key",
				S3Key:     "chatbot-uploads/tickets/31/abc.png",
			})
		case "/tickets/31/confirm-upload/":
			var req protocol.ConfirmUploadRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.S3Key != "chatbot-uploads/tickets/31/abc.png" {
				t.Errorf("unexpected s3 key %q", req.S3Key)
			}
			w.Write([]byte(`{"success": true, "file_id": 4}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer api.Close()

	c := NewClient(api.URL, WithCredentials(Bearer{Token: "t"}))
	ctx := context.Background()

	presigned, err := c.Presign(ctx, "31", protocol.PresignRequest{Filename: "shot.png", Filetype: "image/png", Filesize: 3})
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if err := c.Put(ctx, presigned.UploadURL, "image/png", 3, strings.NewReader("png")); err != nil {
		t.Fatalf("put: %v", err)
	}
	ack, err := c.ConfirmUpload(ctx, "31", protocol.ConfirmUploadRequest{S3Key: presigned.S3Key, Filename: "shot.png"})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !ack.Success || ack.FileID != 4 {
		t.Errorf("unexpected ack %+v", ack)
	}
	if stored != "png" {
		t.Errorf("unexpected stored bytes %q", stored)
	}
}

func TestClient_PutFailure(t *testing.T) {
	storage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("<Error>SignatureDoesNotMatch</Error>"))
	}))
	defer storage.Close()

	err := NewClient("http://unused").Put(context.Background(), storage.URL, "text/plain", 1, strings.NewReader("x"))
	if !IsAPIError(err) {
		t.Fatalf("expected APIError, got %v", err)
	}
}

func TestClient_LogSolvedEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tickets/log-solved/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewClient(srv.URL).LogSolved(context.Background(), protocol.SolvedRequest{}); err != nil {
		t.Fatalf("log solved: %v", err)
	}
}

func TestBearer_EmptyToken(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://x", nil)
	if err := (Bearer{}).Apply(req); err == nil {
		t.Error("expected error for empty token")
	}
}
