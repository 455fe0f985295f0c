package protocol

import (
	"encoding/json"
	"strconv"
)

// FileInfo describes an attachment inside a ticket's context payload.
type FileInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// TicketContext is the conversation context sent along with a new ticket.
// Field names follow the helpdesk backend's camelCase contract.
type TicketContext struct {
	CategoryKey        string     `json:"categoryKey"`
	SubcategoryKey     string     `json:"subcategoryKey"`
	ProblemDescription string     `json:"problemDescription"`
	AttachedFiles      []FileInfo `json:"attachedFiles"`
	FinalOptionIndex   int        `json:"finalOptionIndex"`
	FinalOptionsTried  []string   `json:"finalOptionsTried"`
}

// CreateTicketRequest is the body of POST /tickets/.
// A nil PreferredAdmin asks the backend to auto-assign.
type CreateTicketRequest struct {
	Context        TicketContext `json:"context"`
	User           User          `json:"user"`
	PreferredAdmin *string       `json:"preferred_admin"`
}

// TicketReceipt is the backend's answer to a ticket creation.
type TicketReceipt struct {
	// Code is the numeric primary key used in per-ticket URLs.
	Code int64 `json:"ticket_cod_ticket,omitempty"`
	// Reference is the human-facing identifier (e.g. TKT-20250101-120000).
	Reference  string `json:"ticket_id_ticket,omitempty"`
	AssignedTo string `json:"assigned_to,omitempty"`
}

// UnmarshalJSON accepts the field spellings used across backend revisions:
// ticket_cod_ticket / ticket_id_ticket, the serializer aliases ticket_id / id,
// and ticket_asignado_a for the assignee.
func (r *TicketReceipt) UnmarshalJSON(data []byte) error {
	var aux struct {
		Code       json.Number     `json:"ticket_cod_ticket"`
		Reference  *string         `json:"ticket_id_ticket"`
		TicketID   json.RawMessage `json:"ticket_id"`
		ID         json.Number     `json:"id"`
		AssignedTo *string         `json:"assigned_to"`
		Asignado   *string         `json:"ticket_asignado_a"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	*r = TicketReceipt{}
	if aux.Code != "" {
		r.Code, _ = aux.Code.Int64()
	} else if aux.ID != "" {
		r.Code, _ = aux.ID.Int64()
	}
	if aux.Reference != nil {
		r.Reference = *aux.Reference
	}
	if r.Reference == "" && len(aux.TicketID) > 0 {
		var s string
		if err := json.Unmarshal(aux.TicketID, &s); err == nil {
			r.Reference = s
		} else {
			var n json.Number
			if err := json.Unmarshal(aux.TicketID, &n); err == nil {
				r.Reference = n.String()
			}
		}
	}
	switch {
	case aux.AssignedTo != nil:
		r.AssignedTo = *aux.AssignedTo
	case aux.Asignado != nil:
		r.AssignedTo = *aux.Asignado
	}
	return nil
}

// PathID returns the identifier used in /tickets/{id}/... URLs.
func (r TicketReceipt) PathID() string {
	if r.Code > 0 {
		return strconv.FormatInt(r.Code, 10)
	}
	return r.Reference
}

// DisplayID returns the identifier shown to the user.
func (r TicketReceipt) DisplayID() string {
	if r.Reference != "" {
		return r.Reference
	}
	if r.Code > 0 {
		return strconv.FormatInt(r.Code, 10)
	}
	return ""
}

// PresignRequest is the body of POST /tickets/{id}/generate-presigned-url/.
type PresignRequest struct {
	Filename string `json:"filename"`
	Filetype string `json:"filetype"`
	Filesize int64  `json:"filesize"`
}

// PresignResponse carries the storage URL a file must be PUT to.
type PresignResponse struct {
	UploadURL   string `json:"upload_url"`
	S3Key       string `json:"s3_key"`
	DownloadURL string `json:"download_url,omitempty"`
	ExpiresIn   int    `json:"expires_in,omitempty"`
}

// ConfirmUploadRequest is the body of POST /tickets/{id}/confirm-upload/.
type ConfirmUploadRequest struct {
	S3Key    string `json:"s3_key"`
	Filename string `json:"filename"`
	Filetype string `json:"filetype"`
	Filesize int64  `json:"filesize"`
	Username string `json:"username,omitempty"`
}

// ConfirmUploadResponse is the backend's acknowledgement of a stored file.
type ConfirmUploadResponse struct {
	Success bool   `json:"success"`
	FileID  int64  `json:"file_id,omitempty"`
	FileURL string `json:"file_url,omitempty"`
	S3Key   string `json:"s3_key,omitempty"`
}

// SolvedRequest is the body of POST /tickets/log-solved/, recording a case
// the user fixed through the self-service steps.
type SolvedRequest struct {
	Context TicketContext `json:"context"`
	User    User          `json:"user"`
}
