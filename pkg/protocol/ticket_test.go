package protocol

import (
	"encoding/json"
	"testing"
)

func TestTicketReceipt_Unmarshal(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		path     string
		display  string
		assignee string
	}{
		{"current fields", `{"ticket_cod_ticket": 42, "ticket_id_ticket": "TKT-1", "assigned_to": "jdoe"}`, "42", "TKT-1", "jdoe"},
		{"numeric ticket_id", `{"ticket_id": 7}`, "7", "7", ""},
		{"string ticket_id", `{"ticket_id": "TKT-9", "id": 9}`, "9", "TKT-9", ""},
		{"id only", `{"id": 15, "ticket_asignado_a": "maria"}`, "15", "15", "maria"},
		{"null assignee", `{"ticket_cod_ticket": 3, "assigned_to": null}`, "3", "3", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r TicketReceipt
			if err := json.Unmarshal([]byte(tt.body), &r); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if r.PathID() != tt.path {
				t.Errorf("PathID: expected %q, got %q", tt.path, r.PathID())
			}
			if r.DisplayID() != tt.display {
				t.Errorf("DisplayID: expected %q, got %q", tt.display, r.DisplayID())
			}
			if r.AssignedTo != tt.assignee {
				t.Errorf("AssignedTo: expected %q, got %q", tt.assignee, r.AssignedTo)
			}
		})
	}
}

func TestCreateTicketRequest_NullPreference(t *testing.T) {
	req := CreateTicketRequest{User: User{Username: "ana"}}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(raw["preferred_admin"]) != "null" {
		t.Errorf("expected null preferred_admin, got %s", raw["preferred_admin"])
	}
}

func TestAdmin_DisplayNameAndHandle(t *testing.T) {
	a := Admin{Name: "tech1"}
	if a.DisplayName() != "tech1" {
		t.Errorf("expected fallback to name, got %q", a.DisplayName())
	}
	if a.Handle() != "tech1" {
		t.Errorf("expected handle tech1, got %q", a.Handle())
	}
	if (Admin{}).Handle() != "" {
		t.Error("expected empty handle for admin without identity")
	}
	if (User{}).DisplayName() != "User" {
		t.Error("expected User fallback")
	}
}
