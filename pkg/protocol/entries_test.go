package protocol

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

const sampleKB = `{
  "casos_soporte": {
    "red_network": {
      "titulo": "Network",
      "categorias": {
        "no_internet": {"titulo": "No internet", "pasos": ["Check cable"], "titulo_confirmacion": "Fixed?"},
        "slow_wifi": {"titulo": "Slow WiFi", "pasos": ["Move closer"], "titulo_confirmacion": "Better?",
          "opciones_finales": [{"titulo": "Restart router", "descripcion": "Unplug it"}]}
      }
    },
    "hardware": {"titulo": "Hardware", "categorias": {}}
  },
  "politicas": {
    "passwords": {"titulo": "Passwords", "contenido": "Rotate every 90 days"},
    "acceptable_use": {"titulo": "Acceptable use", "contenido": "Be nice"}
  }
}`

func TestEntries_JSONKeepsOrder(t *testing.T) {
	var kb KnowledgeBase
	if err := json.Unmarshal([]byte(sampleKB), &kb); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if diff := cmp.Diff([]string{"red_network", "hardware"}, kb.Categories.Keys()); diff != "" {
		t.Errorf("category order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"passwords", "acceptable_use"}, kb.Policies.Keys()); diff != "" {
		t.Errorf("policy order (-want +got):\n%s", diff)
	}

	sub, ok := kb.Subcategory("red_network", "slow_wifi")
	if !ok {
		t.Fatal("expected slow_wifi")
	}
	if !sub.HasFinalOptions() || sub.FinalOptions[0].Title != "Restart router" {
		t.Errorf("unexpected final options: %+v", sub.FinalOptions)
	}
	if _, ok := kb.Subcategory("hardware", "no_internet"); ok {
		t.Error("lookup across categories should fail")
	}
}

func TestEntries_JSONRoundTripOrder(t *testing.T) {
	e := NewEntries(Entry[int]{"z", 1}, Entry[int]{"a", 2}, Entry[int]{"m", 3})
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"z":1,"a":2,"m":3}` {
		t.Errorf("got %s", data)
	}
}

func TestEntries_YAMLKeepsOrder(t *testing.T) {
	src := `
casos_soporte:
  software:
    titulo: Software
    categorias:
      office:
        titulo: Office
        pasos: [Reinstall]
        titulo_confirmacion: Solved?
  printers:
    titulo: Printers
    categorias: {}
politicas:
  vpn:
    titulo: VPN
    contenido: Always on
`
	var kb KnowledgeBase
	if err := yaml.Unmarshal([]byte(src), &kb); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := cmp.Diff([]string{"software", "printers"}, kb.Categories.Keys()); diff != "" {
		t.Errorf("category order (-want +got):\n%s", diff)
	}
	sub, ok := kb.Subcategory("software", "office")
	if !ok || sub.Title != "Office" || len(sub.Steps) != 1 {
		t.Errorf("unexpected subcategory: %+v", sub)
	}
}

func TestEntries_SetKeepsPosition(t *testing.T) {
	var e Entries[string]
	e.Set("a", "1")
	e.Set("b", "2")
	e.Set("a", "3")
	if e.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", e.Len())
	}
	if v, _ := e.Get("a"); v != "3" {
		t.Errorf("expected replaced value, got %q", v)
	}
	if diff := cmp.Diff([]string{"a", "b"}, e.Keys()); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
}

func TestEntries_RejectsArray(t *testing.T) {
	var e Entries[string]
	if err := json.Unmarshal([]byte(`["a"]`), &e); err == nil {
		t.Error("expected error for array")
	}
}
