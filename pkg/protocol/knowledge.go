package protocol

// KnowledgeBase is the static troubleshooting tree served to the assistant.
// The JSON keys are the helpdesk's published format.
type KnowledgeBase struct {
	Categories Entries[Category] `json:"casos_soporte" yaml:"casos_soporte"`
	Policies   Entries[Policy]   `json:"politicas" yaml:"politicas"`
}

// Category groups related subcategories (e.g. "Network").
type Category struct {
	Title         string               `json:"titulo" yaml:"titulo"`
	Subcategories Entries[Subcategory] `json:"categorias" yaml:"categorias"`
}

// Subcategory is a concrete problem with its self-service remediation.
type Subcategory struct {
	Title             string   `json:"titulo" yaml:"titulo"`
	Steps             []string `json:"pasos" yaml:"pasos"`
	ConfirmationTitle string   `json:"titulo_confirmacion" yaml:"titulo_confirmacion"`
	FinalOptions      []Option `json:"opciones_finales,omitempty" yaml:"opciones_finales,omitempty"`
}

// HasFinalOptions reports whether escalation should offer final options first.
// A present but empty list counts as none.
func (s Subcategory) HasFinalOptions() bool {
	return len(s.FinalOptions) > 0
}

// Option is a last-resort suggestion offered before a ticket is filed.
type Option struct {
	Title       string `json:"titulo" yaml:"titulo"`
	Description string `json:"descripcion" yaml:"descripcion"`
}

// Policy is an IT policy document the user can read.
type Policy struct {
	Title   string `json:"titulo" yaml:"titulo"`
	Content string `json:"contenido" yaml:"contenido"`
}

// Subcategory looks up a subcategory by category and subcategory key.
func (kb *KnowledgeBase) Subcategory(categoryKey, subcategoryKey string) (Subcategory, bool) {
	cat, ok := kb.Categories.Get(categoryKey)
	if !ok {
		return Subcategory{}, false
	}
	return cat.Subcategories.Get(subcategoryKey)
}
