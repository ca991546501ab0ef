package record

// View is a named row filter standing in for a spreadsheet view. A row
// matches when every WhereEmpty field is blank and every WhereSet field is
// not.
type View struct {
	Name       string   `json:"name,omitempty" yaml:"name"`
	WhereEmpty []string `json:"where_empty,omitempty" yaml:"where_empty"`
	WhereSet   []string `json:"where_set,omitempty" yaml:"where_set"`
}

func (v View) IsZero() bool {
	return v.Name == "" && len(v.WhereEmpty) == 0 && len(v.WhereSet) == 0
}

// Match reports whether a row with the given fields belongs to the view.
func (v View) Match(f Fields) bool {
	for _, name := range v.WhereEmpty {
		if !isBlank(f.Get(name)) {
			return false
		}
	}
	for _, name := range v.WhereSet {
		if isBlank(f.Get(name)) {
			return false
		}
	}
	return true
}

func isBlank(v Value) bool {
	switch v.Kind() {
	case KindNull:
		return true
	case KindBool:
		b, _ := v.AsBool()
		return !b
	}
	return v.Text() == ""
}
