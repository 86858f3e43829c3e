package tgui

// Confirm builds a two-button yes/no keyboard for scope:action.
func Confirm(scope, action, payload, yes, no string) *Inline {
	return NewInline().Row(
		Btn(yes, Data(scope, action, payload)),
		Btn(no, Data(scope, "dismiss", "")),
	)
}
