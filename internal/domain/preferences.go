package domain

// UI themes.
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// DefaultTheme applies when the visitor never chose one.
const DefaultTheme = ThemeDark

// Preferences is the persisted UI preference pair.
type Preferences struct {
	Theme    string `json:"theme"`
	Language string `json:"language"`
}

// ValidTheme reports whether t is a known theme.
func ValidTheme(t string) bool {
	return t == ThemeLight || t == ThemeDark
}
