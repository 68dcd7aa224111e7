package i18n

import "testing"

func TestT(t *testing.T) {
	if got := T(Spanish, MsgInvalidCredentials); got != "Correo o contraseña inválidos." {
		t.Errorf("unexpected es-MX message %q", got)
	}
	if got := T("fr", MsgNotFound); got != catalog[English][MsgNotFound] {
		t.Errorf("expected English fallback, got %q", got)
	}
	if got := T(English, "unknown_code"); got != "unknown_code" {
		t.Errorf("expected code fallback, got %q", got)
	}
}

func TestCatalogsAreComplete(t *testing.T) {
	for code := range catalog[English] {
		for lang, msgs := range catalog {
			if _, ok := msgs[code]; !ok {
				t.Errorf("%s is missing %s", lang, code)
			}
		}
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name                  string
		cookie, query, accept string
		want                  string
	}{
		{"default", "", "", "", English},
		{"cookie wins", "bg", "es-MX", "en-US", Bulgarian},
		{"query over header", "", "es-MX", "bg", Spanish},
		{"header", "", "", "bg-BG,bg;q=0.9,en;q=0.5", Bulgarian},
		{"regional spanish", "", "", "es-ES", Spanish},
		{"unsupported header", "", "", "ja-JP", English},
		{"invalid cookie skipped", "xx-invalid!", "", "bg", Bulgarian},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.cookie, tt.query, tt.accept); got != tt.want {
				t.Errorf("Detect(%q, %q, %q) = %q, want %q", tt.cookie, tt.query, tt.accept, got, tt.want)
			}
		})
	}
}
