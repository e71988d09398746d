package hotkey

import (
	"reflect"
	"testing"
)

func TestParseCombo(t *testing.T) {
	cases := []struct {
		combo string
		want  []string
	}{
		{"Ctrl+Alt+H", []string{"ctrl", "alt", "h"}},
		{"Control+Shift+Enter", []string{"ctrl", "shift", "enter"}},
		{"Cmd+Return", []string{"cmd", "enter"}},
		{"ctrl + alt + left", []string{"ctrl", "alt", "left"}},
		{"Win+B", []string{"cmd", "b"}},
		{"Escape", []string{"esc"}},
	}
	for _, tc := range cases {
		got, err := ParseCombo(tc.combo)
		if err != nil {
			t.Errorf("ParseCombo(%q): %v", tc.combo, err)
			continue
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("ParseCombo(%q) = %v, want %v", tc.combo, got, tc.want)
		}
	}
}

func TestParseComboRejectsEmptyKeys(t *testing.T) {
	for _, combo := range []string{"", "Ctrl++H", "Ctrl+"} {
		if _, err := ParseCombo(combo); err == nil {
			t.Errorf("ParseCombo(%q) should fail", combo)
		}
	}
}
