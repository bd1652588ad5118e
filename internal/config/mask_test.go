package config

import "testing"

func TestIsSensitiveField(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"apiKey", true},
		{"API_KEY", true},
		{"password", true},
		{"authToken", true},
		{"secret", true},
		{"name", false},
		{"command", false},
		{"workdir", false},
	}
	for _, tt := range tests {
		if got := IsSensitiveField(tt.name); got != tt.want {
			t.Errorf("IsSensitiveField(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestMaskValue_LengthTiers(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"short", "****"},
		{"12345678", "****"},
		{"123456789", "xx****xx"},
		{"12345678901", "xx****xx"},
		{"123456789012", "xxxx****xxxx"},
		{"a-very-long-secret-value", "xxxx****xxxx"},
	}
	for _, tt := range tests {
		if got := MaskValue(tt.in); got != tt.want {
			t.Errorf("MaskValue(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMaskConfig_MasksSensitiveFieldsOnly(t *testing.T) {
	raw := map[string]any{
		"name":     "my-server",
		"apiKey":   "sk-abcdefghijklmnop",
		"authToken": "tok-123456",
	}

	masked := MaskConfig(raw).(map[string]any)
	if masked["name"] != "my-server" {
		t.Errorf("name should be untouched, got %v", masked["name"])
	}
	if masked["apiKey"] == raw["apiKey"] {
		t.Error("apiKey should be masked")
	}
	if masked["authToken"] == raw["authToken"] {
		t.Error("authToken should be masked")
	}
}

func TestMaskConfig_EnvMapMasksEveryValue(t *testing.T) {
	raw := map[string]any{
		"env": map[string]any{
			"PATH":      "/usr/bin",
			"MY_SECRET": "hunter2hunter2",
		},
	}

	masked := MaskConfig(raw).(map[string]any)
	env := masked["env"].(map[string]any)
	if env["PATH"] == "/usr/bin" {
		t.Error("every key under env should be masked regardless of its own name")
	}
	if env["MY_SECRET"] == "hunter2hunter2" {
		t.Error("MY_SECRET under env should be masked")
	}
}

func TestMaskUnmaskRoundTrip(t *testing.T) {
	original := map[string]any{
		"name":   "my-server",
		"apiKey": "sk-abcdefghijklmnop",
		"env": map[string]any{
			"HOST_VAR": "original-value-1234",
		},
	}

	masked := MaskConfig(original)

	// Client echoes the masked document back unchanged (no rotation).
	restored := UnmaskConfig(masked, original).(map[string]any)
	if restored["apiKey"] != original["apiKey"] {
		t.Errorf("apiKey should be restored to original when placeholder echoed back, got %v", restored["apiKey"])
	}
	env := restored["env"].(map[string]any)
	origEnv := original["env"].(map[string]any)
	if env["HOST_VAR"] != origEnv["HOST_VAR"] {
		t.Errorf("env.HOST_VAR should be restored, got %v", env["HOST_VAR"])
	}
	if restored["name"] != "my-server" {
		t.Errorf("non-sensitive field should pass through, got %v", restored["name"])
	}
}

func TestUnmaskConfig_RotationAcceptsNewValue(t *testing.T) {
	original := map[string]any{
		"apiKey": "sk-abcdefghijklmnop",
	}
	incoming := map[string]any{
		"apiKey": "sk-brand-new-value",
	}

	restored := UnmaskConfig(incoming, original).(map[string]any)
	if restored["apiKey"] != "sk-brand-new-value" {
		t.Errorf("a genuinely new value (no mask placeholder) should be accepted as a rotation, got %v", restored["apiKey"])
	}
}

func TestUnmaskConfig_MissingKeyPreservedFromOriginal(t *testing.T) {
	original := map[string]any{
		"name":   "my-server",
		"apiKey": "sk-abcdefghijklmnop",
	}
	incoming := map[string]any{
		"name": "my-server",
	}

	restored := UnmaskConfig(incoming, original).(map[string]any)
	if restored["apiKey"] != original["apiKey"] {
		t.Errorf("keys absent from incoming should be preserved from original, got %v", restored["apiKey"])
	}
}
