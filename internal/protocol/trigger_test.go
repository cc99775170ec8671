package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestRenderTrigger(t *testing.T) {
	got := RenderTrigger("{{v1}} and ({{ v2 }} or {{v3}})", map[string]bool{"v1": true, "v2": false})
	want := "True and (False or {{v3}})"
	if got != want {
		t.Errorf("RenderTrigger = %q, want %q", got, want)
	}
}

func TestParseExpression(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{"True", true},
		{"False", false},
		{"not False", true},
		{"not not True", true},
		{"True and False", false},
		{"True or False", true},
		{"False or True and False", false},
		{"(False or True) and True", true},
		{"not True or True", true},
		{"not (True or False)", false},
		{"  True\tand\nTrue ", true},
		{"((True))", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			e, err := ParseExpression(tt.expr)
			if err != nil {
				t.Fatalf("ParseExpression(%q): %v", tt.expr, err)
			}
			if got := e.Eval(); got != tt.want {
				t.Errorf("Eval = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseExpression_Rejects(t *testing.T) {
	tests := []string{
		"",
		"True and",
		"(True",
		"True)",
		"True False",
		"__import__('os')",
		"True and 1",
		"true",
		"AND",
		"True; False",
		"{{v1}} and True",
		"True" + strings.Repeat(" or True", 62),
	}
	for _, expr := range tests {
		_, err := ParseExpression(expr)
		if err == nil {
			t.Errorf("ParseExpression(%q): expected error", expr)
			continue
		}
		if !errors.Is(err, ErrConfiguration) {
			t.Errorf("ParseExpression(%q): error %v is not a configuration error", expr, err)
		}
		if ReasonOf(err) != ReasonTrigger {
			t.Errorf("ParseExpression(%q): reason %q", expr, ReasonOf(err))
		}
	}
}

func TestParseExpression_LengthLimit(t *testing.T) {
	// "True" + n*" or True" has length 4+8n
	ok := "True" + strings.Repeat(" or True", 61) // 492
	if _, err := ParseExpression(ok); err != nil {
		t.Errorf("expected %d chars to parse: %v", len(ok), err)
	}
	padded := ok + strings.Repeat(" ", MaxTriggerLength-len(ok))
	if _, err := ParseExpression(padded); err == nil {
		t.Errorf("expected %d chars to be rejected", len(padded))
	}
}

func TestEvaluateTrigger(t *testing.T) {
	values := map[string]bool{"v1": true, "v2": true, "v3": false}
	got, err := EvaluateTrigger("{{v1}} and {{v2}} and not {{v3}}", values)
	if err != nil {
		t.Fatal(err)
	}
	if !got {
		t.Error("expected trigger to hold")
	}

	if _, err := EvaluateTrigger("{{v1}} and {{missing}}", values); err == nil {
		t.Error("expected unresolved placeholder to fail")
	}
}
