package formula

import (
	"errors"
	"testing"
)

func TestCompileRejectsUnsafeInput(t *testing.T) {
	bad := []string{
		"__import__('os')",
		"level.__class__",
		"open('x')",
		"abs(level)",
		"x * 2",
		"level[0]",
		"lambda: 1",
		"[l for l in level]",
		"level; 1",
		"level == 1",
		"",
		"   ",
		"(level",
		"level)",
		"max(level)",
		"int(1, 2)",
		"1level",
		"level *",
		"\"text\"",
	}
	for _, src := range bad {
		t.Run(src, func(t *testing.T) {
			_, err := Compile(src)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Compile(%q) error = %v, want *ValidationError", src, err)
			}
		})
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		src   string
		level int64
		want  int64
	}{
		{"int(level*120+50)", 10, 1250},
		{"level*100", 1, 100},
		{"level*100", 3, 300},
		{"level ** 2 + 50", 4, 66},
		{"-2 ** 2", 0, -4},
		{"2 ** 3 ** 2", 0, 512},
		{"2 ** -1 * 10", 0, 5},
		{"7 // 2", 0, 3},
		{"-7 // 2", 0, -4},
		{"-7 % 3", 0, 2},
		{"7 % -3", 0, -2},
		{"7 / 2 * 2", 0, 7},
		{"round(2.5)", 0, 2},
		{"round(3.5)", 0, 4},
		{"round(level / 3, 1) * 10", 10, 33},
		{"pow(level, 2)", 12, 144},
		{"pow(3, 4, 5)", 0, 1},
		{"max(level, 50, 10)", 20, 50},
		{"min(level * 10, 500)", 70, 500},
		{"+level - -1", 5, 6},
		{"1.9 * level", 1, 1},
		{"-1.9", 0, -1},
		{"(level + 1) * (level + 2) // 2", 3, 10},
		{"1e2 * level", 2, 200},
	}
	for _, tc := range tests {
		t.Run(tc.src, func(t *testing.T) {
			e, err := Compile(tc.src)
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			got, err := e.Evaluate(tc.level)
			if err != nil {
				t.Fatalf("Evaluate(%d): %v", tc.level, err)
			}
			if got != tc.want {
				t.Errorf("Evaluate(%d) = %d, want %d", tc.level, got, tc.want)
			}
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	tests := []string{
		"100 / (level - 5)",
		"level // 0",
		"level % 0",
		"0 ** -1",
		"(-8) ** 0.5",
		"10 ** 400",
		"pow(2, 3, 0)",
	}
	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			e, err := Compile(src)
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			_, err = e.Evaluate(5)
			var eerr *EvaluationError
			if !errors.As(err, &eerr) {
				t.Fatalf("Evaluate error = %v, want *EvaluationError", err)
			}
			if eerr.Level != 5 {
				t.Errorf("error level = %d, want 5", eerr.Level)
			}
		})
	}
}

func TestIntegerOverflowFallsBackToFloat(t *testing.T) {
	e, err := Compile("level * 9223372036854775807 // 9223372036854775807")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	got, err := e.Evaluate(4)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got != 4 {
		t.Errorf("Evaluate = %d, want 4", got)
	}
}

func TestCache(t *testing.T) {
	c := NewCache()

	a, err := c.Compile("level*120")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	b, err := c.Compile("level*120")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if a != b {
		t.Error("second Compile returned a different *Expr, want cached instance")
	}

	def, err := c.Compile("")
	if err != nil {
		t.Fatalf("Compile default: %v", err)
	}
	if def.Source() != Default {
		t.Errorf("empty source compiled to %q, want %q", def.Source(), Default)
	}

	if _, err := c.Compile("level.__class__"); err == nil {
		t.Fatal("invalid source compiled")
	}
	if got := c.Len(); got != 2 {
		t.Errorf("Len = %d, want 2", got)
	}
}
