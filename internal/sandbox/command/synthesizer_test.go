package command_test

import (
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"

	"ownide/internal/sandbox/command"
	"ownide/internal/sandbox/model"
	appErr "ownide/pkg/errors"
)

func TestSynthesizePerLanguage(t *testing.T) {
	tests := []struct {
		lang   model.Language
		script string
	}{
		{model.LanguagePython, `printf "%s" "$CODE" > main.py && python3 main.py`},
		{model.LanguageJavaScript, `printf "%s" "$CODE" > main.js && node main.js`},
		{model.LanguageJava, `printf "%s" "$CODE" > Main.java && javac Main.java && java Main`},
		{model.LanguageCPP, `printf "%s" "$CODE" > main.cpp && g++ -o main main.cpp && ./main`},
	}
	for _, tt := range tests {
		t.Run(string(tt.lang), func(t *testing.T) {
			cmd, err := command.Synthesize(tt.lang, "print(1)", nil)
			if err != nil {
				t.Fatalf("synthesize: %v", err)
			}
			if len(cmd.Argv) != 3 || cmd.Argv[0] != "sh" || cmd.Argv[1] != "-c" {
				t.Fatalf("unexpected argv: %v", cmd.Argv)
			}
			if cmd.Argv[2] != tt.script {
				t.Fatalf("script = %q, want %q", cmd.Argv[2], tt.script)
			}
			if len(cmd.Env) != 1 || cmd.Env[0] != "CODE=print(1)" {
				t.Fatalf("unexpected env: %v", cmd.Env)
			}
		})
	}
}

func TestSynthesizeWithInput(t *testing.T) {
	input := "1 2\n"
	cmd, err := command.Synthesize(model.LanguagePython, "x", &input)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	want := `printf "%s" "$INPUT_DATA" > input.txt && printf "%s" "$CODE" > main.py && python3 main.py < input.txt`
	if cmd.Argv[2] != want {
		t.Fatalf("script = %q, want %q", cmd.Argv[2], want)
	}
	if len(cmd.Env) != 2 || cmd.Env[1] != "INPUT_DATA=1 2\n" {
		t.Fatalf("unexpected env: %v", cmd.Env)
	}
}

func TestSynthesizeUnsupportedLanguage(t *testing.T) {
	_, err := command.Synthesize(model.Language("cobol"), "x", nil)
	if !errors.Is(err, command.ErrUnsupportedLanguage) {
		t.Fatalf("expected ErrUnsupportedLanguage, got %v", err)
	}
	if !appErr.Is(err, appErr.LanguageNotSupported) {
		t.Fatalf("expected LanguageNotSupported code, got %v", appErr.GetCode(err))
	}
}

func TestScriptNeverContainsPayload(t *testing.T) {
	payload := "\"; rm -rf / `id` $(whoami)\n"
	for _, lang := range command.SupportedLanguages() {
		cmd, err := command.Synthesize(lang, payload, &payload)
		if err != nil {
			t.Fatalf("synthesize %s: %v", lang, err)
		}
		if strings.Contains(cmd.Argv[2], "rm -rf") || strings.Contains(cmd.Argv[2], "whoami") {
			t.Fatalf("%s script leaked payload: %q", lang, cmd.Argv[2])
		}
	}
}

// The synthesized write steps run under a real shell and must reproduce the
// payload byte for byte.
func TestInjectionRoundTripThroughShell(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	payload := "say \"hi\"; echo pwned `id` $(whoami) $HOME\nline2 %s %d\\n"
	cmd, err := command.Synthesize(model.LanguagePython, payload, &payload)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	// Swap the interpreter for cat so the round trip needs no python.
	script := strings.Replace(cmd.Argv[2], "python3 main.py < input.txt", "cat main.py input.txt", 1)

	dir := t.TempDir()
	run := exec.Command(cmd.Argv[0], cmd.Argv[1], script)
	run.Dir = dir
	run.Env = append(cmd.Env, "PATH="+os.Getenv("PATH"))
	out, err := run.Output()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if string(out) != payload+payload {
		t.Fatalf("round trip mismatch:\n got %q\nwant %q", out, payload+payload)
	}
}
