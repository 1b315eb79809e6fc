// Package command builds the shell invocation that runs a submission inside a sandbox.
package command

import (
	"errors"
	"strings"

	"ownide/internal/sandbox/model"
	appErr "ownide/pkg/errors"
)

const (
	// EnvCode carries the source text into the container.
	EnvCode = "CODE"
	// EnvInputData carries the optional input text into the container.
	EnvInputData = "INPUT_DATA"
	// InputFile is where input data is materialised in the working directory.
	InputFile = "input.txt"
)

// ErrUnsupportedLanguage is returned for languages without a synthesis rule.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Command is an argv plus the environment it needs.
type Command struct {
	Argv []string
	Env  []string
}

type rule struct {
	sourceFile string
	compile    string
	run        string
}

var rules = map[model.Language]rule{
	model.LanguagePython:     {sourceFile: "main.py", run: "python3 main.py"},
	model.LanguageJavaScript: {sourceFile: "main.js", run: "node main.js"},
	model.LanguageJava:       {sourceFile: "Main.java", compile: "javac Main.java", run: "java Main"},
	model.LanguageCPP:        {sourceFile: "main.cpp", compile: "g++ -o main main.cpp", run: "./main"},
}

// IsSupported reports whether a synthesis rule exists for lang.
func IsSupported(lang model.Language) bool {
	_, ok := rules[lang]
	return ok
}

// SupportedLanguages returns the languages with a synthesis rule.
func SupportedLanguages() []model.Language {
	out := make([]model.Language, 0, len(rules))
	for _, lang := range model.Languages {
		if IsSupported(lang) {
			out = append(out, lang)
		}
	}
	return out
}

// Synthesize returns the command that writes code (and input) to files and runs it.
// Code and input only ever travel as environment values; the script text is fixed
// per language and never contains caller data.
func Synthesize(lang model.Language, code string, inputData *string) (Command, error) {
	r, ok := rules[lang]
	if !ok {
		return Command{}, appErr.Wrapf(ErrUnsupportedLanguage, appErr.LanguageNotSupported, "unsupported language: %s", lang)
	}

	steps := make([]string, 0, 4)
	env := []string{EnvCode + "=" + code}
	run := r.run
	if inputData != nil {
		steps = append(steps, `printf "%s" "$`+EnvInputData+`" > `+InputFile)
		env = append(env, EnvInputData+"="+*inputData)
		run += " < " + InputFile
	}
	steps = append(steps, `printf "%s" "$`+EnvCode+`" > `+r.sourceFile)
	if r.compile != "" {
		steps = append(steps, r.compile)
	}
	steps = append(steps, run)

	return Command{
		Argv: []string{"sh", "-c", strings.Join(steps, " && ")},
		Env:  env,
	}, nil
}
