// Package model defines the sandbox submission data types.
package model

// Language identifies a supported source language.
type Language string

const (
	LanguagePython     Language = "python"
	LanguageJavaScript Language = "javascript"
	LanguageJava       Language = "java"
	LanguageCPP        Language = "cpp"
)

// Languages lists every supported language in a stable order.
var Languages = []Language{LanguagePython, LanguageJavaScript, LanguageJava, LanguageCPP}

// Valid reports whether l is one of the supported languages.
func (l Language) Valid() bool {
	switch l {
	case LanguagePython, LanguageJavaScript, LanguageJava, LanguageCPP:
		return true
	}
	return false
}
