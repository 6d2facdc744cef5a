package notify

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Message is a rendered notification.
type Message struct {
	Subject string
	Body    string
}

const (
	LangZH = "zh"
	LangEN = "en"

	UnitMinute = "minute"
	UnitHour   = "hour"
	UnitDay    = "day"
)

var templates = map[string]*template.Template{
	LangZH: template.Must(template.ParseFS(templateFS, "templates/alert_zh.tmpl")),
	LangEN: template.Must(template.ParseFS(templateFS, "templates/alert_en.tmpl")),
}

var unitLabels = map[string]map[string][2]string{
	LangZH: {
		UnitMinute: {"分钟", "分钟"},
		UnitHour:   {"小时", "小时"},
		UnitDay:    {"天", "天"},
	},
	LangEN: {
		UnitMinute: {"minute", "minutes"},
		UnitHour:   {"hour", "hours"},
		UnitDay:    {"day", "days"},
	},
}

type alertData struct {
	Name   string
	Missed int64
	Unit   string
}

// NormalizeLanguage maps anything other than "en" onto the default language.
func NormalizeLanguage(lang string) string {
	if lang == LangEN {
		return LangEN
	}
	return LangZH
}

// UnitLabel returns the localized label for unit, pluralized for count in English.
func UnitLabel(lang, unit string, count int64) string {
	labels, ok := unitLabels[NormalizeLanguage(lang)][unit]
	if !ok {
		labels = unitLabels[NormalizeLanguage(lang)][UnitDay]
	}
	if count == 1 {
		return labels[0]
	}
	return labels[1]
}

// Render builds the overdue alert for a subject. The output depends only on its arguments.
func Render(name, lang string, missed int64, unit string) Message {
	lang = NormalizeLanguage(lang)
	data := alertData{Name: name, Missed: missed, Unit: UnitLabel(lang, unit, missed)}
	return Message{
		Subject: execute(lang, "subject", data),
		Body:    execute(lang, "body", data),
	}
}

// RenderConnectivityCheck builds the fixed message sent by a test_to sweep.
func RenderConnectivityCheck(lang string) Message {
	lang = NormalizeLanguage(lang)
	return Message{
		Subject: execute(lang, "check_subject", nil),
		Body:    execute(lang, "check_body", nil),
	}
}

func execute(lang, name string, data any) string {
	var buf bytes.Buffer
	if err := templates[lang].ExecuteTemplate(&buf, name, data); err != nil {
		// templates are embedded and parsed at init, so this is a programming error
		panic(fmt.Sprintf("notify: render %s/%s: %v", lang, name, err))
	}
	return buf.String()
}
