package profile

import "github.com/kalambet/signex/internal/planner"

// Profile is the user identity shared by all watches, parsed from
// profile/identity.md.
type Profile struct {
	Role   string
	Domain string
	// ReportLanguage is the raw "Report language" value, e.g. "Chinese".
	ReportLanguage string
	Focus          string
	// Raw is the full identity document.
	Raw string
}

// Language maps ReportLanguage to "zh" or "en". It returns "" when no
// usable preference is set.
func (p Profile) Language() string {
	return parseLanguage(p.ReportLanguage)
}

// LanguageOr resolves the output language: the profile preference wins,
// then CJK in fallback text selects "zh", otherwise "en".
func (p Profile) LanguageOr(fallback string) string {
	if lang := p.Language(); lang != "" {
		return lang
	}
	if planner.HasCJK(fallback) {
		return "zh"
	}
	return "en"
}
