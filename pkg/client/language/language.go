// Package language holds the client's language catalog: display names,
// spoken confirmations, switch-intent detection and voice selection.
package language

import (
	"regexp"
	"sort"
	"strings"
)

const Default = "en-US"

type Language struct {
	Tag          string
	Name         string
	Announcement string
	// VoiceHints are matched against voice names when no voice carries
	// the language tag.
	VoiceHints []string
}

var catalog = map[string]Language{
	"en-US": {Tag: "en-US", Name: "English", Announcement: "Now I'll speak in English. How can I help you today?", VoiceHints: []string{"English"}},
	"en-IN": {Tag: "en-IN", Name: "English (India)", Announcement: "Now I'll speak in English (India). How can I help you today?", VoiceHints: []string{"English"}},
	"hi-IN": {Tag: "hi-IN", Name: "हिंदी (Hindi)", Announcement: "अब मैं हिंदी में बात करूंगा। मैं आपकी कैसे मदद कर सकता हूं?", VoiceHints: []string{"Hindi", "हिंदी"}},
	"ta-IN": {Tag: "ta-IN", Name: "தமிழ் (Tamil)", Announcement: "இப்போது நான் தமிழில் பேசுவேன். நான் உங்களுக்கு எப்படி உதவ முடியும்?", VoiceHints: []string{"Tamil", "தமிழ்"}},
	"te-IN": {Tag: "te-IN", Name: "తెలుగు (Telugu)", Announcement: "ఇప్పుడు నేను తెలుగులో మాట్లాడతాను. నేను మీకు ఎలా సహాయం చేయగలను?", VoiceHints: []string{"Telugu", "తెలుగు"}},
	"kn-IN": {Tag: "kn-IN", Name: "ಕನ್ನಡ (Kannada)", Announcement: "ಈಗ ನಾನು ಕನ್ನಡದಲ್ಲಿ ಮಾತನಾಡುತ್ತೇನೆ. ನಾನು ನಿಮಗೆ ಹೇಗೆ ಸಹಾಯ ಮಾಡಬಹುದು?", VoiceHints: []string{"Kannada", "ಕನ್ನಡ"}},
	"ml-IN": {Tag: "ml-IN", Name: "മലയാളം (Malayalam)", Announcement: "ഇപ്പോൾ ഞാൻ മലയാളത്തിൽ സംസാരിക്കും. എനിക്ക് നിങ്ങളെ എങ്ങനെ സഹായിക്കാം?", VoiceHints: []string{"Malayalam", "മലയാളം"}},
	"mr-IN": {Tag: "mr-IN", Name: "मराठी (Marathi)", Announcement: "आता मी मराठीत बोलेन. मी तुमची कशी मदत करू शकतो?", VoiceHints: []string{"Marathi", "मराठी"}},
	"gu-IN": {Tag: "gu-IN", Name: "ગુજરાતી (Gujarati)", Announcement: "હવે હું ગુજરાતીમાં વાત કરીશ. હું તમને કેવી રીતે મદદ કરી શકું?", VoiceHints: []string{"Gujarati", "ગુજરાતી"}},
	"bn-IN": {Tag: "bn-IN", Name: "বাংলা (Bengali)", Announcement: "এখন আমি বাংলায় কথা বলব। আমি আপনাকে কীভাবে সাহায্য করতে পারি?", VoiceHints: []string{"Bengali", "বাংলা"}},
	"pa-IN": {Tag: "pa-IN", Name: "ਪੰਜਾਬੀ (Punjabi)", Announcement: "ਹੁਣ ਮੈਂ ਪੰਜਾਬੀ ਵਿੱਚ ਬੋਲਾਂਗਾ। ਮੈਂ ਤੁਹਾਡੀ ਕਿਵੇਂ ਮਦਦ ਕਰ ਸਕਦਾ ਹਾਂ?", VoiceHints: []string{"Punjabi", "ਪੰਜਾਬੀ"}},
}

func Lookup(tag string) (Language, bool) {
	l, ok := catalog[tag]
	return l, ok
}

// Tags lists every catalog tag in sorted order.
func Tags() []string {
	tags := make([]string, 0, len(catalog))
	for tag := range catalog {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// DisplayName returns the catalog name for tag, or tag itself.
func DisplayName(tag string) string {
	if l, ok := catalog[tag]; ok {
		return l.Name
	}
	return tag
}

func Announcement(tag string) string {
	if l, ok := catalog[tag]; ok && l.Announcement != "" {
		return l.Announcement
	}
	return "Now speaking in " + DisplayName(tag) + ". How can I help you?"
}

// Primary returns the primary subtag, lowercased ("hi-IN" -> "hi").
func Primary(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		return tag[:i]
	}
	return tag
}

func hintsFor(primary string) []string {
	for _, l := range catalog {
		if Primary(l.Tag) == primary && len(l.VoiceHints) > 0 {
			return l.VoiceHints
		}
	}
	return nil
}

var englishKeywords = []string{
	"english", "ingles", "angrezi", "अंग्रेज़ी", "अंग्रेजी", "انگریزی",
	"ஆங்கிலம்", "ఇంగ్లీష్", "ಇಂಗ್ಲಿಷ್", "ഇംഗ്ലീഷ്", "इंग्लिश",
}

type switchCommands struct {
	tag      string
	commands []string
}

// Ordered; the first list with a match wins.
var switchTable = []switchCommands{
	{tag: "hi-IN", commands: []string{
		"hindi", "speak in hindi", "switch to hindi", "change to hindi",
		"use hindi", "talk in hindi", "hindi please", "in hindi",
		"हिंदी", "हिंदी में बोलो", "हिंदी में बात करो", "हिंदी में",
	}},
	{tag: "ta-IN", commands: []string{
		"tamil", "speak in tamil", "switch to tamil", "change to tamil",
		"use tamil", "talk in tamil", "tamil please", "in tamil",
		"தமிழ்", "தமிழில் பேசு", "தமிழுக்கு மாறு", "தமிழில்",
	}},
	{tag: "te-IN", commands: []string{
		"telugu", "speak in telugu", "switch to telugu", "change to telugu",
		"use telugu", "talk in telugu", "telugu please", "in telugu",
		"తెలుగు", "తెలుగులో మాట్లాడు", "తెలుగుకి మారు", "తెలుగులో",
	}},
	{tag: "kn-IN", commands: []string{
		"kannada", "speak in kannada", "switch to kannada", "change to kannada",
		"use kannada", "talk in kannada", "kannada please", "in kannada",
		"ಕನ್ನಡ", "ಕನ್ನಡದಲ್ಲಿ ಮಾತನಾಡು", "ಕನ್ನಡಕ್ಕೆ ಬದಲಿಸಿ", "ಕನ್ನಡದಲ್ಲಿ",
	}},
	{tag: "ml-IN", commands: []string{
		"malayalam", "speak in malayalam", "switch to malayalam", "change to malayalam",
		"use malayalam", "talk in malayalam", "malayalam please", "in malayalam",
		"മലയാളം", "മലയാളത്തിൽ സംസാരിക്കുക", "മലയാളത്തിലേക്ക് മാറുക", "മലയാളത്തിൽ",
	}},
}

// Detect reports whether text asks to switch language, and to which tag.
// Matching is case-insensitive substring containment, so "in hindi" inside
// a longer question also switches.
func Detect(text string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return "", false
	}
	for _, kw := range englishKeywords {
		if strings.Contains(lower, kw) {
			return "en-US", true
		}
	}
	for _, entry := range switchTable {
		for _, cmd := range entry.commands {
			if strings.Contains(lower, cmd) {
				return entry.tag, true
			}
		}
	}
	return "", false
}

type Voice struct {
	Name string
	Lang string
}

var femaleRe = regexp.MustCompile(`(?i)female`)

// PickVoice chooses a voice for tag: exact tag match, then primary subtag
// prefix, then name hints. Within a candidate set a "female" voice wins.
// With no candidates it falls back to the first English voice and then to
// the first voice. ok is false only when voices is empty.
func PickVoice(voices []Voice, tag string) (Voice, bool) {
	if len(voices) == 0 {
		return Voice{}, false
	}
	want := strings.ToLower(tag)
	prefix := Primary(tag)

	candidates := filterVoices(voices, func(v Voice) bool { return strings.ToLower(v.Lang) == want })
	if len(candidates) == 0 && prefix != "" {
		candidates = filterVoices(voices, func(v Voice) bool { return strings.HasPrefix(strings.ToLower(v.Lang), prefix) })
	}
	if len(candidates) == 0 {
		if hints := hintsFor(prefix); len(hints) > 0 {
			candidates = filterVoices(voices, func(v Voice) bool {
				hay := strings.ToLower(v.Name + " " + v.Lang)
				for _, h := range hints {
					if strings.Contains(hay, strings.ToLower(h)) {
						return true
					}
				}
				return false
			})
		}
	}

	if len(candidates) > 0 {
		for _, v := range candidates {
			if femaleRe.MatchString(v.Name) {
				return v, true
			}
		}
		return candidates[0], true
	}

	for _, v := range voices {
		if strings.HasPrefix(strings.ToLower(v.Lang), "en") {
			return v, true
		}
	}
	return voices[0], true
}

func filterVoices(voices []Voice, keep func(Voice) bool) []Voice {
	var out []Voice
	for _, v := range voices {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}
