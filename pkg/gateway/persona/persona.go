// Package persona builds the system instruction that pins the assistant's
// identity and topic, localized to a session language.
package persona

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultBase = `You are Rev, the voice assistant for Revolt Motors.
You are knowledgeable about Revolt Motors' electric motorcycles, including models like RV400, RV1, and RV1+.
Only discuss topics related to Revolt Motors, their products, features, specifications, pricing, and services.
If asked about unrelated topics, politely redirect the conversation back to Revolt Motors.
Keep responses concise and conversational.`

// Language names a response language. Native is the endonym shown next
// to the English name in the directive; it may be empty.
type Language struct {
	Name   string `yaml:"name"`
	Native string `yaml:"native"`
}

// Catalog maps primary language subtags ("hi", "ta") to response
// languages. Tags without an entry get Fallback.
type Catalog struct {
	Base      string              `yaml:"base"`
	Fallback  Language            `yaml:"fallback"`
	Languages map[string]Language `yaml:"languages"`
}

func Default() *Catalog {
	return &Catalog{
		Base:     defaultBase,
		Fallback: Language{Name: "English"},
		Languages: map[string]Language{
			"en": {Name: "English"},
			"hi": {Name: "Hindi", Native: "हिंदी"},
			"ta": {Name: "Tamil", Native: "தமிழ்"},
			"te": {Name: "Telugu", Native: "తెలుగు"},
			"kn": {Name: "Kannada", Native: "ಕನ್ನಡ"},
			"ml": {Name: "Malayalam", Native: "മലയാളം"},
			"mr": {Name: "Marathi", Native: "मराठी"},
			"gu": {Name: "Gujarati", Native: "ગુજરાતી"},
			"bn": {Name: "Bengali", Native: "বাংলা"},
			"pa": {Name: "Punjabi", Native: "ਪੰਜਾਬੀ"},
		},
	}
}

// Load reads a YAML catalog and layers it over Default. Empty fields in
// the file keep the built-in values.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}
	var file Catalog
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse persona file %s: %w", path, err)
	}

	cat := Default()
	if base := strings.TrimSpace(file.Base); base != "" {
		cat.Base = base
	}
	if strings.TrimSpace(file.Fallback.Name) != "" {
		cat.Fallback = file.Fallback
	}
	for tag, lang := range file.Languages {
		tag = primarySubtag(tag)
		if tag == "" || strings.TrimSpace(lang.Name) == "" {
			return nil, fmt.Errorf("parse persona file %s: language %q needs a name", path, tag)
		}
		cat.Languages[tag] = lang
	}
	return cat, nil
}

// SystemInstruction returns the persona text followed by a directive to
// answer only in the language of tag ("hi-IN", "ta", "en-US").
func (c *Catalog) SystemInstruction(tag string) string {
	lang, ok := c.Languages[primarySubtag(tag)]
	if !ok {
		lang = c.Fallback
	}
	return c.Base + " " + directive(lang)
}

// Supported lists the primary subtags with a dedicated directive.
func (c *Catalog) Supported() []string {
	out := make([]string, 0, len(c.Languages))
	for tag := range c.Languages {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func directive(lang Language) string {
	if strings.TrimSpace(lang.Native) == "" {
		return fmt.Sprintf("You must respond in %s language only.", lang.Name)
	}
	return fmt.Sprintf("You must respond in %s (%s) language only.", lang.Name, lang.Native)
}

func primarySubtag(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return tag
}
