package tagger

import (
	"regexp"
	"strings"

	"github.com/snackman/pizza-content-sub000/internal/domain"
)

const DefaultMaxTags = 8

// Rule attaches a tag when its pattern matches the scanned text.
type Rule struct {
	Pattern *regexp.Regexp
	Tag     string
}

// AutoTagger derives a bounded tag set from free text via keyword and
// pattern matching. It never fails; empty input yields just the base tag.
type AutoTagger struct {
	maxTags  int
	keywords []keyword
	rules    []Rule
}

type keyword struct {
	re  *regexp.Regexp
	tag string
}

type Config struct {
	MaxTags  int
	Keywords []string
	Rules    []Rule
}

func New(cfg Config) *AutoTagger {
	if cfg.MaxTags <= 0 {
		cfg.MaxTags = DefaultMaxTags
	}

	t := &AutoTagger{maxTags: cfg.MaxTags}
	t.AddKeywords(cfg.Keywords...)
	t.rules = append(t.rules, cfg.Rules...)
	return t
}

// NewDefault returns a tagger loaded with the stock pizza vocabulary.
func NewDefault() *AutoTagger {
	return New(Config{
		Keywords: []string{
			"pepperoni", "margherita", "mozzarella", "neapolitan",
			"deep dish", "thin crust", "wood fired", "sourdough",
			"cheese pull", "sicilian", "calzone", "focaccia",
		},
		Rules: []Rule{
			{Pattern: regexp.MustCompile(`(?i)home\s*made`), Tag: "homemade"},
			{Pattern: regexp.MustCompile(`(?i)gluten[\s-]?free`), Tag: "gluten-free"},
			{Pattern: regexp.MustCompile(`(?i)ny\s*style|new\s*york\s*style`), Tag: "new-york-style"},
			{Pattern: regexp.MustCompile(`(?i)\b\d+\s*hour\b`), Tag: "slow-proofed"},
		},
	})
}

// AddKeywords registers additional keywords. Each keyword is matched as a
// case-insensitive whole word and contributes its slug form as a tag.
func (t *AutoTagger) AddKeywords(words ...string) {
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(w) + `\b`)
		t.keywords = append(t.keywords, keyword{re: re, tag: slug(w)})
	}
}

// AddRule registers an additional pattern rule.
func (t *AutoTagger) AddRule(pattern, tag string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	t.rules = append(t.rules, Rule{Pattern: re, Tag: tag})
	return nil
}

// Options carry optional context appended as tags after all text matches.
type Options struct {
	Platform string
	Type     string
}

// ExtractTags scans text and returns at most MaxTags tags in insertion
// order: the base tag first, then keyword hits in registration order, then
// pattern hits, then platform and type.
func (t *AutoTagger) ExtractTags(text string, opts Options) []string {
	tags := make([]string, 0, t.maxTags)
	seen := make(map[string]struct{})

	add := func(tag string) {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			return
		}
		if _, dup := seen[tag]; dup {
			return
		}
		if len(tags) >= t.maxTags {
			return
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}

	add(domain.DefaultTag)

	if text != "" {
		for _, kw := range t.keywords {
			if kw.re.MatchString(text) {
				add(kw.tag)
			}
		}
		for _, rule := range t.rules {
			if rule.Pattern.MatchString(text) {
				add(rule.Tag)
			}
		}
	}

	add(opts.Platform)
	add(opts.Type)

	return tags
}

// ExtractFromContent concatenates the draft's text fields and delegates to
// ExtractTags with the draft's platform and type.
func (t *AutoTagger) ExtractFromContent(d *domain.ContentDraft) []string {
	parts := make([]string, 0, 2)
	if d.Title != "" {
		parts = append(parts, d.Title)
	}
	if d.Description != "" {
		parts = append(parts, d.Description)
	}

	return t.ExtractTags(strings.Join(parts, " "), Options{
		Platform: d.SourcePlatform,
		Type:     d.Type,
	})
}

// MergeTags unions existing and generated tags, case-normalized, keeping
// existing order first and capping at MaxTags.
func (t *AutoTagger) MergeTags(existing, generated []string) []string {
	merged := make([]string, 0, t.maxTags)
	seen := make(map[string]struct{})

	for _, group := range [][]string{existing, generated} {
		for _, tag := range group {
			tag = strings.ToLower(strings.TrimSpace(tag))
			if tag == "" {
				continue
			}
			if _, dup := seen[tag]; dup {
				continue
			}
			if len(merged) >= t.maxTags {
				return merged
			}
			seen[tag] = struct{}{}
			merged = append(merged, tag)
		}
	}
	return merged
}

func slug(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), "-"))
}
