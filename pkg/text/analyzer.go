package text

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kljensen/snowball"
)

// LanguageNone disables stemming and stop word removal
const LanguageNone = "none"

// DefaultLanguage is used when an index or query names no language
const DefaultLanguage = "english"

var supportedLanguages = map[string]bool{
	"english":   true,
	"spanish":   true,
	"french":    true,
	"russian":   true,
	"swedish":   true,
	"norwegian": true,
	"hungarian": true,
}

var tokenSplitter = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// Analyzer handles text tokenization, normalization, and stemming
type Analyzer struct {
	language  string
	stopWords map[string]bool
}

// NewAnalyzer creates an analyzer for a snowball language or "none"
func NewAnalyzer(language string) (*Analyzer, error) {
	if language == "" {
		language = DefaultLanguage
	}
	language = strings.ToLower(language)
	if language != LanguageNone && !supportedLanguages[language] {
		return nil, fmt.Errorf("unsupported text language %q", language)
	}
	return &Analyzer{
		language:  language,
		stopWords: stopWordsFor(language),
	}, nil
}

// Language returns the analyzer language
func (a *Analyzer) Language() string {
	return a.language
}

// Analyze processes text and returns normalized tokens
func (a *Analyzer) Analyze(text string) []string {
	var result []string
	for _, token := range a.tokenize(text) {
		if t, ok := a.normalize(token); ok {
			result = append(result, t)
		}
	}
	return result
}

// normalize applies case folding, stop word filtering and stemming to one
// token. It reports false when the token is dropped.
func (a *Analyzer) normalize(token string) (string, bool) {
	token = strings.ToLower(token)

	if len(token) < 2 {
		return "", false
	}

	if a.stopWords[token] {
		return "", false
	}

	if a.language == LanguageNone {
		return token, true
	}
	stemmed, err := snowball.Stem(token, a.language, true)
	if err != nil || stemmed == "" {
		return token, true
	}
	return stemmed, true
}

func (a *Analyzer) tokenize(text string) []string {
	parts := tokenSplitter.Split(text, -1)

	tokens := make([]string, 0, len(parts))
	for _, part := range parts {
		if len(part) > 0 {
			tokens = append(tokens, part)
		}
	}

	return tokens
}

func stopWordsFor(language string) map[string]bool {
	var words []string
	switch language {
	case "english":
		words = englishStopWords
	case "spanish":
		words = spanishStopWords
	case "french":
		words = frenchStopWords
	}

	stopWords := make(map[string]bool, len(words))
	for _, word := range words {
		stopWords[word] = true
	}
	return stopWords
}

var englishStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by",
	"for", "if", "in", "into", "is", "it", "no", "not", "of",
	"on", "or", "such", "that", "the", "their", "then", "there",
	"these", "they", "this", "to", "was", "will", "with",
	"i", "you", "he", "she", "we", "me", "him", "her",
	"us", "them", "what", "which", "who", "when", "where", "why",
	"how", "all", "each", "every", "both", "few", "more", "most",
	"other", "some", "can", "could", "may", "might", "must",
	"shall", "should", "would", "am", "been", "being", "have",
	"has", "had", "do", "does", "did", "doing",
}

var spanishStopWords = []string{
	"de", "la", "que", "el", "en", "y", "a", "los", "del", "se", "las",
	"por", "un", "para", "con", "no", "una", "su", "al", "lo", "como",
	"más", "pero", "sus", "le", "ya", "o", "este", "sí", "porque", "esta",
	"entre", "cuando", "muy", "sin", "sobre", "también", "me", "hasta",
	"hay", "donde", "quien", "desde", "todo", "nos", "durante", "es",
}

var frenchStopWords = []string{
	"au", "aux", "avec", "ce", "ces", "dans", "de", "des", "du", "elle",
	"en", "et", "eux", "il", "je", "la", "le", "les", "leur", "lui", "ma",
	"mais", "me", "même", "mes", "moi", "mon", "ne", "nos", "notre", "nous",
	"on", "ou", "par", "pas", "pour", "qu", "que", "qui", "sa", "se", "ses",
	"son", "sur", "ta", "te", "tes", "toi", "ton", "tu", "un", "une", "vos",
	"votre", "vous", "est",
}
