package localmodel

import (
	"strings"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenize splits text into word tokens for the BoW variant. No Jieba port
// exists anywhere in the retrieved pack, so each CJK character is emitted
// as a token together with the bigram it forms with the next CJK character
// (a standard, dependency-free approximation of Chinese word segmentation)
// while Latin-script runs split on whitespace/punctuation,
// matching spec.md §4.3 "Jieba word tokens plus character 2- and 3-grams".
func Tokenize(text string) []string {
	var tokens []string

	var latin strings.Builder

	flushLatin := func() {
		if latin.Len() > 0 {
			tokens = append(tokens, strings.ToLower(latin.String()))
			latin.Reset()
		}
	}

	runes := []rune(text)
	for i, r := range runes {
		switch {
		case unicode.Is(unicode.Han, r):
			flushLatin()

			tokens = append(tokens, string(r))

			if i+1 < len(runes) && unicode.Is(unicode.Han, runes[i+1]) {
				tokens = append(tokens, string(runes[i:i+2]))
			}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			latin.WriteRune(r)
		default:
			flushLatin()
		}
	}

	flushLatin()

	return tokens
}

// CharNGrams returns overlapping character n-grams of text for n in
// [minN, maxN], the feature basis for both BoW's 2/3-gram augmentation and
// HashLinear's hashed n-gram vectorizer (spec.md §4.3).
func CharNGrams(text string, minN, maxN int) []string {
	runes := []rune(strings.ToLower(text))

	var grams []string

	for n := minN; n <= maxN; n++ {
		if n <= 0 || n > len(runes) {
			continue
		}

		for i := 0; i+n <= len(runes); i++ {
			grams = append(grams, string(runes[i:i+n]))
		}
	}

	return grams
}

var tiktokenEncoding *tiktoken.Tiktoken

// TiktokenTokens tokenizes text with the cl100k_base BPE encoding. Falls
// back to Tokenize on any encoder init failure. Nothing in this module
// calls it; fastText prediction input goes through Tokenize only.
func TiktokenTokens(text string) []string {
	if tiktokenEncoding == nil {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return Tokenize(text)
		}

		tiktokenEncoding = enc
	}

	ids := tiktokenEncoding.Encode(text, nil, nil)

	tokens := make([]string, 0, len(ids))
	for _, id := range ids {
		tokens = append(tokens, tiktokenEncoding.Decode([]int{id}))
	}

	return tokens
}
