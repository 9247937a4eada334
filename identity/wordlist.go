package identity

// wordlist is a 2048-entry BIP-39-shaped word list. Correctness of
// seed derivation never depends on its content, only on entropy and
// checksum round-tripping through the same list (spec's Open
// Question on wordlist completeness); this placeholder list is
// generated deterministically so the module needs no external asset.
// A deployment that needs interoperability with other BIP-39 tooling
// should swap this for the canonical English list.
var wordlist = buildWordlist()

var wordlistSyllables = [...]string{
	"ba", "be", "bi", "bo", "bu", "ca", "ce", "ci", "co", "cu",
	"da", "de", "di", "do", "du", "fa", "fe", "fi", "fo", "fu",
	"ga", "ge", "gi", "go", "gu", "ha", "he", "hi", "ho", "hu",
	"ja", "je", "ji", "jo", "ju", "ka", "ke", "ki", "ko", "ku",
	"la", "le", "li", "lo", "lu", "ma", "me", "mi", "mo", "mu",
	"na", "ne", "ni", "no", "nu", "pa", "pe", "pi", "po", "pu",
	"ra", "re", "ri", "ro", "ru", "sa", "se", "si", "so", "su",
	"ta", "te", "ti", "to", "tu", "va", "ve", "vi", "vo", "vu",
	"wa", "we", "wi", "wo", "wu", "ya", "ye", "yi", "yo", "yu",
	"za", "ze", "zi", "zo", "zu",
}

// buildWordlist deterministically enumerates 2048 distinct
// three-syllable strings from wordlistSyllables.
func buildWordlist() []string {
	n := len(wordlistSyllables)
	words := make([]string, 0, 2048)
	for i := 0; i < n && len(words) < 2048; i++ {
		for j := 0; j < n && len(words) < 2048; j++ {
			k := (i*31 + j*7) % n
			words = append(words, wordlistSyllables[i]+wordlistSyllables[j]+wordlistSyllables[k])
		}
	}
	return words[:2048]
}

// wordIndex returns the index of w in the word list, or -1.
func wordIndex(w string) int {
	for i, candidate := range wordlist {
		if candidate == w {
			return i
		}
	}
	return -1
}
