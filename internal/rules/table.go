package rules

import "regexp"

// ingVerbs is the closed list of -ing continuations after which "your" is
// read as "you're". Kept verbatim, duplicates included; it is a heuristic and
// is not meant to be complete.
const ingVerbs = `going|coming|doing|trying|working|studying|learning|teaching|playing|running|` +
	`walking|talking|thinking|feeling|looking|waiting|standing|sitting|lying|sleeping|waking|` +
	`eating|drinking|reading|writing|speaking|listening|watching|seeing|hearing|smelling|` +
	`tasting|touching|moving|staying|leaving|arriving|starting|finishing|beginning|ending|` +
	`stopping|continuing|changing|growing|developing|improving|getting|becoming|seeming|` +
	`appearing|remaining|staying|keeping|holding|carrying|bringing|taking|giving|sending|` +
	`receiving|buying|selling|paying|spending|saving|earning|losing|winning|failing|` +
	`succeeding|passing|failing|breaking|fixing|building|creating|making|doing|having|being`

// substitutions is the builtin substitution stage. Only the pronoun and
// "your" patterns are anchored on word boundaries; contraction, grammar and
// spelling patterns match inside longer words too.
var substitutions = []Rule{
	// Pronoun capitalisation, whole words only.
	sub("pronoun-i-am", `\bi am\b`, "I am"),
	sub("pronoun-i-ve", `\bi've\b`, "I've"),
	sub("pronoun-i-ll", `\bi'll\b`, "I'll"),
	sub("pronoun-i-d", `\bi'd\b`, "I'd"),
	sub("pronoun-i", `\bi\b`, "I"),

	// Contractions.
	sub("contraction-dont", `dont`, "don't"),
	sub("contraction-cant", `cant`, "can't"),
	sub("contraction-wont", `wont`, "won't"),
	sub("contraction-aint", `aint`, "ain't"),
	sub("contraction-didnt", `didnt`, "didn't"),
	sub("contraction-isnt", `isnt`, "isn't"),
	sub("contraction-wouldnt", `wouldnt`, "wouldn't"),
	sub("contraction-couldnt", `couldnt`, "couldn't"),
	sub("contraction-shouldnt", `shouldnt`, "shouldn't"),

	// Grammar.
	sub("grammar-its-a", `its a`, "it's a"),
	sub("grammar-there-is", `there is`, "there is"),
	sub("grammar-their-is", `their is`, "there is"),
	sub("grammar-theyre-is", `they're is`, "there is"),

	// "your" → "you're", only before a recognised continuation.
	sub("your-ing-verb", `\byour\s+(`+ingVerbs+`)\b`, "you're ${1}"),
	sub("your-article", `\byour\s+(a|an|the)(\s+[a-z]+)\b`, "you're ${1}${2}"),
	sub("your-negation", `\byour\s+(not|n't)\b`, "you're ${1}"),
	sub("your-going-to", `\byour\s+(going to|gonna)\b`, "you're ${1}"),
	sub("your-modal", `\byour\s+(able to|gonna|wanna|gotta)\b`, "you're ${1}"),

	// Spelling.
	sub("spelling-loose", `loose`, "lose"),
	sub("spelling-definately", `definately`, "definitely"),
	sub("spelling-alot", `alot`, "a lot"),
	sub("spelling-seperate", `seperate`, "separate"),
	sub("spelling-recieve", `recieve`, "receive"),
	sub("spelling-untill", `untill`, "until"),
}

// normalization holds the case-sensitive stages that follow the
// substitutions.
var normalization = []Rule{
	{
		Name:        "collapse-whitespace",
		Stage:       StageWhitespace,
		Pattern:     regexp.MustCompile(`\s{2,}`),
		Replacement: " ",
	},
	{
		Name:        "space-before-punctuation",
		Stage:       StageWhitespace,
		Pattern:     regexp.MustCompile(`\s+([.,!?])`),
		Replacement: "${1}",
	},
	{
		Name:        "split-joined-words",
		Stage:       StageWordSplit,
		Pattern:     regexp.MustCompile(`([a-z])([A-Z])`),
		Replacement: "${1} ${2}",
	},
	{
		Name:        "article-an",
		Stage:       StageArticle,
		Pattern:     regexp.MustCompile(`\b(a)\s+([aeiouAEIOU])`),
		Replacement: "an ${2}",
	},
}

func sub(name, pattern, replacement string) Rule {
	return Rule{
		Name:        name,
		Stage:       StageSubstitution,
		Pattern:     regexp.MustCompile("(?i)" + pattern),
		Replacement: replacement,
	}
}
